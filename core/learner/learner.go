// Package learner records completed retrievals and distills them into the
// memory graph. The interaction log commits synchronously; graph updates
// apply asynchronously so a slow or failing graph write can never block
// retrieval.
package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyper-light/recall/core/domain"
	"github.com/hyper-light/recall/core/graph"
	"github.com/hyper-light/recall/core/resilience"
)

// Config holds the learner's tunables.
type Config struct {
	// TopicTopN is the number of topics extracted per query.
	TopicTopN int

	// QueueSize bounds the async graph-update queue. When the queue is
	// full, updates are dropped with a warning; the interaction log still
	// holds the record, so a graph rebuild recovers them.
	QueueSize int

	// WriteRetries bounds retry of failed graph writes.
	WriteRetries int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{TopicTopN: 5, QueueSize: 256, WriteRetries: 3}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopicTopN <= 0 {
		c.TopicTopN = d.TopicTopN
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WriteRetries <= 0 {
		c.WriteRetries = d.WriteRetries
	}
	return c
}

// Learner owns the interaction log and feeds the memory graph.
type Learner struct {
	log       *Log
	graph     graph.Graph
	extractor TopicExtractor
	config    Config
	logger    *slog.Logger

	queue   chan domain.Interaction
	pending sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// New starts a learner draining graph updates from a bounded queue. Pass a
// nil logger to use slog's default.
func New(log *Log, g graph.Graph, extractor TopicExtractor, config Config, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = FrequencyExtractor{}
	}
	l := &Learner{
		log:       log,
		graph:     g,
		extractor: extractor,
		config:    config.withDefaults(),
		logger:    logger,
		queue:     make(chan domain.Interaction, config.withDefaults().QueueSize),
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// Close stops the background worker after the queue drains.
func (l *Learner) Close() {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
}

// Flush blocks until every enqueued graph update has been applied.
func (l *Learner) Flush() {
	l.pending.Wait()
}

// RecordInteraction logs a completed retrieval and schedules the graph
// update. The log write commits before the update is enqueued: if the
// process dies in between, the graph can be rebuilt from the log. A zero ID
// gets a generated one; the final ID is returned.
func (l *Learner) RecordInteraction(ctx context.Context, in domain.Interaction) (string, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	if err := l.log.Append(ctx, in); err != nil {
		return "", err
	}

	l.pending.Add(1)
	select {
	case l.queue <- in:
	default:
		l.pending.Done()
		l.logger.Warn("graph update queue full, dropping update",
			"interaction_id", in.ID, "persona", in.Persona)
	}
	return in.ID, nil
}

// AttachFeedback stores explicit feedback on a logged interaction.
func (l *Learner) AttachFeedback(ctx context.Context, id string, kind domain.FeedbackKind) error {
	if !kind.Valid() {
		return fmt.Errorf("feedback kind %q: must be positive or negative", kind)
	}
	return l.log.AttachFeedback(ctx, id, kind)
}

// DeleteInteraction removes one interaction from the log and reverses its
// graph contributions.
func (l *Learner) DeleteInteraction(ctx context.Context, id string) error {
	if err := l.log.Delete(ctx, id); err != nil {
		return err
	}
	return l.graph.PruneInteraction(ctx, id)
}

// ExportUser bundles everything the system remembers about a persona.
func (l *Learner) ExportUser(ctx context.Context, persona string) (*domain.ExportBundle, error) {
	interactions, err := l.log.ListByPersona(ctx, persona, 0)
	if err != nil {
		return nil, err
	}
	topics, err := l.graph.GetTopTopics(ctx, persona, 100)
	if err != nil {
		return nil, err
	}
	return &domain.ExportBundle{
		Interactions: interactions,
		Topics:       topics,
		ExportedAt:   time.Now().UTC(),
	}, nil
}

// ClearUser deletes the persona's interactions and graph state.
func (l *Learner) ClearUser(ctx context.Context, persona string) error {
	if err := l.log.DeletePersona(ctx, persona); err != nil {
		return err
	}
	return l.graph.ClearUser(ctx, persona)
}

// Rebuild replays the persona's interaction log into the graph. Updates are
// keyed by interaction ID, so replaying over existing state never
// double-counts.
func (l *Learner) Rebuild(ctx context.Context, persona string) error {
	interactions, err := l.log.ListByPersona(ctx, persona, 0)
	if err != nil {
		return err
	}
	for _, in := range interactions {
		if err := l.apply(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (l *Learner) drain() {
	defer close(l.done)
	for in := range l.queue {
		l.applyWithRetry(in)
		l.pending.Done()
	}
}

func (l *Learner) applyWithRetry(in domain.Interaction) {
	ctx := context.Background()
	var err error
	for attempt := 0; attempt < l.config.WriteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(resilience.Delay(attempt-1, 50*time.Millisecond, time.Second))
		}
		if err = l.apply(ctx, in); err == nil {
			return
		}
	}
	werr := &resilience.GraphWriteError{InteractionID: in.ID, Err: err}
	l.logger.Error("graph update failed, log remains authoritative",
		"interaction_id", in.ID, "persona", in.Persona, "error", werr)
}

// apply distills one interaction into graph updates. Each update carries the
// interaction ID, so partial failure plus retry cannot double-count.
func (l *Learner) apply(ctx context.Context, in domain.Interaction) error {
	for _, topic := range l.extractor.Extract(in.Query, l.config.TopicTopN) {
		if err := l.graph.RecordInterest(ctx, in.Persona, topic, in.Timestamp, in.ID); err != nil {
			return err
		}
	}
	for _, chunkID := range in.RetrievedChunkIDs {
		if err := l.graph.RecordAccess(ctx, in.Persona, chunkID, in.Timestamp, in.LatencyMs, in.ID); err != nil {
			return err
		}
	}
	return nil
}
