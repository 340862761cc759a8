package graph

import (
	"context"
	"sync"
	"time"

	"github.com/hyper-light/recall/core/domain"
)

// MemoryGraph is an in-memory Graph implementation with the same semantics
// as the sqlite store. Suitable for tests and small personas; state is lost
// on restart and can be rebuilt from the interaction log.
type MemoryGraph struct {
	mu     sync.RWMutex
	config Config
	now    func() time.Time

	topics  map[string]*TopicNode
	edges   map[edgeKey]*interestEdge
	access  map[edgeKey]*accessEdge
	applied map[appliedKey]int64
	events  map[string][]eventTopic // interactionID -> interest events
}

// eventTopic is one recorded interest event. The user is kept so ClearUser
// can sweep a persona's events without touching other personas sharing an
// interaction ID.
type eventTopic struct {
	user  string
	topic string
}

type edgeKey struct {
	user   string
	target string
}

type appliedKey struct {
	interactionID string
	kind          string
	user          string
	target        string
}

type interestEdge struct {
	frequency  int64
	confidence float64
	lastQuery  time.Time
}

type accessEdge struct {
	count           int64
	totalDurationMs int64
	lastAccess      time.Time
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph(config Config) *MemoryGraph {
	return &MemoryGraph{
		config:  config.withDefaults(),
		now:     time.Now,
		topics:  make(map[string]*TopicNode),
		edges:   make(map[edgeKey]*interestEdge),
		access:  make(map[edgeKey]*accessEdge),
		applied: make(map[appliedKey]int64),
		events:  make(map[string][]eventTopic),
	}
}

// Close is a no-op for the in-memory graph.
func (g *MemoryGraph) Close() error { return nil }

// UpsertTopic creates the topic or touches its last-seen time.
func (g *MemoryGraph) UpsertTopic(_ context.Context, name string, ts time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertTopicLocked(name, ts)
	return nil
}

func (g *MemoryGraph) upsertTopicLocked(name string, ts time.Time) {
	node, ok := g.topics[name]
	if !ok {
		g.topics[name] = &TopicNode{
			Name:          name,
			InterestLevel: g.config.InitialInterest,
			FirstSeen:     ts,
			LastSeen:      ts,
		}
		return
	}
	if ts.After(node.LastSeen) {
		node.LastSeen = ts
	}
}

// RecordInterest reinforces an interest edge. The whole update applies
// under one lock hold, so readers never observe a topic without its edge.
func (g *MemoryGraph) RecordInterest(_ context.Context, user, topic string, ts time.Time, interactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := appliedKey{interactionID: interactionID, kind: "interest", user: user, target: topic}
	if _, done := g.applied[key]; done {
		return nil
	}
	g.applied[key] = 0

	g.upsertTopicLocked(topic, ts)

	ek := edgeKey{user: user, target: topic}
	edge, ok := g.edges[ek]
	if !ok {
		g.edges[ek] = &interestEdge{frequency: 1, confidence: g.config.InitialConfidence, lastQuery: ts}
	} else {
		edge.frequency++
		edge.confidence = clampConfidence(edge.confidence + g.config.ConfidenceStep)
		if ts.After(edge.lastQuery) {
			edge.lastQuery = ts
		}
	}

	g.events[interactionID] = append(g.events[interactionID], eventTopic{user: user, topic: topic})
	return nil
}

// RecordAccess records a document access, deduped by interaction ID.
func (g *MemoryGraph) RecordAccess(_ context.Context, user, docID string, ts time.Time, durationMs int64, interactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := appliedKey{interactionID: interactionID, kind: "access", user: user, target: docID}
	if _, done := g.applied[key]; done {
		return nil
	}
	g.applied[key] = durationMs

	ek := edgeKey{user: user, target: docID}
	edge, ok := g.access[ek]
	if !ok {
		g.access[ek] = &accessEdge{count: 1, totalDurationMs: durationMs, lastAccess: ts}
	} else {
		edge.count++
		edge.totalDurationMs += durationMs
		if ts.After(edge.lastAccess) {
			edge.lastAccess = ts
		}
	}
	return nil
}

// GetTopTopics returns the user's strongest interests by decayed confidence.
func (g *MemoryGraph) GetTopTopics(_ context.Context, user string, limit int) ([]domain.TopicScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	now := g.now()
	var scores []domain.TopicScore
	for key, edge := range g.edges {
		if key.user != user {
			continue
		}
		category := ""
		if node, ok := g.topics[key.target]; ok {
			category = node.Category
		}
		scores = append(scores, domain.TopicScore{
			Topic:      key.target,
			Category:   category,
			Score:      decayedConfidence(edge.confidence, edge.lastQuery, now, g.config.ConfidenceHalfLifeDays),
			Frequency:  edge.frequency,
			Confidence: edge.confidence,
		})
	}

	sortTopicScores(scores)
	if limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}

// GetRelatedTopics returns topics co-occurring with topic across
// interactions.
func (g *MemoryGraph) GetRelatedTopics(_ context.Context, topic string, limit int) ([]domain.TopicScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	co := make(map[string]int64)
	var maxCo int64
	for _, events := range g.events {
		found := false
		for _, ev := range events {
			if ev.topic == topic {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		for _, ev := range events {
			if ev.topic == topic {
				continue
			}
			co[ev.topic]++
			if co[ev.topic] > maxCo {
				maxCo = co[ev.topic]
			}
		}
	}

	var scores []domain.TopicScore
	for t, count := range co {
		scores = append(scores, domain.TopicScore{
			Topic:     t,
			Score:     float64(count) / float64(maxCo),
			Frequency: count,
		})
	}
	sortTopicScores(scores)
	if limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}

// GetTopic returns a topic node, or ErrTopicNotFound.
func (g *MemoryGraph) GetTopic(_ context.Context, name string) (*TopicNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.topics[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	copied := *node
	return &copied, nil
}

// AccessCounts returns access counts for the user's retrieved documents.
func (g *MemoryGraph) AccessCounts(_ context.Context, user string, docIDs []string) (map[string]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[string]int64, len(docIDs))
	for _, docID := range docIDs {
		if edge, ok := g.access[edgeKey{user: user, target: docID}]; ok {
			counts[docID] = edge.count
		}
	}
	return counts, nil
}

// PruneInteraction reverses one interaction's contributions.
func (g *MemoryGraph) PruneInteraction(_ context.Context, interactionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, durationMs := range g.applied {
		if key.interactionID != interactionID {
			continue
		}
		switch key.kind {
		case "interest":
			g.pruneInterestLocked(key.user, key.target)
		case "access":
			g.pruneAccessLocked(key.user, key.target, durationMs)
		}
		delete(g.applied, key)
	}
	delete(g.events, interactionID)
	return nil
}

func (g *MemoryGraph) pruneInterestLocked(user, topic string) {
	key := edgeKey{user: user, target: topic}
	edge, ok := g.edges[key]
	if !ok {
		return
	}
	edge.frequency--
	edge.confidence = clampConfidence(edge.confidence - g.config.ConfidenceStep)
	if edge.frequency <= 0 {
		delete(g.edges, key)
	}
}

func (g *MemoryGraph) pruneAccessLocked(user, docID string, durationMs int64) {
	key := edgeKey{user: user, target: docID}
	edge, ok := g.access[key]
	if !ok {
		return
	}
	edge.count--
	edge.totalDurationMs -= durationMs
	if edge.count <= 0 {
		delete(g.access, key)
	}
}

// ClearUser removes every edge and event for the user.
func (g *MemoryGraph) ClearUser(_ context.Context, user string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.edges {
		if key.user == user {
			delete(g.edges, key)
		}
	}
	for key := range g.access {
		if key.user == user {
			delete(g.access, key)
		}
	}
	for key := range g.applied {
		if key.user == user {
			delete(g.applied, key)
		}
	}
	for id, events := range g.events {
		kept := events[:0]
		for _, ev := range events {
			if ev.user != user {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(g.events, id)
		} else {
			g.events[id] = kept
		}
	}
	return nil
}
