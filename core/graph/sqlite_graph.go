package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyper-light/recall/core/domain"
)

const graphSchemaSQL = `
CREATE TABLE IF NOT EXISTS topics (
	name           TEXT PRIMARY KEY,
	category       TEXT NOT NULL DEFAULT '',
	interest_level REAL NOT NULL,
	first_seen     INTEGER NOT NULL,
	last_seen      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS interest_edges (
	user       TEXT NOT NULL,
	topic      TEXT NOT NULL,
	frequency  INTEGER NOT NULL,
	confidence REAL NOT NULL,
	last_query INTEGER NOT NULL,
	PRIMARY KEY (user, topic)
);

CREATE TABLE IF NOT EXISTS access_edges (
	user              TEXT NOT NULL,
	doc_id            TEXT NOT NULL,
	access_count      INTEGER NOT NULL,
	total_duration_ms INTEGER NOT NULL,
	last_access       INTEGER NOT NULL,
	PRIMARY KEY (user, doc_id)
);

-- Dedup set for idempotent replay: one row per applied (interaction, kind,
-- user, target) tuple.
CREATE TABLE IF NOT EXISTS applied_updates (
	interaction_id TEXT NOT NULL,
	kind           TEXT NOT NULL,
	user           TEXT NOT NULL,
	target         TEXT NOT NULL,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (interaction_id, kind, user, target)
);
CREATE INDEX IF NOT EXISTS idx_applied_user ON applied_updates(user);

-- Co-occurrence source for related-topic queries.
CREATE TABLE IF NOT EXISTS interest_events (
	interaction_id TEXT NOT NULL,
	user           TEXT NOT NULL,
	topic          TEXT NOT NULL,
	ts             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interest_events_topic ON interest_events(topic);
CREATE INDEX IF NOT EXISTS idx_interest_events_interaction ON interest_events(interaction_id);
`

// SQLiteGraph is the sqlite-backed Graph implementation.
type SQLiteGraph struct {
	db     *sql.DB
	config Config
	now    func() time.Time
}

// OpenSQLite opens (or creates) a graph store at path. Tests should point
// it at a temp-dir file: the database/sql pool gives each connection its
// own ":memory:" database, so in-memory paths do not behave.
func OpenSQLite(path string, config Config) (*SQLiteGraph, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	if _, err := db.Exec(graphSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init graph schema: %w", err)
	}
	return &SQLiteGraph{db: db, config: config.withDefaults(), now: time.Now}, nil
}

// Close closes the underlying database.
func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}

// UpsertTopic creates the topic or touches its last-seen time.
func (g *SQLiteGraph) UpsertTopic(ctx context.Context, name string, ts time.Time) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO topics (name, interest_level, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_seen = MAX(last_seen, excluded.last_seen)`,
		name, g.config.InitialInterest, ts.UnixMilli(), ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert topic %s: %w", name, err)
	}
	return nil
}

// RecordInterest reinforces an interest edge inside a single transaction:
// topic upsert, edge upsert, dedup marker, and co-occurrence event commit
// together or not at all.
func (g *SQLiteGraph) RecordInterest(ctx context.Context, user, topic string, ts time.Time, interactionID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record interest: %w", err)
	}
	defer tx.Rollback()

	applied, err := g.markApplied(ctx, tx, interactionID, "interest", user, topic, 0)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO topics (name, interest_level, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_seen = MAX(last_seen, excluded.last_seen)`,
		topic, g.config.InitialInterest, ts.UnixMilli(), ts.UnixMilli()); err != nil {
		return fmt.Errorf("record interest: upsert topic %s: %w", topic, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO interest_edges (user, topic, frequency, confidence, last_query)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user, topic) DO UPDATE SET
			frequency  = frequency + 1,
			confidence = MIN(1.0, confidence + ?),
			last_query = MAX(last_query, excluded.last_query)`,
		user, topic, g.config.InitialConfidence, ts.UnixMilli(), g.config.ConfidenceStep); err != nil {
		return fmt.Errorf("record interest: upsert edge %s->%s: %w", user, topic, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO interest_events (interaction_id, user, topic, ts) VALUES (?, ?, ?, ?)`,
		interactionID, user, topic, ts.UnixMilli()); err != nil {
		return fmt.Errorf("record interest: event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record interest: %w", err)
	}
	return nil
}

// RecordAccess records a document access, deduped by interaction ID.
func (g *SQLiteGraph) RecordAccess(ctx context.Context, user, docID string, ts time.Time, durationMs int64, interactionID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	defer tx.Rollback()

	applied, err := g.markApplied(ctx, tx, interactionID, "access", user, docID, durationMs)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO access_edges (user, doc_id, access_count, total_duration_ms, last_access)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user, doc_id) DO UPDATE SET
			access_count      = access_count + 1,
			total_duration_ms = total_duration_ms + excluded.total_duration_ms,
			last_access       = MAX(last_access, excluded.last_access)`,
		user, docID, durationMs, ts.UnixMilli()); err != nil {
		return fmt.Errorf("record access: upsert edge %s->%s: %w", user, docID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// markApplied inserts the dedup marker. Returns false when the triple was
// already applied, which makes replay a no-op.
func (g *SQLiteGraph) markApplied(ctx context.Context, tx *sql.Tx, interactionID, kind, user, target string, durationMs int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO applied_updates (interaction_id, kind, user, target, duration_ms)
		VALUES (?, ?, ?, ?, ?)`,
		interactionID, kind, user, target, durationMs)
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	return n > 0, nil
}

// GetTopTopics returns the user's strongest interests by decayed confidence.
func (g *SQLiteGraph) GetTopTopics(ctx context.Context, user string, limit int) ([]domain.TopicScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT e.topic, t.category, e.frequency, e.confidence, e.last_query
		FROM interest_edges e
		JOIN topics t ON t.name = e.topic
		WHERE e.user = ?`, user)
	if err != nil {
		return nil, fmt.Errorf("top topics for %s: %w", user, err)
	}
	defer rows.Close()

	now := g.now()
	var scores []domain.TopicScore
	for rows.Next() {
		var (
			ts        domain.TopicScore
			lastQuery int64
		)
		if err := rows.Scan(&ts.Topic, &ts.Category, &ts.Frequency, &ts.Confidence, &lastQuery); err != nil {
			return nil, fmt.Errorf("top topics for %s: %w", user, err)
		}
		ts.Score = decayedConfidence(ts.Confidence, time.UnixMilli(lastQuery), now, g.config.ConfidenceHalfLifeDays)
		scores = append(scores, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top topics for %s: %w", user, err)
	}

	sortTopicScores(scores)
	if limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}

// GetRelatedTopics returns topics co-occurring with topic across
// interactions, scored by co-occurrence count.
func (g *SQLiteGraph) GetRelatedTopics(ctx context.Context, topic string, limit int) ([]domain.TopicScore, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT other.topic, COUNT(*) AS co
		FROM interest_events src
		JOIN interest_events other
			ON other.interaction_id = src.interaction_id AND other.topic != src.topic
		WHERE src.topic = ?
		GROUP BY other.topic`, topic)
	if err != nil {
		return nil, fmt.Errorf("related topics for %s: %w", topic, err)
	}
	defer rows.Close()

	var (
		scores []domain.TopicScore
		maxCo  int64
	)
	for rows.Next() {
		var ts domain.TopicScore
		if err := rows.Scan(&ts.Topic, &ts.Frequency); err != nil {
			return nil, fmt.Errorf("related topics for %s: %w", topic, err)
		}
		if ts.Frequency > maxCo {
			maxCo = ts.Frequency
		}
		scores = append(scores, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("related topics for %s: %w", topic, err)
	}

	for i := range scores {
		scores[i].Score = float64(scores[i].Frequency) / float64(maxCo)
	}
	sortTopicScores(scores)
	if limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}

// GetTopic returns a topic node, or ErrTopicNotFound.
func (g *SQLiteGraph) GetTopic(ctx context.Context, name string) (*TopicNode, error) {
	var (
		node      TopicNode
		firstSeen int64
		lastSeen  int64
	)
	err := g.db.QueryRowContext(ctx, `
		SELECT name, category, interest_level, first_seen, last_seen FROM topics WHERE name = ?`, name).
		Scan(&node.Name, &node.Category, &node.InterestLevel, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic %s: %w", name, err)
	}
	node.FirstSeen = time.UnixMilli(firstSeen)
	node.LastSeen = time.UnixMilli(lastSeen)
	return &node, nil
}

// AccessCounts returns access counts for the user's retrieved documents.
func (g *SQLiteGraph) AccessCounts(ctx context.Context, user string, docIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(docIDs))
	if len(docIDs) == 0 {
		return counts, nil
	}

	stmt, err := g.db.PrepareContext(ctx, `
		SELECT access_count FROM access_edges WHERE user = ? AND doc_id = ?`)
	if err != nil {
		return nil, fmt.Errorf("access counts for %s: %w", user, err)
	}
	defer stmt.Close()

	for _, docID := range docIDs {
		var count int64
		err := stmt.QueryRowContext(ctx, user, docID).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("access counts for %s: %w", user, err)
		}
		counts[docID] = count
	}
	return counts, nil
}

// PruneInteraction reverses one interaction's contributions: edge counters
// are decremented by exactly what the dedup markers say was applied, and
// edges that reach zero are removed so no orphans remain.
func (g *SQLiteGraph) PruneInteraction(ctx context.Context, interactionID string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT kind, user, target, duration_ms FROM applied_updates WHERE interaction_id = ?`, interactionID)
	if err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}

	type update struct {
		kind, user, target string
		durationMs         int64
	}
	var updates []update
	for rows.Next() {
		var u update
		if err := rows.Scan(&u.kind, &u.user, &u.target, &u.durationMs); err != nil {
			rows.Close()
			return fmt.Errorf("prune interaction %s: %w", interactionID, err)
		}
		updates = append(updates, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}

	for _, u := range updates {
		switch u.kind {
		case "interest":
			if _, err := tx.ExecContext(ctx, `
				UPDATE interest_edges SET
					frequency  = frequency - 1,
					confidence = MAX(0.0, confidence - ?)
				WHERE user = ? AND topic = ?`,
				g.config.ConfidenceStep, u.user, u.target); err != nil {
				return fmt.Errorf("prune interaction %s: %w", interactionID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM interest_edges WHERE user = ? AND topic = ? AND frequency <= 0`,
				u.user, u.target); err != nil {
				return fmt.Errorf("prune interaction %s: %w", interactionID, err)
			}
		case "access":
			if _, err := tx.ExecContext(ctx, `
				UPDATE access_edges SET
					access_count      = access_count - 1,
					total_duration_ms = total_duration_ms - ?
				WHERE user = ? AND doc_id = ?`,
				u.durationMs, u.user, u.target); err != nil {
				return fmt.Errorf("prune interaction %s: %w", interactionID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM access_edges WHERE user = ? AND doc_id = ? AND access_count <= 0`,
				u.user, u.target); err != nil {
				return fmt.Errorf("prune interaction %s: %w", interactionID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM interest_events WHERE interaction_id = ?`, interactionID); err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM applied_updates WHERE interaction_id = ?`, interactionID); err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("prune interaction %s: %w", interactionID, err)
	}
	return nil
}

// ClearUser removes every edge, event, and dedup marker for the user.
func (g *SQLiteGraph) ClearUser(ctx context.Context, user string) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear user %s: %w", user, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM interest_edges WHERE user = ?`,
		`DELETE FROM access_edges WHERE user = ?`,
		`DELETE FROM interest_events WHERE user = ?`,
		`DELETE FROM applied_updates WHERE user = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, user); err != nil {
			return fmt.Errorf("clear user %s: %w", user, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear user %s: %w", user, err)
	}
	return nil
}

// sortTopicScores orders by score descending, then frequency descending,
// then topic name for determinism.
func sortTopicScores(scores []domain.TopicScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].Frequency != scores[j].Frequency {
			return scores[i].Frequency > scores[j].Frequency
		}
		return scores[i].Topic < scores[j].Topic
	})
}
