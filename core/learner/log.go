package learner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hyper-light/recall/core/domain"
)

// ErrInteractionNotFound indicates an unknown interaction ID.
var ErrInteractionNotFound = errors.New("interaction not found")

const logSchemaSQL = `
CREATE TABLE IF NOT EXISTS interactions (
	id          TEXT PRIMARY KEY,
	persona     TEXT NOT NULL,
	query       TEXT NOT NULL,
	chunk_ids   TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	latency_ms  INTEGER NOT NULL,
	feedback    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_interactions_persona ON interactions(persona, ts);
`

// Log is the append-only interaction log. It is the source of truth for the
// memory graph: rows are written once and mutated only to attach feedback.
type Log struct {
	db *sql.DB
}

// OpenLog opens (or creates) the interaction log at path.
func OpenLog(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	if _, err := db.Exec(logSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init interaction log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes one interaction record.
func (l *Log) Append(ctx context.Context, in domain.Interaction) error {
	chunkIDs, err := json.Marshal(in.RetrievedChunkIDs)
	if err != nil {
		return fmt.Errorf("append interaction %s: %w", in.ID, err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO interactions (id, persona, query, chunk_ids, ts, latency_ms, feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Persona, in.Query, string(chunkIDs), in.Timestamp.UnixMilli(), in.LatencyMs, string(in.Feedback))
	if err != nil {
		return fmt.Errorf("append interaction %s: %w", in.ID, err)
	}
	return nil
}

// AttachFeedback sets the feedback field of an existing interaction.
func (l *Log) AttachFeedback(ctx context.Context, id string, kind domain.FeedbackKind) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE interactions SET feedback = ? WHERE id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("attach feedback to %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach feedback to %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("attach feedback to %s: %w", id, ErrInteractionNotFound)
	}
	return nil
}

// Get returns one interaction by ID.
func (l *Log) Get(ctx context.Context, id string) (*domain.Interaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, persona, query, chunk_ids, ts, latency_ms, feedback
		FROM interactions WHERE id = ?`, id)
	in, err := scanInteraction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interaction %s: %w", id, ErrInteractionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return in, nil
}

// ListByPersona returns the persona's interactions, newest first. limit <= 0
// means no limit.
func (l *Log) ListByPersona(ctx context.Context, persona string, limit int) ([]domain.Interaction, error) {
	q := `
		SELECT id, persona, query, chunk_ids, ts, latency_ms, feedback
		FROM interactions WHERE persona = ? ORDER BY ts DESC, id`
	args := []any{persona}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions for %s: %w", persona, err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list interactions for %s: %w", persona, err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interactions for %s: %w", persona, err)
	}
	return out, nil
}

// Delete removes one interaction record.
func (l *Log) Delete(ctx context.Context, id string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM interactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete interaction %s: %w", id, err)
	}
	return nil
}

// DeletePersona removes every interaction of a persona.
func (l *Log) DeletePersona(ctx context.Context, persona string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM interactions WHERE persona = ?`, persona); err != nil {
		return fmt.Errorf("delete interactions for %s: %w", persona, err)
	}
	return nil
}

// Count returns the total number of interactions.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count interactions: %w", err)
	}
	return n, nil
}

func scanInteraction(scan func(...any) error) (*domain.Interaction, error) {
	var (
		in       domain.Interaction
		chunkIDs string
		ts       int64
		feedback string
	)
	if err := scan(&in.ID, &in.Persona, &in.Query, &chunkIDs, &ts, &in.LatencyMs, &feedback); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chunkIDs), &in.RetrievedChunkIDs); err != nil {
		return nil, fmt.Errorf("decode chunk ids: %w", err)
	}
	in.Timestamp = time.UnixMilli(ts).UTC()
	in.Feedback = domain.FeedbackKind(feedback)
	return &in, nil
}
