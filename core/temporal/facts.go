package temporal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrFactNotFound indicates an unknown fact lineage.
var ErrFactNotFound = errors.New("fact not found")

// Fact is one version of a temporal assertion. Versions are append-only:
// updating a fact closes the open version and inserts a new one, so
// point-in-time queries can reconstruct what was believed when.
type Fact struct {
	ID         string     `json:"id"`
	LineageID  string     `json:"lineage_id"`
	Persona    string     `json:"persona"`
	FactType   string     `json:"fact_type"`
	Content    string     `json:"content"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
}

// Current reports whether this version is still open.
func (f Fact) Current() bool { return f.ValidTo == nil }

const factSchemaSQL = `
CREATE TABLE IF NOT EXISTS facts (
	id         TEXT PRIMARY KEY,
	lineage_id TEXT NOT NULL,
	persona    TEXT NOT NULL,
	fact_type  TEXT NOT NULL,
	content    TEXT NOT NULL,
	valid_from INTEGER NOT NULL,
	valid_to   INTEGER,
	confidence REAL NOT NULL,
	source     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_facts_lineage ON facts(lineage_id, valid_from);
CREATE INDEX IF NOT EXISTS idx_facts_persona ON facts(persona, valid_from);
`

// FactStore persists versioned temporal facts in sqlite.
type FactStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenFactStore opens (or creates) the fact store at path.
func OpenFactStore(path string) (*FactStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fact store: %w", err)
	}
	if _, err := db.Exec(factSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init fact store schema: %w", err)
	}
	return &FactStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *FactStore) Close() error {
	return s.db.Close()
}

// SaveFact records a new version of a fact. When lineageID names an existing
// lineage, its open version is closed at validFrom and the new version
// inserted in the same transaction, keeping exactly one open version per
// lineage. An empty lineageID starts a new lineage; the lineage ID is
// returned either way.
func (s *FactStore) SaveFact(ctx context.Context, f Fact) (string, error) {
	if f.LineageID == "" {
		f.LineageID = uuid.NewString()
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ValidFrom.IsZero() {
		f.ValidFrom = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("save fact: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE facts SET valid_to = ? WHERE lineage_id = ? AND valid_to IS NULL`,
		f.ValidFrom.UnixMilli(), f.LineageID); err != nil {
		return "", fmt.Errorf("save fact: close open version: %w", err)
	}

	var validTo any
	if f.ValidTo != nil {
		validTo = f.ValidTo.UnixMilli()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO facts (id, lineage_id, persona, fact_type, content, valid_from, valid_to, confidence, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.LineageID, f.Persona, f.FactType, f.Content,
		f.ValidFrom.UnixMilli(), validTo, f.Confidence, f.Source); err != nil {
		return "", fmt.Errorf("save fact: insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("save fact: %w", err)
	}
	return f.LineageID, nil
}

// FactsAsOf returns the persona's facts valid at time t: those with
// validFrom <= t and either no validTo or validTo > t. A fact valid only at
// a different time is never surfaced.
func (s *FactStore) FactsAsOf(ctx context.Context, persona string, t time.Time) ([]Fact, error) {
	at := t.UTC().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lineage_id, persona, fact_type, content, valid_from, valid_to, confidence, source
		FROM facts
		WHERE persona = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY valid_from, id`, persona, at, at)
	if err != nil {
		return nil, fmt.Errorf("facts as of %s: %w", t, err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// CurrentFacts returns the persona's open fact versions.
func (s *FactStore) CurrentFacts(ctx context.Context, persona string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lineage_id, persona, fact_type, content, valid_from, valid_to, confidence, source
		FROM facts
		WHERE persona = ? AND valid_to IS NULL
		ORDER BY valid_from, id`, persona)
	if err != nil {
		return nil, fmt.Errorf("current facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// History returns every version of a lineage, oldest first.
func (s *FactStore) History(ctx context.Context, lineageID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lineage_id, persona, fact_type, content, valid_from, valid_to, confidence, source
		FROM facts WHERE lineage_id = ? ORDER BY valid_from, id`, lineageID)
	if err != nil {
		return nil, fmt.Errorf("fact history %s: %w", lineageID, err)
	}
	defer rows.Close()

	facts, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("lineage %s: %w", lineageID, ErrFactNotFound)
	}
	return facts, nil
}

// DeletePersona removes every fact version of a persona.
func (s *FactStore) DeletePersona(ctx context.Context, persona string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE persona = ?`, persona); err != nil {
		return fmt.Errorf("delete facts for %s: %w", persona, err)
	}
	return nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var (
			f         Fact
			validFrom int64
			validTo   sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.LineageID, &f.Persona, &f.FactType, &f.Content,
			&validFrom, &validTo, &f.Confidence, &f.Source); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.ValidFrom = time.UnixMilli(validFrom).UTC()
		if validTo.Valid {
			t := time.UnixMilli(validTo.Int64).UTC()
			f.ValidTo = &t
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan facts: %w", err)
	}
	return out, nil
}
