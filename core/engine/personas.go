package engine

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

var (
	// ErrPersonaNotFound indicates an unknown persona name.
	ErrPersonaNotFound = errors.New("persona not found")

	// ErrPersonaExists indicates a duplicate persona name on create.
	ErrPersonaExists = errors.New("persona already exists")
)

const personaSchemaSQL = `
CREATE TABLE IF NOT EXISTS personas (
	name            TEXT PRIMARY KEY,
	description     TEXT NOT NULL DEFAULT '',
	focus_areas     TEXT NOT NULL DEFAULT '[]',
	active_projects TEXT NOT NULL DEFAULT '[]',
	response_style  TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	last_used       INTEGER NOT NULL,
	usage_count     INTEGER NOT NULL DEFAULT 0
);
`

// PersonaManager persists named personas. The active persona is session
// state owned by the caller; every engine call takes the persona explicitly.
type PersonaManager struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPersonaManager opens (or creates) the persona store at path.
func OpenPersonaManager(path string) (*PersonaManager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}
	if _, err := db.Exec(personaSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init persona schema: %w", err)
	}
	return &PersonaManager{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (m *PersonaManager) Close() error {
	return m.db.Close()
}

// Create registers a new persona.
func (m *PersonaManager) Create(ctx context.Context, p domain.Persona) error {
	if p.Name == "" {
		return fmt.Errorf("persona name must not be empty")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}

	focus, err := json.Marshal(p.FocusAreas)
	if err != nil {
		return fmt.Errorf("create persona %s: %w", p.Name, err)
	}
	projects, err := json.Marshal(p.ActiveProjects)
	if err != nil {
		return fmt.Errorf("create persona %s: %w", p.Name, err)
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO personas
			(name, description, focus_areas, active_projects, response_style, created_at, last_used, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		p.Name, p.Description, string(focus), string(projects), p.ResponseStyle,
		p.CreatedAt.UnixMilli(), p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create persona %s: %w", p.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create persona %s: %w", p.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("persona %s: %w", p.Name, ErrPersonaExists)
	}
	return nil
}

// Get returns a persona by name.
func (m *PersonaManager) Get(ctx context.Context, name string) (*domain.Persona, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT name, description, focus_areas, active_projects, response_style, created_at, last_used, usage_count
		FROM personas WHERE name = ?`, name)
	p, err := scanPersona(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persona %s: %w", name, ErrPersonaNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get persona %s: %w", name, err)
	}
	return p, nil
}

// List returns every persona, most recently used first.
func (m *PersonaManager) List(ctx context.Context) ([]domain.Persona, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, description, focus_areas, active_projects, response_style, created_at, last_used, usage_count
		FROM personas ORDER BY last_used DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []domain.Persona
	for rows.Next() {
		p, err := scanPersona(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list personas: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return out, nil
}

// Update replaces the persona's mutable fields.
func (m *PersonaManager) Update(ctx context.Context, p domain.Persona) error {
	focus, err := json.Marshal(p.FocusAreas)
	if err != nil {
		return fmt.Errorf("update persona %s: %w", p.Name, err)
	}
	projects, err := json.Marshal(p.ActiveProjects)
	if err != nil {
		return fmt.Errorf("update persona %s: %w", p.Name, err)
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE personas SET description = ?, focus_areas = ?, active_projects = ?, response_style = ?
		WHERE name = ?`,
		p.Description, string(focus), string(projects), p.ResponseStyle, p.Name)
	if err != nil {
		return fmt.Errorf("update persona %s: %w", p.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update persona %s: %w", p.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("persona %s: %w", p.Name, ErrPersonaNotFound)
	}
	return nil
}

// Touch bumps the persona's usage count and last-used time. Called when a
// session switches to the persona.
func (m *PersonaManager) Touch(ctx context.Context, name string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE personas SET usage_count = usage_count + 1, last_used = ? WHERE name = ?`,
		m.now().UTC().UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("touch persona %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch persona %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("persona %s: %w", name, ErrPersonaNotFound)
	}
	return nil
}

// Delete removes a persona record. The persona's interaction history and
// graph state are cleared separately via the engine's privacy operations.
func (m *PersonaManager) Delete(ctx context.Context, name string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM personas WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete persona %s: %w", name, err)
	}
	return nil
}

func scanPersona(scan func(...any) error) (*domain.Persona, error) {
	var (
		p         domain.Persona
		focus     string
		projects  string
		createdAt int64
		lastUsed  int64
	)
	if err := scan(&p.Name, &p.Description, &focus, &projects, &p.ResponseStyle,
		&createdAt, &lastUsed, &p.UsageCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(focus), &p.FocusAreas); err != nil {
		return nil, fmt.Errorf("decode focus areas: %w", err)
	}
	if err := json.Unmarshal([]byte(projects), &p.ActiveProjects); err != nil {
		return nil, fmt.Errorf("decode active projects: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.LastUsed = time.UnixMilli(lastUsed).UTC()
	return &p, nil
}
