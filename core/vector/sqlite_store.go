package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/viterin/vek/vek32"
	_ "modernc.org/sqlite"

	"github.com/hyper-light/recall/core/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	text        TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	metadata    TEXT,
	dim         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// SQLiteStore is a local vector store: chunks and embeddings persist in
// sqlite, and queries run a brute-force cosine scan over an in-memory copy
// of the embeddings. Suitable for the single-machine corpus sizes this
// system targets.
type SQLiteStore struct {
	db *sql.DB

	mu   sync.RWMutex
	dim  int
	vecs map[string][]float32
	tags map[string][]string
	docs map[string]string
}

// OpenSQLiteStore opens (or creates) a vector store at path. Tests should
// point it at a temp-dir file: the database/sql pool gives each connection
// its own ":memory:" database, so in-memory paths do not behave.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector store schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		vecs: make(map[string][]float32),
		tags: make(map[string][]string),
		docs: make(map[string]string),
	}
	if err := s.warm(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// warm loads embeddings and filter metadata into memory for scanning.
func (s *SQLiteStore) warm() error {
	rows, err := s.db.Query(`SELECT id, document_id, embedding, metadata, dim FROM chunks`)
	if err != nil {
		return fmt.Errorf("warm vector store: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, docID string
			blob      []byte
			metaJSON  sql.NullString
			dim       int
		)
		if err := rows.Scan(&id, &docID, &blob, &metaJSON, &dim); err != nil {
			return fmt.Errorf("warm vector store: %w", err)
		}
		vec := decodeEmbedding(blob)
		if len(vec) != dim {
			return fmt.Errorf("warm vector store: chunk %s: stored dim %d, decoded %d", id, dim, len(vec))
		}
		s.vecs[id] = vec
		s.docs[id] = docID
		s.dim = dim
		if metaJSON.Valid && metaJSON.String != "" {
			var meta map[string]string
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err == nil {
				c := domain.Chunk{Metadata: meta}
				s.tags[id] = c.Tags()
			}
		}
	}
	return rows.Err()
}

// Add indexes chunks with their embeddings in one transaction.
func (s *SQLiteStore) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrEmptyEmbedding)
		}
		if s.dim != 0 && len(c.Embedding) != s.dim {
			return fmt.Errorf("chunk %s: expected dim %d, got %d: %w", c.ID, s.dim, len(c.Embedding), ErrDimensionMismatch)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, text, embedding, metadata, dim)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			text        = excluded.text,
			embedding   = excluded.embedding,
			metadata    = excluded.metadata,
			dim         = excluded.dim`)
	if err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("chunk %s: marshal metadata: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Text, encodeEmbedding(c.Embedding), string(metaJSON), len(c.Embedding)); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}

	for _, c := range chunks {
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		s.vecs[c.ID] = vec
		s.docs[c.ID] = c.DocumentID
		s.tags[c.ID] = c.Tags()
		s.dim = len(vec)
	}
	return nil
}

// Delete removes chunks by ID.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete chunk %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	for _, id := range ids {
		delete(s.vecs, id)
		delete(s.docs, id)
		delete(s.tags, id)
	}
	return nil
}

// Query runs a brute-force cosine scan over the indexed embeddings.
func (s *SQLiteStore) Query(ctx context.Context, embedding []float32, k int, filter Filter) ([]domain.RankedItem, error) {
	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(embedding) != s.dim {
		return nil, fmt.Errorf("query dim %d, index dim %d: %w", len(embedding), s.dim, ErrDimensionMismatch)
	}

	queryNorm := math.Sqrt(float64(vek32.Dot(embedding, embedding)))
	if queryNorm == 0 {
		return nil, ErrEmptyEmbedding
	}

	docSet := toSet(filter.DocumentIDs)
	tagSet := toSet(filter.Tags)

	items := make([]domain.RankedItem, 0, len(s.vecs))
	checked := 0
	for id, vec := range s.vecs {
		// Honor cancellation on large scans without paying the atomic
		// load per vector.
		if checked%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		checked++

		if !s.matchesLocked(id, docSet, tagSet) {
			continue
		}

		norm := math.Sqrt(float64(vek32.Dot(vec, vec)))
		if norm == 0 {
			continue
		}
		sim := float64(vek32.Dot(embedding, vec)) / (queryNorm * norm)
		items = append(items, domain.RankedItem{ID: id, Score: sim})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})

	if k < len(items) {
		items = items[:k]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items, nil
}

func (s *SQLiteStore) matchesLocked(id string, docSet, tagSet map[string]struct{}) bool {
	if len(docSet) > 0 {
		if _, ok := docSet[s.docs[id]]; !ok {
			return false
		}
	}
	if len(tagSet) > 0 {
		found := false
		for _, tag := range s.tags[id] {
			if _, ok := tagSet[tag]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Get fetches chunks by ID, preserving input order.
func (s *SQLiteStore) Get(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, text, embedding, metadata FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Chunk, len(ids))
	for rows.Next() {
		var (
			c        domain.Chunk
			blob     []byte
			metaJSON sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("get chunks: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
				c.Metadata = nil
			}
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}

	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// All returns every stored chunk. Used to rebuild the in-memory keyword
// index on startup.
func (s *SQLiteStore) All(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, text, embedding, metadata FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var (
			c        domain.Chunk
			blob     []byte
			metaJSON sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("list chunks: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
				c.Metadata = nil
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return out, nil
}

// Count returns the number of indexed chunks.
func (s *SQLiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vecs)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// encodeEmbedding packs a float32 slice as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks little-endian bytes into a float32 slice.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
