package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"healthq/internal/model"
)

var (
	ErrIndexNotFound   = errors.New("index file not found")
	ErrIndexIncomplete = errors.New("index file was never sealed")
)

// SQLiteIndex persists chunks and their vectors in a single SQLite file and
// scores them with a full scan on Search.
type SQLiteIndex struct {
	db   *sql.DB
	path string

	mu        sync.RWMutex
	dimension int
	count     int
	sealed    bool
}

// NewSQLiteIndex creates an empty index at path, replacing any file already
// there. The index cannot be reopened until Seal succeeds.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory failed: %w", err)
	}
	if err := removeFiles(path); err != nil {
		return nil, fmt.Errorf("remove stale index failed: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db, path: path}, nil
}

// OpenSQLiteIndex reopens a sealed index previously written by
// NewSQLiteIndex. A file left behind by an interrupted build is removed and
// reported as ErrIndexIncomplete.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("stat index failed: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	sealed, err := isSealed(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !sealed {
		db.Close()
		if err := removeFiles(path); err != nil {
			return nil, fmt.Errorf("remove incomplete index failed: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrIndexIncomplete, filepath.Base(path))
	}
	idx := &SQLiteIndex{db: db, path: path, sealed: true}
	row := db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(dimension), 0) FROM chunks`)
	if err := row.Scan(&idx.count, &idx.dimension); err != nil {
		db.Close()
		return nil, fmt.Errorf("read index metadata failed: %w", err)
	}
	return idx, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index database failed: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			source TEXT NOT NULL,
			page_index INTEGER NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			vector BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create index schema failed: %w", err)
		}
	}
	return nil
}

func isSealed(db *sql.DB) (bool, error) {
	var tables int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'index_meta'`).Scan(&tables); err != nil {
		return false, fmt.Errorf("read index metadata failed: %w", err)
	}
	if tables == 0 {
		return false, nil
	}
	var value string
	err := db.QueryRow(`SELECT value FROM index_meta WHERE key = 'sealed'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read index metadata failed: %w", err)
	}
	return true, nil
}

// removeFiles deletes the database together with its WAL side files.
func removeFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Add(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ErrLengthMismatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrIndexSealed
	}

	dimension := s.dimension
	for _, v := range vectors {
		if dimension == 0 {
			dimension = len(v)
		}
		if len(v) != dimension {
			return ErrDimensionMismatch
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index transaction failed: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, document_id, source, page_index, position, text, dimension, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert failed: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Source, c.PageIndex, c.Position, c.Text,
			len(vectors[i]), encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("insert chunk failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index transaction failed: %w", err)
	}
	s.dimension = dimension
	s.count += len(chunks)
	return nil
}

func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return []model.ScoredChunk{}, nil
	}
	if len(vector) != s.dimension {
		return nil, ErrDimensionMismatch
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, document_id, source, page_index, position, text, vector
		FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query chunks failed: %w", err)
	}
	defer rows.Close()

	scored := make([]model.ScoredChunk, 0, s.count)
	for rows.Next() {
		var (
			c    model.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Source, &c.PageIndex, &c.Position, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk failed: %w", err)
		}
		scored = append(scored, model.ScoredChunk{Chunk: c, Score: cosineSimilarity(vector, decodeVector(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks failed: %w", err)
	}
	return topK(scored, k), nil
}

func (s *SQLiteIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Seal records that every chunk has been committed.
func (s *SQLiteIndex) Seal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO index_meta (key, value) VALUES ('sealed', ?)`,
		strconv.Itoa(s.count)); err != nil {
		return fmt.Errorf("seal index failed: %w", err)
	}
	s.sealed = true
	return nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func (s *SQLiteIndex) Discard() error {
	closeErr := s.db.Close()
	if err := removeFiles(s.path); err != nil {
		return fmt.Errorf("remove index failed: %w", err)
	}
	return closeErr
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
