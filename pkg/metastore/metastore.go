// Package metastore persists sources, chunks, workflow executions, and
// config overrides in SQLite.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(url, session_id)
);

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	FOREIGN KEY (source_id) REFERENCES sources (id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (source_id);
CREATE INDEX IF NOT EXISTS idx_sources_session ON sources (session_id);

CREATE TABLE IF NOT EXISTS workflow_executions (
	request_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'running',
	document_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS configs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	is_hot_reload INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the metadata database. WAL mode and a
// 30s busy timeout keep concurrent ingest and query writers from
// tripping over each other.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", domain.ErrMetaStoreFailed, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create tables: %v", domain.ErrMetaStoreFailed, err)
	}
	return &Store{db: db, logger: log.WithModule("metastore")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateSource inserts a source row, returning it with the assigned id.
// An existing (url, session) pair is returned as-is.
func (s *Store) CreateSource(ctx context.Context, url, title, sessionID string) (*domain.Source, error) {
	existing, err := s.GetSourceByURL(ctx, url, sessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (url, title, session_id) VALUES (?, ?, ?)`,
		url, title, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: insert source: %v", domain.ErrMetaStoreFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: source id: %v", domain.ErrMetaStoreFailed, err)
	}
	return &domain.Source{
		ID:        id,
		URL:       url,
		Title:     title,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}, nil
}

func (s *Store) GetSource(ctx context.Context, id int64) (*domain.Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx,
		`SELECT id, url, title, session_id, created_at FROM sources WHERE id = ?`, id))
}

func (s *Store) GetSourceByURL(ctx context.Context, url, sessionID string) (*domain.Source, error) {
	return s.scanSource(s.db.QueryRowContext(ctx,
		`SELECT id, url, title, session_id, created_at FROM sources WHERE url = ? AND session_id = ?`,
		url, sessionID))
}

func (s *Store) scanSource(row *sql.Row) (*domain.Source, error) {
	var src domain.Source
	err := row.Scan(&src.ID, &src.URL, &src.Title, &src.SessionID, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan source: %v", domain.ErrMetaStoreFailed, err)
	}
	return &src, nil
}

// UpdateSourceTitle sets the display title after LLM naming completes.
func (s *Store) UpdateSourceTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("%w: update title: %v", domain.ErrMetaStoreFailed, err)
	}
	return nil
}

// ListSources returns every source in a session, newest first.
func (s *Store) ListSources(ctx context.Context, sessionID string) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, session_id, created_at FROM sources WHERE session_id = ? ORDER BY id DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %v", domain.ErrMetaStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.URL, &src.Title, &src.SessionID, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan source: %v", domain.ErrMetaStoreFailed, err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// InsertChunks writes all chunk rows in one short transaction and
// returns them with assigned ids. Chunks that already exist (same
// chunk_id) are replaced, keeping re-ingestion idempotent.
func (s *Store) InsertChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrMetaStoreFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (chunk_id, content, source_id, session_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("%w: prepare: %v", domain.ErrMetaStoreFailed, err)
	}
	defer func() { _ = stmt.Close() }()

	out := make([]domain.Chunk, len(chunks))
	for i, chunk := range chunks {
		res, err := stmt.ExecContext(ctx, chunk.ChunkID, chunk.Content, chunk.SourceID, chunk.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: insert chunk %s: %v", domain.ErrMetaStoreFailed, chunk.ChunkID, err)
		}
		id, _ := res.LastInsertId()
		out[i] = chunk
		out[i].ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrMetaStoreFailed, err)
	}
	return out, nil
}

func (s *Store) ListChunksBySource(ctx context.Context, sourceID int64) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_id, content, source_id, session_id FROM chunks WHERE source_id = ? ORDER BY id`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", domain.ErrMetaStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.ChunkID, &c.Content, &c.SourceID, &c.SessionID); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", domain.ErrMetaStoreFailed, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks returns the chunk count for one source, the database side
// of the db-vs-vector consistency comparison.
func (s *Store) CountChunks(ctx context.Context, sourceID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %v", domain.ErrMetaStoreFailed, err)
	}
	return n, nil
}

// DeleteSource removes a source; chunks cascade.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete source: %v", domain.ErrMetaStoreFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// DeleteSession removes every source (and cascaded chunk) in a session
// and returns the deleted source ids so vector cleanup can follow.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) ([]int64, error) {
	sources, err := s.ListSources(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE session_id = ?`, sessionID); err != nil {
		return nil, fmt.Errorf("%w: delete session: %v", domain.ErrMetaStoreFailed, err)
	}
	return ids, nil
}

// CreateWorkflow records an outstanding discovery request.
func (s *Store) CreateWorkflow(ctx context.Context, requestID, documentName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workflow_executions (request_id, status, document_name) VALUES (?, ?, ?)`,
		requestID, domain.WorkflowRunning, documentName)
	if err != nil {
		return fmt.Errorf("%w: create workflow: %v", domain.ErrMetaStoreFailed, err)
	}
	return nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, requestID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE request_id = ?`,
		status, requestID)
	if err != nil {
		return fmt.Errorf("%w: update workflow: %v", domain.ErrMetaStoreFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, requestID string) (*domain.WorkflowExecution, error) {
	var w domain.WorkflowExecution
	err := s.db.QueryRowContext(ctx,
		`SELECT request_id, status, document_name, created_at, updated_at FROM workflow_executions WHERE request_id = ?`,
		requestID).Scan(&w.RequestID, &w.Status, &w.DocumentName, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get workflow: %v", domain.ErrMetaStoreFailed, err)
	}
	return &w, nil
}

// SweepStaleWorkflows marks running workflows older than cutoff as
// errored and returns how many were flipped.
func (s *Store) SweepStaleWorkflows(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND created_at < ?`,
		domain.WorkflowError, domain.WorkflowRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep workflows: %v", domain.ErrMetaStoreFailed, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("swept stale workflow executions", "count", n)
	}
	return n, nil
}

// GetConfig reads one config override; ErrDocumentNotFound when unset.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM configs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrDocumentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get config: %v", domain.ErrMetaStoreFailed, err)
	}
	return value, nil
}

// ConfigEntry is one stored config override.
type ConfigEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	HotReload bool   `json:"hot_reload"`
}

// ListConfigs returns every stored config override.
func (s *Store) ListConfigs(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, is_hot_reload FROM configs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: list configs: %v", domain.ErrMetaStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		var hot int
		if err := rows.Scan(&e.Key, &e.Value, &hot); err != nil {
			return nil, fmt.Errorf("%w: scan config: %v", domain.ErrMetaStoreFailed, err)
		}
		e.HotReload = hot != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetConfig(ctx context.Context, key, value string, hotReload bool) error {
	hot := 0
	if hotReload {
		hot = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configs (key, value, is_hot_reload) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, is_hot_reload = excluded.is_hot_reload, updated_at = CURRENT_TIMESTAMP`,
		key, value, hot)
	if err != nil {
		return fmt.Errorf("%w: set config: %v", domain.ErrMetaStoreFailed, err)
	}
	return nil
}
