// Package store is the sqlite journal. It records projects, ingestion runs
// and chat turns for auditing; graphs themselves are never persisted here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a journal row does not exist.
var ErrNotFound = errors.New("store: not found")

// Project is the journal row for a project.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document records one ingestion run.
type Document struct {
	ID               int64     `json:"id"`
	ProjectID        string    `json:"project_id"`
	DocumentID       string    `json:"document_id"`
	Source           string    `json:"source"`
	Format           string    `json:"format"`
	Status           string    `json:"status"` // complete, failed
	ChunksTotal      int       `json:"chunks_total"`
	ChunksFailed     int       `json:"chunks_failed"`
	EntitiesCreated  int       `json:"entities_created"`
	RelationsCreated int       `json:"relations_created"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Turn records one chat turn.
type Turn struct {
	ID        int64         `json:"id"`
	ProjectID string        `json:"project_id"`
	Question  string        `json:"question"`
	Response  string        `json:"response"`
	UsedGraph bool          `json:"used_graph"`
	Entities  int           `json:"entities"`
	Outcome   string        `json:"outcome"` // complete, error, canceled
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store wraps the sqlite journal database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens or creates the journal at dbPath and applies migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Project operations ---

// SaveProject inserts the project or updates its name and description.
func (s *Store) SaveProject(ctx context.Context, p Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`, p.ID, p.Name, p.Description, p.CreatedAt)
	return err
}

// ListProjects returns all journaled projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM projects ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project together with its documents and turns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE project_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chat_log WHERE project_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// --- Ingestion log ---

// LogIngest appends an ingestion record and returns its row id.
func (s *Store) LogIngest(ctx context.Context, d Document) (int64, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (project_id, document_id, source, format, status,
			chunks_total, chunks_failed, entities_created, relations_created, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ProjectID, d.DocumentID, d.Source, d.Format, d.Status,
		d.ChunksTotal, d.ChunksFailed, d.EntitiesCreated, d.RelationsCreated, d.Error, d.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListDocuments returns the ingestion records of a project, newest first.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, document_id, source, format, status,
			chunks_total, chunks_failed, entities_created, relations_created, error, created_at
		FROM documents WHERE project_id = ? ORDER BY id DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DocumentID, &d.Source, &d.Format, &d.Status,
			&d.ChunksTotal, &d.ChunksFailed, &d.EntitiesCreated, &d.RelationsCreated,
			&d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Chat log ---

// LogTurn appends a chat turn and returns its row id.
func (s *Store) LogTurn(ctx context.Context, t Turn) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if t.Outcome == "" {
		t.Outcome = "complete"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_log (project_id, question, response, used_graph, entities, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ProjectID, t.Question, t.Response, t.UsedGraph, t.Entities, t.Outcome,
		t.Duration.Milliseconds(), t.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentTurns returns up to limit turns of a project in chronological order.
func (s *Store) RecentTurns(ctx context.Context, projectID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, question, response, used_graph, entities, outcome, duration_ms, created_at
		FROM (
			SELECT * FROM chat_log WHERE project_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ms int64
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Question, &t.Response, &t.UsedGraph,
			&t.Entities, &t.Outcome, &ms, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(ms) * time.Millisecond
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
