//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}

	var version int
	if err := s.DB().QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != migrations[len(migrations)-1].version {
		t.Errorf("schema version = %d, want %d", version, migrations[len(migrations)-1].version)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate run %d: %v", i+1, err)
		}
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := migrations[len(migrations)-1].version; v != want {
		t.Errorf("SchemaVersion = %d, want %d", v, want)
	}
	var rows int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", rows, len(migrations))
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "journal.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProject(ctx, Project{ID: "p1", Name: "Acme"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer s.Close()
	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || projects[0].Name != "Acme" {
		t.Fatalf("projects after reopen = %+v", projects)
	}
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveProject(ctx, Project{ID: "p1", Name: "first", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProject(ctx, Project{ID: "p2", Name: "second", CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	// Upsert renames without touching created_at.
	if err := s.SaveProject(ctx, Project{ID: "p1", Name: "renamed", Description: "d", CreatedAt: base.Add(48 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].ID != "p2" || projects[1].ID != "p1" {
		t.Errorf("order = [%s %s], want [p2 p1]", projects[0].ID, projects[1].ID)
	}
	if projects[1].Name != "renamed" || projects[1].Description != "d" {
		t.Errorf("p1 = %+v, want renamed with description", projects[1])
	}
	if !projects[1].CreatedAt.Equal(base) {
		t.Errorf("p1 created_at = %v, want %v", projects[1].CreatedAt, base)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		if err := s.SaveProject(ctx, Project{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.LogIngest(ctx, Document{ProjectID: id, DocumentID: "d", Status: "complete"}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.LogTurn(ctx, Turn{ProjectID: id, Question: "q"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	docs, _ := s.ListDocuments(ctx, "p1")
	turns, _ := s.RecentTurns(ctx, "p1", 10)
	if len(docs) != 0 || len(turns) != 0 {
		t.Errorf("p1 rows survived: %d docs, %d turns", len(docs), len(turns))
	}
	docs, _ = s.ListDocuments(ctx, "p2")
	turns, _ = s.RecentTurns(ctx, "p2", 10)
	if len(docs) != 1 || len(turns) != 1 {
		t.Errorf("p2 rows = %d docs, %d turns, want 1 and 1", len(docs), len(turns))
	}

	if err := s.DeleteProject(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Ingestion log
// ---------------------------------------------------------------------------

func TestLogIngest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveProject(ctx, Project{ID: "p1", Name: "p"}); err != nil {
		t.Fatal(err)
	}

	in := Document{
		ProjectID:        "p1",
		DocumentID:       "doc-1",
		Source:           "notes.txt",
		Format:           "txt",
		Status:           "complete",
		ChunksTotal:      3,
		ChunksFailed:     1,
		EntitiesCreated:  4,
		RelationsCreated: 2,
	}
	id, err := s.LogIngest(ctx, in)
	if err != nil {
		t.Fatalf("LogIngest: %v", err)
	}
	if _, err := s.LogIngest(ctx, Document{ProjectID: "p1", DocumentID: "doc-2", Status: "failed", Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.ListDocuments(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(docs))
	}
	if docs[0].DocumentID != "doc-2" || docs[0].Error != "boom" {
		t.Errorf("newest record = %+v", docs[0])
	}
	got := docs[1]
	if got.ID != id || got.Source != "notes.txt" || got.ChunksTotal != 3 || got.ChunksFailed != 1 ||
		got.EntitiesCreated != 4 || got.RelationsCreated != 2 {
		t.Errorf("record = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestLogIngestUnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LogIngest(context.Background(), Document{ProjectID: "missing", DocumentID: "d", Status: "complete"})
	if err == nil {
		t.Fatal("expected foreign key error for unknown project")
	}
}

// ---------------------------------------------------------------------------
// Chat log
// ---------------------------------------------------------------------------

func TestRecentTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveProject(ctx, Project{ID: "p1", Name: "p"}); err != nil {
		t.Fatal(err)
	}

	for i, q := range []string{"one", "two", "three"} {
		_, err := s.LogTurn(ctx, Turn{
			ProjectID: "p1",
			Question:  q,
			Response:  "answer " + q,
			UsedGraph: i%2 == 0,
			Entities:  i,
			Duration:  time.Duration(i+1) * time.Second,
		})
		if err != nil {
			t.Fatalf("LogTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "p1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Question != "two" || turns[1].Question != "three" {
		t.Errorf("turns = [%s %s], want [two three]", turns[0].Question, turns[1].Question)
	}
	if turns[1].Outcome != "complete" || !turns[1].UsedGraph || turns[1].Entities != 2 {
		t.Errorf("last turn = %+v", turns[1])
	}
	if turns[1].Duration != 3*time.Second {
		t.Errorf("duration = %v, want 3s", turns[1].Duration)
	}
}
