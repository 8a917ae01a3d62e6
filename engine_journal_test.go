//go:build cgo

package graphagent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/graphagent/stream"
)

func TestJournalRecordsIngestAndTurns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	e, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	p, err := e.CreateProject(ctx, "Doc1", "")
	require.NoError(t, err)
	_, err = e.Ingest(ctx, p.ID, "Alice founded Acme. Bob works at Acme.", WithSource("inline"), WithDocumentID("d1"))
	require.NoError(t, err)

	sink := stream.NewChanSink(16)
	_, err = e.Chat(ctx, p.ID, "Who founded Acme?", nil, sink)
	require.NoError(t, err)

	docs, err := e.Documents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].DocumentID)
	assert.Equal(t, "inline", docs[0].Source)
	assert.Equal(t, "complete", docs[0].Status)
	assert.Equal(t, 3, docs[0].EntitiesCreated)

	turns, err := e.History(ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "Who founded Acme?", turns[0].Question)
	assert.Equal(t, "Alice founded Acme.", turns[0].Response)
	assert.True(t, turns[0].UsedGraph)
	assert.Equal(t, "complete", turns[0].Outcome)

	require.NoError(t, e.DeleteProject(ctx, p.ID))
	p2, err := e.CreateProject(ctx, "Doc2", "")
	require.NoError(t, err)
	turns, err = e.History(ctx, p2.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
