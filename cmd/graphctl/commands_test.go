package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/graphagent/agent"
	"github.com/brunobiangulo/graphagent/stream"
)

// fakeServer records requests and serves canned responses.
type fakeServer struct {
	*httptest.Server
	mu       sync.Mutex
	paths    []string
	auth     string
	uploaded string
	frames   []stream.Frame
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"projects": []map[string]any{
			{"id": "p2", "name": "Doc2", "current": true, "stats": map[string]int{"node_count": 3, "edge_count": 2}},
			{"id": "p1", "name": "Doc1"},
		}})
	})
	mux.HandleFunc("POST /projects", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, http.StatusCreated, map[string]any{"id": "p3", "name": req["name"], "description": req["description"]})
	})
	mux.HandleFunc("PUT /projects/current", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"project_id": "p1"})
	})
	mux.HandleFunc("DELETE /projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "graphagent: project not found: " + r.PathValue("id")})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	})
	mux.HandleFunc("POST /projects/{id}/ingest", func(w http.ResponseWriter, r *http.Request) {
		if f, h, err := r.FormFile("file"); err == nil {
			f.Close()
			fs.mu.Lock()
			fs.uploaded = h.Filename
			fs.mu.Unlock()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": "doc-1", "chunks_total": 2, "chunks_processed": 2,
			"entities_created": 3, "relations_created": 2,
		})
	})
	mux.HandleFunc("GET /projects/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"node_count": 3, "edge_count": 2,
			"entity_types":   map[string]int{"PERSON": 2, "ORGANIZATION": 1},
			"relation_types": map[string]int{"founded": 1, "works_at": 1},
		})
	})
	mux.HandleFunc("GET /projects/{id}/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"entities": []map[string]string{
			{"id": "e1", "name": "Acme", "type": "ORGANIZATION", "description": r.URL.Query().Get("q")},
		}})
	})
	mux.HandleFunc("POST /projects/{id}/chat", func(w http.ResponseWriter, r *http.Request) {
		sw, err := stream.NewWriter(w)
		if !assert.NoError(t, err) {
			return
		}
		fs.mu.Lock()
		frames := fs.frames
		fs.mu.Unlock()
		for _, f := range frames {
			assert.NoError(t, sw.Send(r.Context(), f))
		}
	})

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.paths = append(fs.paths, r.Method+" "+r.URL.Path)
		fs.auth = r.Header.Get("Authorization")
		fs.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

// seen returns the recorded request lines, auth header and upload name.
func (fs *fakeServer) seen() ([]string, string, string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.paths...), fs.auth, fs.uploaded
}

func (fs *fakeServer) setFrames(frames ...stream.Frame) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frames = frames
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func run(t *testing.T, fs *fakeServer, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", fs.URL, "--api-key", "k"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestProjectsCommands(t *testing.T) {
	fs := newFakeServer(t)

	out, err := run(t, fs, "projects", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Doc2")
	assert.Contains(t, out, "*")
	_, auth, _ := fs.seen()
	assert.Equal(t, "Bearer k", auth)

	out, err = run(t, fs, "projects", "create", "Doc3", "-d", "third")
	require.NoError(t, err)
	assert.Contains(t, out, "Created project Doc3 (p3)")

	out, err = run(t, fs, "projects", "use", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "p1")

	_, err = run(t, fs, "projects", "delete", "p1")
	require.NoError(t, err)

	_, err = run(t, fs, "projects", "delete", "missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "project not found")
}

func TestIngestCommand(t *testing.T) {
	fs := newFakeServer(t)
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\nAlice founded Acme."), 0o644))

	out, err := run(t, fs, "ingest", path, "--project", "p1")
	require.NoError(t, err)
	paths, _, uploaded := fs.seen()
	assert.Equal(t, "notes.md", uploaded)
	assert.Contains(t, paths, "POST /projects/p1/ingest")
	assert.Contains(t, out, "Document doc-1: 2/2 chunks processed")
	assert.Contains(t, out, "Entities: 3 created")

	_, err = run(t, fs, "ingest", "--text", "Bob works at Acme.")
	require.NoError(t, err)
	paths, _, _ = fs.seen()
	assert.Contains(t, paths, "POST /projects/current/ingest")

	_, err = run(t, fs, "ingest")
	assert.Error(t, err)
	_, err = run(t, fs, "ingest", path, "--text", "both")
	assert.Error(t, err)
}

func TestChatCommand(t *testing.T) {
	fs := newFakeServer(t)
	done, err := stream.CompleteFrame(agent.Result{
		Response:       "Alice founded Acme.",
		UsedGraph:      true,
		RouteDecision:  "use_graph",
		RetrievalChain: []agent.ChainStep{{Query: "Acme", Found: 1, Entities: []agent.ChainEntity{{Name: "Acme", Type: "ORGANIZATION"}}}},
	})
	require.NoError(t, err)
	fs.setFrames(stream.ContentFrame("Alice "), stream.ContentFrame("founded Acme."), done)

	out, err := run(t, fs, "chat", "Who founded Acme?", "--chain")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice founded Acme.\n")
	assert.Contains(t, out, "Route: use_graph")
	assert.Contains(t, out, `"Acme": 1 found`)
}

func TestChatCommandErrors(t *testing.T) {
	fs := newFakeServer(t)

	fs.setFrames(stream.ContentFrame("partial"), stream.ErrorFrame("answer generation: llm: upstream error"))
	out, err := run(t, fs, "chat", "q")
	var remote *stream.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, out, "partial")

	fs.setFrames(stream.ContentFrame("cut off"))
	_, err = run(t, fs, "chat", "q")
	assert.ErrorIs(t, err, errIncomplete)
}

func TestStatsAndSearchCommands(t *testing.T) {
	fs := newFakeServer(t)

	out, err := run(t, fs, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entities: 3")
	assert.Contains(t, out, "Relations: 2")
	assert.Contains(t, out, "ORGANIZATION")
	assert.Contains(t, out, "works_at")

	out, err = run(t, fs, "search", "anvil maker", "-p", "p2")
	require.NoError(t, err)
	paths, _, _ := fs.seen()
	assert.Contains(t, paths, "GET /projects/p2/search")
	assert.Contains(t, out, "anvil maker")
}
