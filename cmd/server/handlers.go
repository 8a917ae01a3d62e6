package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/graphagent"
	"github.com/brunobiangulo/graphagent/graph"
)

// maxUploadBytes caps multipart uploads.
const maxUploadBytes = 100 << 20

// visualDescriptionRunes bounds node descriptions in the graph view.
const visualDescriptionRunes = 200

// --- Projects ---

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// POST /projects
func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	p, err := s.engine.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		fail(w, r, err)
		return
	}
	info, err := s.engine.GetProject(p.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// GET /projects
func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"projects": s.engine.ListProjects()})
}

// GET /projects/{id}
func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.GetProject(projectID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GET /projects/current
func (s *server) handleCurrentProject(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.CurrentProject()
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type setCurrentRequest struct {
	ProjectID string `json:"project_id" validate:"required"`
}

// PUT /projects/current
func (s *server) handleSetCurrentProject(w http.ResponseWriter, r *http.Request) {
	var req setCurrentRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.engine.SetCurrentProject(req.ProjectID); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"project_id": req.ProjectID})
}

// DELETE /projects/{id}
func (s *server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteProject(r.Context(), projectID(r)); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Ingestion ---

type ingestRequest struct {
	Text       string `json:"text" validate:"required"`
	Source     string `json:"source" validate:"max=500"`
	DocumentID string `json:"document_id" validate:"max=200"`
}

// POST /projects/{id}/ingest
// Accepts a multipart "file" upload or JSON {"text": ...}.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()
	pid := projectID(r)

	if _, err := s.engine.GetProject(pid); err != nil {
		fail(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
			return
		}
		defer file.Close()

		// Sanitise filename to prevent path traversal.
		safeName := filepath.Base(header.Filename)

		tmpDir, err := os.MkdirTemp("", "graphagent-upload-")
		if err != nil {
			fail(w, r, fmt.Errorf("creating temp dir: %w", err))
			return
		}
		defer os.RemoveAll(tmpDir)

		tmpPath := filepath.Join(tmpDir, safeName)
		dst, err := os.Create(tmpPath)
		if err != nil {
			fail(w, r, fmt.Errorf("creating temp file: %w", err))
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			fail(w, r, fmt.Errorf("saving uploaded file: %w", err))
			return
		}
		dst.Close()

		res, err := s.engine.IngestFile(ctx, pid, tmpPath)
		if err != nil {
			fail(w, r, err)
			return
		}
		slog.Info("ingest: upload complete", "file", safeName, "entities", res.EntitiesCreated)
		writeJSON(w, http.StatusOK, res)
		return
	}

	var req ingestRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	var opts []graphagent.IngestOption
	if req.Source != "" {
		opts = append(opts, graphagent.WithSource(req.Source))
	}
	if req.DocumentID != "" {
		opts = append(opts, graphagent.WithDocumentID(req.DocumentID))
	}
	res, err := s.engine.Ingest(ctx, pid, req.Text, opts...)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /projects/{id}/documents
func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.Documents(r.Context(), projectID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// --- Graph reads ---

type visualNode struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type visualEdge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// GET /projects/{id}/graph
func (s *server) handleGraph(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GraphSnapshot(projectID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	nodes := make([]visualNode, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes = append(nodes, visualNode{
			ID:          n.ID,
			Label:       n.Name,
			Type:        n.Type,
			Description: truncate(n.Description, visualDescriptionRunes),
		})
	}
	edges := make([]visualEdge, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, visualEdge{Source: e.SourceID, Target: e.TargetID, Type: e.Type, Description: e.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

// GET /projects/{id}/stats
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GraphStats(projectID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /projects/{id}/search?q=
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	entities, err := s.engine.Search(projectID(r), r.URL.Query().Get("q"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if entities == nil {
		entities = []graph.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

// GET /projects/{id}/entities/{eid}/neighbors
func (s *server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors, err := s.engine.Neighbors(projectID(r), r.PathValue("eid"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if neighbors == nil {
		neighbors = []graph.Neighbor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"neighbors": neighbors})
}

// --- Entities ---

type entityRequest struct {
	Name        string `json:"name" validate:"required,max=500"`
	Type        string `json:"type" validate:"max=100"`
	Description string `json:"description"`
}

// POST /projects/{id}/entities
func (s *server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	ent, err := s.engine.CreateEntity(projectID(r), req.Name, req.Type, req.Description)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

// GET /projects/{id}/entities/{eid}
func (s *server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ent, err := s.engine.GetEntity(projectID(r), r.PathValue("eid"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// PUT /projects/{id}/entities/{eid}
func (s *server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	ent, err := s.engine.UpdateEntity(projectID(r), r.PathValue("eid"), req.Name, req.Type, req.Description)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

// DELETE /projects/{id}/entities/{eid}
func (s *server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.DeleteEntity(projectID(r), r.PathValue("eid"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "relations_removed": removed})
}

// --- Relations ---

type relationRequest struct {
	SourceID     string `json:"source_id" validate:"required"`
	TargetID     string `json:"target_id" validate:"required"`
	RelationType string `json:"relation_type" validate:"max=100"`
	Description  string `json:"description"`
	SourceText   string `json:"source_text"`
}

// POST /projects/{id}/relations
func (s *server) handleCreateRelation(w http.ResponseWriter, r *http.Request) {
	var req relationRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	rel, err := s.engine.CreateRelation(projectID(r), req.SourceID, req.TargetID, req.RelationType, req.Description, req.SourceText)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// pair reads the source and target query parameters.
func pair(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	src, tgt := q.Get("source"), q.Get("target")
	if src == "" || tgt == "" {
		return "", "", fmt.Errorf("%w: source and target are required", graphagent.ErrInvalidArgument)
	}
	return src, tgt, nil
}

// GET /projects/{id}/relations?source=&target=
func (s *server) handleGetRelation(w http.ResponseWriter, r *http.Request) {
	src, tgt, err := pair(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	rel, err := s.engine.GetRelation(projectID(r), src, tgt)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type updateRelationRequest struct {
	SourceID     string `json:"source_id" validate:"required"`
	TargetID     string `json:"target_id" validate:"required"`
	RelationType string `json:"relation_type" validate:"required,max=100"`
	Description  string `json:"description"`
}

// PUT /projects/{id}/relations
func (s *server) handleUpdateRelation(w http.ResponseWriter, r *http.Request) {
	var req updateRelationRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	rel, err := s.engine.UpdateRelation(projectID(r), req.SourceID, req.TargetID, req.RelationType, req.Description)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// DELETE /projects/{id}/relations?source=&target=
func (s *server) handleDeleteRelation(w http.ResponseWriter, r *http.Request) {
	src, tgt, err := pair(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	n, err := s.engine.DeleteRelation(projectID(r), src, tgt)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "deleted": n})
}

// --- History ---

// GET /projects/{id}/history?limit=
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	turns, err := s.engine.History(r.Context(), projectID(r), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// GET /health
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": len(s.engine.ListProjects()),
	})
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
