package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/graphagent"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

var validate = validator.New()

type server struct {
	engine graphagent.Engine
}

func newServer(e graphagent.Engine) *server {
	return &server{engine: e}
}

// routes registers every endpoint on a fresh mux. A {id} of "current"
// addresses the current project.
func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("GET /projects/current", s.handleCurrentProject)
	mux.HandleFunc("PUT /projects/current", s.handleSetCurrentProject)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /projects/{id}/ingest", s.handleIngest)
	mux.HandleFunc("GET /projects/{id}/documents", s.handleDocuments)

	mux.HandleFunc("GET /projects/{id}/graph", s.handleGraph)
	mux.HandleFunc("GET /projects/{id}/stats", s.handleStats)
	mux.HandleFunc("GET /projects/{id}/search", s.handleSearch)

	mux.HandleFunc("POST /projects/{id}/entities", s.handleCreateEntity)
	mux.HandleFunc("GET /projects/{id}/entities/{eid}", s.handleGetEntity)
	mux.HandleFunc("PUT /projects/{id}/entities/{eid}", s.handleUpdateEntity)
	mux.HandleFunc("DELETE /projects/{id}/entities/{eid}", s.handleDeleteEntity)
	mux.HandleFunc("GET /projects/{id}/entities/{eid}/neighbors", s.handleNeighbors)

	mux.HandleFunc("POST /projects/{id}/relations", s.handleCreateRelation)
	mux.HandleFunc("GET /projects/{id}/relations", s.handleGetRelation)
	mux.HandleFunc("PUT /projects/{id}/relations", s.handleUpdateRelation)
	mux.HandleFunc("DELETE /projects/{id}/relations", s.handleDeleteRelation)

	mux.HandleFunc("POST /projects/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /projects/{id}/history", s.handleHistory)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// projectID reads the {id} path value, mapping "current" to "".
func projectID(r *http.Request) string {
	id := r.PathValue("id")
	if id == "current" {
		return ""
	}
	return id
}

// decode reads a JSON body into v and validates its struct tags.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", graphagent.ErrInvalidArgument, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", graphagent.ErrInvalidArgument, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", graphagent.ErrInvalidArgument, err)
	}
	return nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graphagent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, graphagent.ErrInvalidArgument), errors.Is(err, graphagent.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, graphagent.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, graphagent.ErrParseError):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error": msg}. Server errors are logged and hidden
// behind a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
