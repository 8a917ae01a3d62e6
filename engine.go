// Package graphagent builds per-project knowledge graphs from documents and
// answers questions over them with a streaming agent.
package graphagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/graphagent/agent"
	"github.com/brunobiangulo/graphagent/extract"
	"github.com/brunobiangulo/graphagent/graph"
	"github.com/brunobiangulo/graphagent/ingest"
	"github.com/brunobiangulo/graphagent/llm"
	"github.com/brunobiangulo/graphagent/metrics"
	"github.com/brunobiangulo/graphagent/parser"
	"github.com/brunobiangulo/graphagent/store"
	"github.com/brunobiangulo/graphagent/stream"
)

// Engine is the main entry point: a registry of projects, each owning one
// in-memory graph, plus ingestion and chat over them.
//
// Methods taking a projectID treat "" as the current project.
type Engine interface {
	// CreateProject registers a new empty project and makes it current.
	CreateProject(ctx context.Context, name, description string) (Project, error)
	// ListProjects returns all projects, newest first, with graph stats.
	ListProjects() []ProjectInfo
	GetProject(id string) (ProjectInfo, error)
	// DeleteProject removes the project and clears its graph. An empty id
	// deletes the current project.
	DeleteProject(ctx context.Context, id string) error
	SetCurrentProject(id string) error
	CurrentProject() (ProjectInfo, error)

	// Ingest chunks raw text, extracts facts, and merges them into the graph.
	Ingest(ctx context.Context, projectID, text string, opts ...IngestOption) (*ingest.Result, error)
	// IngestFile loads a document through the parser registry and ingests it.
	IngestFile(ctx context.Context, projectID, path string, opts ...IngestOption) (*ingest.Result, error)

	// Chat runs one agent turn and streams it into sink.
	Chat(ctx context.Context, projectID, question string, history agent.History, sink stream.Sink) (*agent.Result, error)

	GraphSnapshot(projectID string) (graph.Snapshot, error)
	GraphStats(projectID string) (GraphStats, error)
	Search(projectID, query string) ([]graph.Entity, error)
	Neighbors(projectID, entityID string) ([]graph.Neighbor, error)

	GetEntity(projectID, id string) (graph.Entity, error)
	CreateEntity(projectID, name, typ, description string) (graph.Entity, error)
	UpdateEntity(projectID, id, name, typ, description string) (graph.Entity, error)
	DeleteEntity(projectID, id string) (int, error)
	CreateRelation(projectID, sourceID, targetID, typ, description, sourceText string) (graph.Relation, error)
	GetRelation(projectID, sourceID, targetID string) (graph.Relation, error)
	UpdateRelation(projectID, sourceID, targetID, typ, description string) (graph.Relation, error)
	DeleteRelation(projectID, sourceID, targetID string) (int, error)

	// History returns recent journaled chat turns. Empty when the journal
	// is disabled.
	History(ctx context.Context, projectID string, limit int) ([]store.Turn, error)
	// Documents returns journaled ingestion runs. Empty when the journal
	// is disabled.
	Documents(ctx context.Context, projectID string) ([]store.Document, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// Project is a named container owning exactly one graph.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectInfo is a project with its current graph counters.
type ProjectInfo struct {
	Project
	Stats   graph.Stats `json:"stats"`
	Current bool        `json:"current"`
}

// GraphStats holds graph counters and the per-type breakdown.
type GraphStats struct {
	graph.Stats
	graph.TypeBreakdown
}

// IngestOption configures one ingestion.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	documentID string
	source     string
	format     string
	progress   func(ingest.Progress)
}

// WithDocumentID sets the document id used for chunk ids.
func WithDocumentID(id string) IngestOption {
	return func(o *ingestOptions) { o.documentID = id }
}

// WithSource records where the text came from, such as a file name.
func WithSource(source string) IngestOption {
	return func(o *ingestOptions) { o.source = source }
}

// WithProgress reports per-chunk progress.
func WithProgress(fn func(ingest.Progress)) IngestOption {
	return func(o *ingestOptions) { o.progress = fn }
}

// Option configures an engine.
type Option func(*engine)

// WithChatProvider overrides the streaming provider used for chat turns.
func WithChatProvider(p llm.Streamer) Option {
	return func(e *engine) { e.chat = p }
}

// WithExtractor overrides the extraction client used for ingestion.
func WithExtractor(ex extract.Extractor) Option {
	return func(e *engine) { e.extractor = ex }
}

// WithParsers overrides the document parser registry.
func WithParsers(r *parser.Registry) Option {
	return func(e *engine) { e.parsers = r }
}

type project struct {
	Project
	seq   int
	graph *graph.Store
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg Config

	mu       sync.RWMutex
	projects map[string]*project
	current  string
	seq      int
	closed   bool

	chat      llm.Streamer
	extractor extract.Extractor
	parsers   *parser.Registry
	pipeline  *ingest.Pipeline
	agent     *agent.Orchestrator
	journal   *store.Store

	now func() time.Time
}

// New creates an engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		projects: make(map[string]*project),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.chat == nil {
		chat, err := llm.NewProvider(cfg.chatLLM())
		if err != nil {
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
		e.chat = chat
	}
	if e.extractor == nil {
		lc := cfg.extractionLLM()
		p, err := llm.NewProvider(lc)
		if err != nil {
			return nil, fmt.Errorf("creating extraction provider: %w", err)
		}
		e.extractor = extract.NewClient(p, lc.Model)
	}
	if e.parsers == nil {
		e.parsers = parser.NewRegistry()
	}

	e.pipeline = ingest.New(e.extractor, cfg.ingestConfig())
	e.agent = agent.New(e.chat, cfg.agentConfig())

	if cfg.JournalPath != "" {
		j, err := store.New(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		e.journal = j
	}

	metrics.SetProjects(0)
	return e, nil
}

// --- Projects ---

func (e *engine) CreateProject(ctx context.Context, name, description string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is required", ErrInvalidArgument)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Project{}, ErrClosed
	}
	e.seq++
	p := &project{
		Project: Project{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			CreatedAt:   e.now(),
		},
		seq:   e.seq,
		graph: graph.NewStore(),
	}
	e.projects[p.ID] = p
	e.current = p.ID
	n := len(e.projects)
	e.mu.Unlock()

	metrics.SetProjects(n)
	slog.Info("engine: project created", "project", p.ID, "name", name)

	if e.journal != nil {
		if err := e.journal.SaveProject(ctx, store.Project{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			CreatedAt:   p.CreatedAt,
		}); err != nil {
			slog.Warn("engine: journal project failed", "project", p.ID, "error", err)
		}
	}
	return p.Project, nil
}

func (e *engine) ListProjects() []ProjectInfo {
	e.mu.RLock()
	list := make([]*project, 0, len(e.projects))
	for _, p := range e.projects {
		list = append(list, p)
	}
	current := e.current
	e.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq > list[j].seq })
	out := make([]ProjectInfo, 0, len(list))
	for _, p := range list {
		out = append(out, info(p, current))
	}
	return out
}

func (e *engine) GetProject(id string) (ProjectInfo, error) {
	p, err := e.project(id)
	if err != nil {
		return ProjectInfo{}, err
	}
	e.mu.RLock()
	current := e.current
	e.mu.RUnlock()
	return info(p, current), nil
}

func (e *engine) DeleteProject(ctx context.Context, id string) error {
	e.mu.Lock()
	if id == "" {
		id = e.current
		if id == "" {
			e.mu.Unlock()
			return fmt.Errorf("%w: no current project", ErrProjectNotFound)
		}
	}
	p, ok := e.projects[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	delete(e.projects, id)
	if e.current == id {
		e.current = ""
		best := 0
		for pid, other := range e.projects {
			if other.seq > best {
				best, e.current = other.seq, pid
			}
		}
	}
	n := len(e.projects)
	e.mu.Unlock()

	// In-flight turns holding the old handle observe an empty graph.
	p.graph.Clear()
	metrics.SetProjects(n)
	slog.Info("engine: project deleted", "project", id)

	if e.journal != nil {
		if err := e.journal.DeleteProject(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("engine: journal delete failed", "project", id, "error", err)
		}
	}
	return nil
}

func (e *engine) SetCurrentProject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.projects[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	e.current = id
	return nil
}

func (e *engine) CurrentProject() (ProjectInfo, error) {
	return e.GetProject("")
}

// project resolves id, with "" meaning the current project.
func (e *engine) project(id string) (*project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if id == "" {
		id = e.current
		if id == "" {
			return nil, fmt.Errorf("%w: no current project", ErrProjectNotFound)
		}
	}
	p, ok := e.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, nil
}

func (e *engine) graphOf(projectID string) (*graph.Store, error) {
	p, err := e.project(projectID)
	if err != nil {
		return nil, err
	}
	return p.graph, nil
}

func info(p *project, current string) ProjectInfo {
	return ProjectInfo{Project: p.Project, Stats: p.graph.Stats(), Current: p.ID == current}
}

// --- Ingestion ---

func (e *engine) Ingest(ctx context.Context, projectID, text string, opts ...IngestOption) (*ingest.Result, error) {
	var o ingestOptions
	for _, fn := range opts {
		fn(&o)
	}
	p, err := e.project(projectID)
	if err != nil {
		return nil, err
	}

	var runOpts []ingest.Option
	if o.documentID != "" {
		runOpts = append(runOpts, ingest.WithDocumentID(o.documentID))
	}
	if o.progress != nil {
		runOpts = append(runOpts, ingest.WithProgress(o.progress))
	}

	slog.Info("engine: ingest", "project", p.ID, "source", o.source, "bytes", len(text))
	res, err := e.pipeline.Run(ctx, p.graph, text, runOpts...)
	e.logIngest(ctx, p.ID, o, res, err)
	return res, err
}

func (e *engine) IngestFile(ctx context.Context, projectID, path string, opts ...IngestOption) (*ingest.Result, error) {
	if _, err := e.project(projectID); err != nil {
		return nil, err
	}
	text, err := e.parsers.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	base := []IngestOption{WithSource(filepath.Base(path)), func(o *ingestOptions) { o.format = parser.Format(path) }}
	return e.Ingest(ctx, projectID, text, append(base, opts...)...)
}

func (e *engine) logIngest(ctx context.Context, projectID string, o ingestOptions, res *ingest.Result, runErr error) {
	if e.journal == nil {
		return
	}
	d := store.Document{
		ProjectID:  projectID,
		DocumentID: o.documentID,
		Source:     o.source,
		Format:     o.format,
		Status:     "complete",
	}
	if res != nil {
		d.DocumentID = res.DocumentID
		d.ChunksTotal = res.ChunksTotal
		d.ChunksFailed = res.ChunksFailed
		d.EntitiesCreated = res.EntitiesCreated
		d.RelationsCreated = res.RelationsCreated
	}
	if runErr != nil {
		d.Status = "failed"
		d.Error = runErr.Error()
	}
	if _, err := e.journal.LogIngest(context.WithoutCancel(ctx), d); err != nil {
		slog.Warn("engine: journal ingest failed", "project", projectID, "error", err)
	}
}

// --- Chat ---

func (e *engine) Chat(ctx context.Context, projectID, question string, history agent.History, sink stream.Sink) (*agent.Result, error) {
	p, err := e.project(projectID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.agent.Run(ctx, p.graph, question, history, sink)
	e.logTurn(ctx, p.ID, question, res, err, time.Since(start))
	return res, err
}

func (e *engine) logTurn(ctx context.Context, projectID, question string, res *agent.Result, runErr error, elapsed time.Duration) {
	if e.journal == nil {
		return
	}
	t := store.Turn{ProjectID: projectID, Question: question, Duration: elapsed, Outcome: "complete"}
	if res != nil {
		t.Response = res.Response
		t.UsedGraph = res.UsedGraph
		t.Entities = len(res.RetrievedEntities)
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		t.Outcome = "canceled"
	default:
		t.Outcome = "error"
	}
	if _, err := e.journal.LogTurn(context.WithoutCancel(ctx), t); err != nil {
		slog.Warn("engine: journal turn failed", "project", projectID, "error", err)
	}
}

// --- Graph reads ---

func (e *engine) GraphSnapshot(projectID string) (graph.Snapshot, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Snapshot{}, err
	}
	return g.Export(), nil
}

func (e *engine) GraphStats(projectID string) (GraphStats, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return GraphStats{}, err
	}
	return GraphStats{Stats: g.Stats(), TypeBreakdown: g.Breakdown()}, nil
}

func (e *engine) Search(projectID, query string) ([]graph.Entity, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return nil, err
	}
	return g.SearchEntities(query), nil
}

func (e *engine) Neighbors(projectID, entityID string) ([]graph.Neighbor, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return nil, err
	}
	return g.Neighbors(entityID)
}

// --- Entity and relation CRUD ---

func (e *engine) GetEntity(projectID, id string) (graph.Entity, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Entity{}, err
	}
	return g.GetEntity(id)
}

func (e *engine) CreateEntity(projectID, name, typ, description string) (graph.Entity, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Entity{}, err
	}
	if strings.TrimSpace(name) == "" {
		return graph.Entity{}, fmt.Errorf("%w: entity name is required", ErrInvalidArgument)
	}
	if typ == "" {
		typ = graph.DefaultEntityType
	}
	ent := g.AddEntity(name, typ, description, "")
	metrics.RecordGraphWrites("entity", "create", 1)
	return ent, nil
}

func (e *engine) UpdateEntity(projectID, id, name, typ, description string) (graph.Entity, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Entity{}, err
	}
	ent, err := g.UpdateEntity(id, name, typ, description)
	if err != nil {
		return graph.Entity{}, err
	}
	metrics.RecordGraphWrites("entity", "update", 1)
	return ent, nil
}

func (e *engine) DeleteEntity(projectID, id string) (int, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return 0, err
	}
	removed, err := g.DeleteEntity(id)
	if err != nil {
		return 0, err
	}
	metrics.RecordGraphWrites("entity", "delete", 1)
	metrics.RecordGraphWrites("relation", "delete", removed)
	return removed, nil
}

func (e *engine) CreateRelation(projectID, sourceID, targetID, typ, description, sourceText string) (graph.Relation, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Relation{}, err
	}
	if typ == "" {
		typ = graph.DefaultRelationType
	}
	rel, err := g.AddRelation(sourceID, targetID, typ, description, sourceText)
	if err != nil {
		return graph.Relation{}, err
	}
	metrics.RecordGraphWrites("relation", "create", 1)
	return rel, nil
}

func (e *engine) GetRelation(projectID, sourceID, targetID string) (graph.Relation, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Relation{}, err
	}
	return g.GetRelation(sourceID, targetID)
}

func (e *engine) UpdateRelation(projectID, sourceID, targetID, typ, description string) (graph.Relation, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return graph.Relation{}, err
	}
	rel, err := g.UpdateRelation(sourceID, targetID, typ, description)
	if err != nil {
		return graph.Relation{}, err
	}
	metrics.RecordGraphWrites("relation", "update", 1)
	return rel, nil
}

func (e *engine) DeleteRelation(projectID, sourceID, targetID string) (int, error) {
	g, err := e.graphOf(projectID)
	if err != nil {
		return 0, err
	}
	n, err := g.DeleteRelation(sourceID, targetID)
	if err != nil {
		return 0, err
	}
	metrics.RecordGraphWrites("relation", "delete", n)
	return n, nil
}

// --- Journal reads ---

func (e *engine) History(ctx context.Context, projectID string, limit int) ([]store.Turn, error) {
	p, err := e.project(projectID)
	if err != nil {
		return nil, err
	}
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.RecentTurns(ctx, p.ID, limit)
}

func (e *engine) Documents(ctx context.Context, projectID string) ([]store.Document, error) {
	p, err := e.project(projectID)
	if err != nil {
		return nil, err
	}
	if e.journal == nil {
		return nil, nil
	}
	return e.journal.ListDocuments(ctx, p.ID)
}

// Close clears all graphs and closes the journal.
func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	projects := e.projects
	e.projects = make(map[string]*project)
	e.current = ""
	e.mu.Unlock()

	for _, p := range projects {
		p.graph.Clear()
	}
	metrics.SetProjects(0)
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}
