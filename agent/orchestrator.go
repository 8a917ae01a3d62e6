package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunobiangulo/graphagent/graph"
	"github.com/brunobiangulo/graphagent/llm"
	"github.com/brunobiangulo/graphagent/metrics"
	"github.com/brunobiangulo/graphagent/stream"
)

var tracer = otel.Tracer("graphagent/agent")

// Config configures an Orchestrator.
type Config struct {
	RouteMode             RouteMode `json:"route_mode" yaml:"route_mode"`
	MaxKeywords           int       `json:"max_keywords" yaml:"max_keywords"`
	MaxEntitiesPerKeyword int       `json:"max_entities_per_keyword" yaml:"max_entities_per_keyword"`
	MaxNeighbors          int       `json:"max_neighbors" yaml:"max_neighbors"`
	MaxHistoryTurns       int       `json:"max_history_turns" yaml:"max_history_turns"`

	Model                 string  `json:"model" yaml:"model"`
	RouteTemperature      float64 `json:"route_temperature" yaml:"route_temperature"`
	GenerationTemperature float64 `json:"generation_temperature" yaml:"generation_temperature"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		RouteMode:             RouteLLM,
		MaxKeywords:           5,
		MaxEntitiesPerKeyword: 3,
		MaxNeighbors:          3,
		MaxHistoryTurns:       10,
		RouteTemperature:      0.3,
		GenerationTemperature: 0.7,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateHook registers fn to observe every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.hook = fn }
}

// Orchestrator runs chat turns. It holds no per-turn state and is safe for
// concurrent use.
type Orchestrator struct {
	chat llm.Streamer
	cfg  Config
	hook func(State)
}

// New creates an orchestrator. Zero limits take defaults.
func New(chat llm.Streamer, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.RouteMode == "" {
		cfg.RouteMode = def.RouteMode
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = def.MaxKeywords
	}
	if cfg.MaxEntitiesPerKeyword <= 0 {
		cfg.MaxEntitiesPerKeyword = def.MaxEntitiesPerKeyword
	}
	if cfg.MaxNeighbors <= 0 {
		cfg.MaxNeighbors = def.MaxNeighbors
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = def.MaxHistoryTurns
	}
	o := &Orchestrator{chat: chat, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) enter(s State) {
	slog.Debug("agent: state", "state", s.String())
	if o.hook != nil {
		o.hook(s)
	}
}

// Run answers question against store and streams the answer into sink.
// Route and retrieval failures degrade to a direct answer. A generation
// failure emits an error frame and is returned. On cancellation no terminal
// frame is sent and ctx.Err() is returned.
func (o *Orchestrator) Run(ctx context.Context, store *graph.Store, question string, history History, sink stream.Sink) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "agent.Run", trace.WithAttributes(
		attribute.String("route_mode", string(o.cfg.RouteMode)),
	))
	defer span.End()

	o.enter(StateStart)
	res := &Result{
		RetrievalChain:    []ChainStep{},
		RetrievedEntities: []ChainEntity{},
	}

	o.enter(StateRouteDecision)
	res.UsedGraph = o.route(ctx, store, question)
	if err := ctx.Err(); err != nil {
		return nil, o.canceled(span, start, err)
	}
	metrics.RecordRoute(string(o.cfg.RouteMode), res.UsedGraph)

	if res.UsedGraph {
		o.enter(StateGraphRetrieval)
		chain, entities, err := o.retrieve(ctx, store, question)
		if cerr := ctx.Err(); cerr != nil {
			return nil, o.canceled(span, start, cerr)
		}
		if err != nil {
			slog.Warn("agent: graph retrieval failed, answering directly", "error", err)
			metrics.RecordDegradation("retrieval")
			span.RecordError(err)
			res.UsedGraph = false
		} else {
			res.RetrievalChain = chain
			res.RetrievedEntities = entities
		}
	}
	if res.UsedGraph {
		res.RouteDecision = "use_graph"
	} else {
		res.RouteDecision = "direct_answer"
		o.enter(StateDirectAnswer)
	}
	span.SetAttributes(attribute.Bool("used_graph", res.UsedGraph))

	o.enter(StateAnswerGeneration)
	text, err := o.generate(ctx, o.buildMessages(res, question, history), sink)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, o.canceled(span, start, cerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveTurn("error", time.Since(start))
		if serr := sink.Send(ctx, stream.ErrorFrame(err.Error())); serr != nil {
			slog.Warn("agent: sending error frame failed", "error", serr)
		}
		o.enter(StateEnd)
		return nil, fmt.Errorf("answer generation: %w", err)
	}
	res.Response = text
	if cerr := ctx.Err(); cerr != nil {
		return nil, o.canceled(span, start, cerr)
	}

	done, err := stream.CompleteFrame(res)
	if err != nil {
		return nil, err
	}
	if err := sink.Send(ctx, done); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, o.canceled(span, start, cerr)
		}
		return nil, fmt.Errorf("sending completion: %w", err)
	}

	o.enter(StateEnd)
	metrics.ObserveTurn("complete", time.Since(start))
	slog.Info("agent: turn complete", "used_graph", res.UsedGraph,
		"steps", len(res.RetrievalChain), "entities", len(res.RetrievedEntities),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) canceled(span trace.Span, start time.Time, err error) error {
	span.SetStatus(codes.Error, "canceled")
	metrics.ObserveTurn("canceled", time.Since(start))
	slog.Info("agent: turn canceled", "error", err)
	return err
}

// route decides whether to consult the graph. It never fails: errors and
// ambiguous answers route to a direct answer.
func (o *Orchestrator) route(ctx context.Context, store *graph.Store, question string) bool {
	if store == nil || store.Stats().NodeCount == 0 {
		return false
	}

	switch o.cfg.RouteMode {
	case RouteNever:
		return false
	case RouteAlways:
		return true
	case RouteHeuristic:
		for _, kw := range localKeywords(question) {
			if len(store.SearchEntities(kw)) > 0 {
				return true
			}
		}
		return false
	}

	resp, err := o.chat.Chat(ctx, llm.ChatRequest{
		Model: o.cfg.Model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(decisionPrompt, question)},
		},
		Temperature: o.cfg.RouteTemperature,
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("agent: route decision failed, answering directly", "error", err)
			metrics.RecordDegradation("route")
		}
		return false
	}
	return parseRoute(resp.Content)
}

// parseRoute reports whether a decision reply asks for the graph. A reply
// naming both routes is ambiguous.
func parseRoute(reply string) bool {
	reply = strings.ToLower(reply)
	return strings.Contains(reply, "use_graph") && !strings.Contains(reply, "direct_answer")
}

// retrieve runs one search step per keyword. It performs no mutation.
func (o *Orchestrator) retrieve(ctx context.Context, store *graph.Store, question string) ([]ChainStep, []ChainEntity, error) {
	ctx, span := tracer.Start(ctx, "agent.retrieve")
	defer span.End()

	keywords, err := o.llmKeywords(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		slog.Debug("agent: keyword generation failed, using local terms", "error", err)
		keywords = localKeywords(question)
		if len(keywords) == 0 {
			return nil, nil, fmt.Errorf("no search keywords: %w", err)
		}
	}
	if len(keywords) > o.cfg.MaxKeywords {
		keywords = keywords[:o.cfg.MaxKeywords]
	}
	span.SetAttributes(attribute.StringSlice("keywords", keywords))

	chain := make([]ChainStep, 0, len(keywords))
	entities := []ChainEntity{}
	seen := make(map[string]bool)

	for _, kw := range keywords {
		matches := store.SearchEntities(kw)
		step := ChainStep{Query: kw, Found: len(matches), Entities: []ChainEntity{}}

		for _, m := range matches[:min(len(matches), o.cfg.MaxEntitiesPerKeyword)] {
			ce := ChainEntity{
				ID:          m.ID,
				Name:        m.Name,
				Type:        m.Type,
				Description: m.Description,
				ChunkID:     m.SourceChunkID,
				MatchedBy:   kw,
				Neighbors:   []ChainNeighbor{},
			}
			neighbors, err := store.Neighbors(m.ID)
			if err != nil && !errors.Is(err, graph.ErrNotFound) {
				return nil, nil, err
			}
			for _, n := range neighbors[:min(len(neighbors), o.cfg.MaxNeighbors)] {
				ce.Neighbors = append(ce.Neighbors, ChainNeighbor{
					Name:     n.Entity.Name,
					Type:     n.Entity.Type,
					Relation: n.Relation.Type,
					Outgoing: n.Outgoing,
				})
			}
			step.Entities = append(step.Entities, ce)
			if !seen[ce.ID] {
				seen[ce.ID] = true
				entities = append(entities, ce)
			}
		}
		chain = append(chain, step)
	}

	return chain, entities, nil
}

// buildMessages assembles the generation prompt.
func (o *Orchestrator) buildMessages(res *Result, question string, history History) []llm.Message {
	system := directAnswerPrompt
	if res.UsedGraph {
		system = fmt.Sprintf(graphAnswerPrompt, graphContext(res.RetrievedEntities))
	}
	msgs := []llm.Message{{Role: "system", Content: system}}
	for _, t := range history.Last(o.cfg.MaxHistoryTurns) {
		if t.Content == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	return append(msgs, llm.Message{Role: "user", Content: question})
}

// generate streams the answer into sink and returns the full text.
func (o *Orchestrator) generate(ctx context.Context, msgs []llm.Message, sink stream.Sink) (string, error) {
	s, err := o.chat.ChatStream(ctx, llm.ChatRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		Temperature: o.cfg.GenerationTemperature,
	})
	if err != nil {
		return "", err
	}
	defer s.Close()

	var text strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return text.String(), err
		}
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return text.String(), err
		}
		if frag == "" {
			continue
		}
		text.WriteString(frag)
		if err := sink.Send(ctx, stream.ContentFrame(frag)); err != nil {
			return text.String(), err
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion", llm.ErrUpstream)
	}
	return text.String(), nil
}
