// Package ingest turns raw document text into graph facts: it chunks the
// text, extracts entities and relations per chunk through an LLM, and merges
// the results into a project's graph store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/graphagent/chunker"
	"github.com/brunobiangulo/graphagent/extract"
	"github.com/brunobiangulo/graphagent/graph"
	"github.com/brunobiangulo/graphagent/metrics"
)

var tracer = otel.Tracer("graphagent/ingest")

const (
	// DefaultConcurrency is the number of chunks extracted in parallel.
	DefaultConcurrency = 4

	// DefaultChunkTimeout caps one extraction attempt.
	DefaultChunkTimeout = 90 * time.Second

	// DefaultMinChunkTokens skips fragments such as stray headings.
	DefaultMinChunkTokens = 3
)

// Config configures a Pipeline.
type Config struct {
	Chunking       chunker.Config
	Concurrency    int
	ChunkTimeout   time.Duration
	MinChunkTokens int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Chunking:       chunker.Config{MaxTokens: 1024, Overlap: 128},
		Concurrency:    DefaultConcurrency,
		ChunkTimeout:   DefaultChunkTimeout,
		MinChunkTokens: DefaultMinChunkTokens,
	}
}

// Progress is reported after every chunk extraction finishes.
type Progress struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Failed     bool   `json:"failed"`
}

// ChunkError records a chunk that was skipped after its retry also failed.
type ChunkError struct {
	ChunkID string
	Order   int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %s (#%d): %v", e.ChunkID, e.Order, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Result summarizes one ingestion run. Errors lists soft failures: skipped
// chunks and dropped relations.
type Result struct {
	DocumentID       string       `json:"document_id"`
	ChunksTotal      int          `json:"chunks_total"`
	ChunksProcessed  int          `json:"chunks_processed"`
	ChunksFailed     int          `json:"chunks_failed"`
	ChunksSkipped    int          `json:"chunks_skipped"`
	EntitiesCreated  int          `json:"entities_created"`
	EntitiesMerged   int          `json:"entities_merged"`
	RelationsCreated int          `json:"relations_created"`
	RelationsUpdated int          `json:"relations_updated"`
	RelationsDropped int          `json:"relations_dropped"`
	RecordsDropped   int          `json:"records_dropped"`
	Errors           []string     `json:"errors,omitempty"`
	Failures         []ChunkError `json:"-"`
}

// Option configures a single Run.
type Option func(*runOptions)

type runOptions struct {
	documentID string
	progress   func(Progress)
}

// WithDocumentID sets the document id used for chunk ids. A random id is
// generated otherwise.
func WithDocumentID(id string) Option {
	return func(o *runOptions) { o.documentID = id }
}

// WithProgress registers a callback invoked after each chunk extraction.
// Calls are serialized.
func WithProgress(fn func(Progress)) Option {
	return func(o *runOptions) { o.progress = fn }
}

// Pipeline drives extraction and merging for documents.
type Pipeline struct {
	extractor extract.Extractor
	chunker   *chunker.Chunker
	cfg       Config
}

// New creates a pipeline. Zero-value config fields take defaults.
func New(ex extract.Extractor, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.MinChunkTokens < 0 {
		cfg.MinChunkTokens = 0
	}
	return &Pipeline{
		extractor: ex,
		chunker:   chunker.New(cfg.Chunking),
		cfg:       cfg,
	}
}

// extraction is the outcome of one chunk's extraction attempts.
type extraction struct {
	chunk   chunker.Chunk
	result  *extract.Result
	err     error
	retried bool
}

// Run ingests text into store. Chunk failures are absorbed into the result;
// the returned error is non-nil only on cancellation or when the store
// fails its invariant check after merging.
func (p *Pipeline) Run(ctx context.Context, store *graph.Store, text string, opts ...Option) (*Result, error) {
	var o runOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.documentID == "" {
		o.documentID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "ingest.Run", trace.WithAttributes(
		attribute.String("document_id", o.documentID),
	))
	defer span.End()

	start := time.Now()
	res := &Result{DocumentID: o.documentID}

	chunks := p.chunker.Split(o.documentID, text)
	res.ChunksTotal = len(chunks)

	var eligible []chunker.Chunk
	for _, c := range chunks {
		if c.Tokens < p.cfg.MinChunkTokens {
			slog.Debug("ingest: skipping trivial chunk", "chunk_id", c.ID, "tokens", c.Tokens)
			res.ChunksSkipped++
			metrics.RecordChunk("skipped")
			continue
		}
		eligible = append(eligible, c)
	}
	span.SetAttributes(attribute.Int("chunks", len(eligible)))

	if len(eligible) == 0 {
		return res, nil
	}

	slog.Info("ingest: processing chunks", "document_id", o.documentID,
		"total", len(chunks), "eligible", len(eligible), "concurrency", p.cfg.Concurrency)

	extractions, err := p.extractAll(ctx, o, eligible)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	for _, ex := range extractions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if ex.err != nil {
			ce := ChunkError{ChunkID: ex.chunk.ID, Order: ex.chunk.Order, Err: ex.err}
			res.ChunksFailed++
			res.Failures = append(res.Failures, ce)
			res.Errors = append(res.Errors, ce.Error())
			continue
		}
		res.ChunksProcessed++
		res.RecordsDropped += ex.result.Dropped
		if err := store.Update(func(tx *graph.Tx) error {
			return merge(tx, ex.chunk, ex.result, res)
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
	}

	if err := store.Verify(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("ingest %s: %w", o.documentID, err)
	}

	metrics.RecordGraphWrites("entity", "created", res.EntitiesCreated)
	metrics.RecordGraphWrites("entity", "merged", res.EntitiesMerged)
	metrics.RecordGraphWrites("relation", "created", res.RelationsCreated)
	metrics.RecordGraphWrites("relation", "merged", res.RelationsUpdated)
	metrics.RecordGraphWrites("relation", "dropped", res.RelationsDropped)
	metrics.ObserveIngest(time.Since(start))

	span.SetAttributes(
		attribute.Int("entities_created", res.EntitiesCreated),
		attribute.Int("relations_created", res.RelationsCreated),
		attribute.Int("chunks_failed", res.ChunksFailed),
	)

	if res.ChunksFailed > 0 || res.RelationsDropped > 0 {
		slog.Warn("ingest: completed with soft errors", "document_id", o.documentID,
			"chunks_failed", res.ChunksFailed, "relations_dropped", res.RelationsDropped)
	}
	slog.Info("ingest: done", "document_id", o.documentID,
		"entities_created", res.EntitiesCreated, "entities_merged", res.EntitiesMerged,
		"relations_created", res.RelationsCreated,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return res, nil
}

// extractAll runs extraction for every chunk with bounded parallelism. The
// returned slice is in chunk order.
func (p *Pipeline) extractAll(ctx context.Context, o runOptions, chunks []chunker.Chunk) ([]extraction, error) {
	out := make([]extraction, len(chunks))

	var (
		mu   sync.Mutex
		done int
	)
	total := len(chunks)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunkStart := time.Now()
			ex := p.extractChunk(ctx, c)
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = ex

			switch {
			case ex.err != nil:
				metrics.RecordChunk("failed")
				slog.Warn("ingest: chunk failed", "chunk_id", c.ID, "error", ex.err,
					"elapsed", time.Since(chunkStart).Round(time.Millisecond))
			case ex.retried:
				metrics.RecordChunk("retried")
			default:
				metrics.RecordChunk("ok")
			}

			mu.Lock()
			done++
			n := done
			if o.progress != nil {
				o.progress(Progress{
					DocumentID: o.documentID,
					ChunkID:    c.ID,
					Done:       n,
					Total:      total,
					Failed:     ex.err != nil,
				})
			}
			mu.Unlock()

			slog.Debug("ingest: chunk extracted",
				"progress", fmt.Sprintf("%d/%d", n, total), "chunk_id", c.ID,
				"elapsed", time.Since(chunkStart).Round(time.Millisecond))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// extractChunk makes the first attempt and, on failure, one strict retry.
func (p *Pipeline) extractChunk(ctx context.Context, c chunker.Chunk) extraction {
	res, err := p.attempt(ctx, c.Text)
	if err == nil {
		return extraction{chunk: c, result: res}
	}
	if ctx.Err() != nil {
		return extraction{chunk: c, err: ctx.Err()}
	}

	slog.Debug("ingest: retrying chunk with strict prompt", "chunk_id", c.ID, "error", err)
	res, retryErr := p.attempt(ctx, c.Text, extract.WithStrict())
	if retryErr != nil {
		return extraction{chunk: c, err: fmt.Errorf("strict retry: %w (first attempt: %v)", retryErr, err), retried: true}
	}
	return extraction{chunk: c, result: res, retried: true}
}

func (p *Pipeline) attempt(ctx context.Context, text string, opts ...extract.Option) (*extract.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
	defer cancel()
	return p.extractor.Extract(ctx, text, opts...)
}
