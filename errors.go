package graphagent

import (
	"errors"
	"fmt"

	"github.com/brunobiangulo/graphagent/extract"
	"github.com/brunobiangulo/graphagent/graph"
	"github.com/brunobiangulo/graphagent/llm"
	"github.com/brunobiangulo/graphagent/parser"
)

var (
	// ErrNotFound is returned when an entity, relation or project is absent.
	ErrNotFound = graph.ErrNotFound

	// ErrProjectNotFound is returned for unknown project ids and when no
	// project is current. It matches ErrNotFound.
	ErrProjectNotFound = fmt.Errorf("graphagent: project %w", graph.ErrNotFound)

	// ErrMalformedResponse is returned when LLM output cannot be parsed.
	ErrMalformedResponse = extract.ErrMalformedResponse

	// ErrTimeout is returned when an LLM call exceeds its deadline.
	ErrTimeout = llm.ErrTimeout

	// ErrUpstream is returned for LLM transport failures.
	ErrUpstream = llm.ErrUpstream

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat

	// ErrParseError is returned when a document loader fails.
	ErrParseError = parser.ErrParseError

	// ErrInvariantViolation indicates a dangling relation or counter drift.
	ErrInvariantViolation = graph.ErrInvariantViolation

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("graphagent: invalid configuration")

	// ErrInvalidArgument is returned for empty names and similar bad input.
	ErrInvalidArgument = errors.New("graphagent: invalid argument")

	// ErrClosed is returned by an engine after Close.
	ErrClosed = errors.New("graphagent: engine closed")
)
