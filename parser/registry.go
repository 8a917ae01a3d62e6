package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Registry maps file extensions to parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns a registry with the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&TextParser{}, &PDFParser{}, &DOCXParser{}, &XLSXParser{}, &PPTXParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// Get returns the parser for format, an extension without the dot.
func (r *Registry) Get(format string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

// Register adds or replaces the parser for format.
func (r *Registry) Register(format string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[strings.ToLower(format)] = p
}

// Formats lists the registered extensions.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, err := r.Get(Format(path))
	return err == nil
}

// Load reads the document at path and returns its text. Unknown extensions
// fail with ErrUnsupportedFormat and parser failures with ErrParseError.
func (r *Registry) Load(ctx context.Context, path string) (string, error) {
	p, err := r.Get(Format(path))
	if err != nil {
		return "", err
	}
	res, err := p.Parse(ctx, path)
	if err != nil {
		if errors.Is(err, ErrParseError) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrParseError, filepath.Base(path), err)
	}
	return res.Text(), nil
}

// Format returns the lowercase extension of path without the dot.
func Format(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
