package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrNoFlusher is returned when the response writer cannot be flushed.
var ErrNoFlusher = errors.New("stream: response writer does not support flushing")

// Writer writes frames as server-sent events, one "data:" line per frame,
// flushing after each. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool
}

// NewWriter prepares w for event streaming and sets the SSE headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one frame. Empty content frames are skipped.
func (w *Writer) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Kind == KindContent && f.Content == "" {
		return nil
	}
	line, err := Encode(f)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrClosed
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", line); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	if f.Terminal() {
		w.done = true
	}
	return nil
}

// Heartbeat writes an SSE comment to keep idle connections open.
func (w *Writer) Heartbeat() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrClosed
	}
	if _, err := io.WriteString(w.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// Done reports whether the terminal frame has been written.
func (w *Writer) Done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}
