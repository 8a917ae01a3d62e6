package stream

import (
	"context"
	"sync"
)

// ChanSink delivers frames over a bounded channel. The producer calls Close
// after its last Send.
type ChanSink struct {
	ch chan Frame

	mu   sync.Mutex
	done bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanSink{ch: make(chan Frame, buffer)}
}

// Send blocks until the frame is buffered or ctx is done. Nothing is
// delivered once ctx is done, and a terminal frame closes the sink only
// after it has been buffered.
func (s *ChanSink) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case s.ch <- f:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.Terminal() {
		s.done = true
	}
	return nil
}

// Frames returns the receive side of the sink.
func (s *ChanSink) Frames() <-chan Frame {
	return s.ch
}

// Close closes the frame channel.
func (s *ChanSink) Close() {
	close(s.ch)
}
