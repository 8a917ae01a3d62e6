// Package stream implements the chat streaming protocol: zero or more
// content frames followed by exactly one terminal frame, either
// "[COMPLETE]" immediately followed by a JSON payload or "[ERROR]"
// immediately followed by a message.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// CompleteMarker prefixes the terminal success frame.
	CompleteMarker = "[COMPLETE]"
	// ErrorMarker prefixes the terminal error frame.
	ErrorMarker = "[ERROR]"
)

var (
	// ErrIncomplete is returned when a stream ends without a terminal frame.
	ErrIncomplete = errors.New("stream: ended without terminal frame")

	// ErrClosed is returned when a frame is sent after the terminal frame.
	ErrClosed = errors.New("stream: terminal frame already sent")

	// ErrBadFrame is returned for a terminal frame whose payload is not JSON.
	ErrBadFrame = errors.New("stream: malformed frame")
)

// Kind identifies a frame.
type Kind int

const (
	KindContent Kind = iota
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Frame is one unit of the stream.
type Frame struct {
	Kind    Kind
	Content string          // KindContent
	Payload json.RawMessage // KindComplete
	Err     string          // KindError
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool {
	return f.Kind == KindComplete || f.Kind == KindError
}

// Sink receives frames for one chat turn. Implementations reject frames
// after the terminal frame with ErrClosed.
type Sink interface {
	Send(ctx context.Context, f Frame) error
}

// ContentFrame returns a content frame.
func ContentFrame(text string) Frame {
	return Frame{Kind: KindContent, Content: text}
}

// CompleteFrame marshals v as the terminal payload.
func CompleteFrame(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("stream: marshal payload: %w", err)
	}
	return Frame{Kind: KindComplete, Payload: data}, nil
}

// ErrorFrame returns a terminal error frame.
func ErrorFrame(msg string) Frame {
	return Frame{Kind: KindError, Err: msg}
}

// Encode renders f as a single line without the trailing newline.
func Encode(f Frame) (string, error) {
	switch f.Kind {
	case KindContent:
		return Escape(f.Content), nil
	case KindComplete:
		var buf bytes.Buffer
		if err := json.Compact(&buf, f.Payload); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return CompleteMarker + buf.String(), nil
	case KindError:
		return ErrorMarker + Escape(f.Err), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %d", ErrBadFrame, int(f.Kind))
	}
}

// Decode parses one line produced by Encode.
func Decode(line string) (Frame, error) {
	switch {
	case strings.HasPrefix(line, CompleteMarker):
		payload := line[len(CompleteMarker):]
		if !json.Valid([]byte(payload)) {
			return Frame{}, fmt.Errorf("%w: invalid completion payload", ErrBadFrame)
		}
		return Frame{Kind: KindComplete, Payload: json.RawMessage(payload)}, nil
	case strings.HasPrefix(line, ErrorMarker):
		return Frame{Kind: KindError, Err: Unescape(line[len(ErrorMarker):])}, nil
	default:
		return Frame{Kind: KindContent, Content: Unescape(line)}, nil
	}
}

// Escape keeps text on one line and prevents it from starting with a
// marker. Backslash, LF and CR are escaped, as is a leading '['.
func Escape(s string) string {
	if !strings.ContainsAny(s, "\\\n\r") && !strings.HasPrefix(s, "[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '[':
			if i == 0 {
				b.WriteString(`\[`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses Escape. Unknown escapes are kept verbatim.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '[':
			b.WriteByte('[')
		default:
			b.WriteByte(c)
			b.WriteByte(s[i+1])
		}
		i++
	}
	return b.String()
}
