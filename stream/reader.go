package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxLineSize bounds a single frame; completion payloads carry the whole
// retrieval chain.
const maxLineSize = 4 << 20

// RemoteError is the message of a terminal error frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "stream: remote error: " + e.Message
}

// Reader decodes frames from an SSE body or from plain newline separated
// frames.
type Reader struct {
	sc   *bufio.Scanner
	done bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next frame. After the terminal frame it returns io.EOF.
// If the input ends first, it returns ErrIncomplete.
func (r *Reader) Next() (Frame, error) {
	if r.done {
		return Frame{}, io.EOF
	}
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimPrefix(rest, " ")
		}
		f, err := Decode(line)
		if err != nil {
			return Frame{}, err
		}
		if f.Terminal() {
			r.done = true
		}
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return Frame{}, fmt.Errorf("stream: read: %w", err)
	}
	return Frame{}, ErrIncomplete
}

// Collect reads a whole stream, concatenating content. On success it
// returns the completion payload. A terminal error frame is returned as a
// *RemoteError; a truncated stream as ErrIncomplete. Text received so far is
// returned in every case.
func Collect(r io.Reader, onContent func(string)) (string, json.RawMessage, error) {
	rd := NewReader(r)
	var text strings.Builder
	for {
		f, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrIncomplete
			}
			return text.String(), nil, err
		}
		switch f.Kind {
		case KindContent:
			text.WriteString(f.Content)
			if onContent != nil {
				onContent(f.Content)
			}
		case KindComplete:
			return text.String(), f.Payload, nil
		case KindError:
			return text.String(), nil, &RemoteError{Message: f.Err}
		}
	}
}
