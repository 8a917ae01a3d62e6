package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config) Streamer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return NewOpenAICompat(cfg)
}

func TestChatSuccess(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"response_format":{"type":"json_object"}`) {
			t.Errorf("json mode not requested: %s", body)
		}
		fmt.Fprint(w, `{"model":"m","choices":[{"message":{"content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`)
	}, Config{APIKey: "k"})

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages:       []Message{{Role: "user", Content: "hello"}},
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" || resp.TotalTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChatBaseRespError(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[],"base_resp":{"status_code":1004,"status_msg":"auth failed"}}`)
	}, Config{})

	_, err := p.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if !strings.Contains(err.Error(), "auth failed") {
		t.Errorf("err = %v, want status message", err)
	}
}

func TestChatNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}, Config{})

	_, err := p.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestChatRetriesOnUnavailable(t *testing.T) {
	old := baseRetryDelay
	baseRetryDelay = time.Millisecond
	t.Cleanup(func() { baseRetryDelay = old })

	var calls atomic.Int32
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}, Config{MaxRetries: 3})

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Errorf("content = %q, calls = %d", resp.Content, calls.Load())
	}
}

func TestChatTimeoutClassified(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, Config{MaxRetries: -1, Timeout: 50 * time.Millisecond})

	_, err := p.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestChatStream(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":true`) {
			t.Errorf("stream flag missing: %s", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, Config{})

	s, err := p.ChatStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer s.Close()

	var got strings.Builder
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got.WriteString(frag)
	}
	if got.String() != "Hello" {
		t.Errorf("stream = %q, want %q", got.String(), "Hello")
	}
}

func TestChatStreamProviderError(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"base_resp\":{\"status_code\":1002,\"status_msg\":\"rate limited\"}}\n\n")
	}, Config{})

	s, err := p.ChatStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	defer s.Close()
	if _, err := s.Recv(); !errors.Is(err, ErrUpstream) {
		t.Fatalf("Recv err = %v, want ErrUpstream", err)
	}
}

func TestChatStreamStatusError(t *testing.T) {
	p := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}, Config{})

	if _, err := p.ChatStream(context.Background(), ChatRequest{}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("connection refused"), ErrUpstream},
		{context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		if got := classify(tt.in); !errors.Is(got, tt.want) {
			t.Errorf("classify(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := classify(context.Canceled); errors.Is(got, ErrUpstream) {
		t.Error("cancellation must not be reported as upstream failure")
	}
}

func TestRateLimiterConfigured(t *testing.T) {
	c := newOpenAICompatClient(Config{RequestsPerSecond: 0.5})
	if c.limiter == nil {
		t.Fatal("expected limiter")
	}
	if c.limiter.Burst() != 1 {
		t.Errorf("burst = %d, want 1", c.limiter.Burst())
	}
	if newOpenAICompatClient(Config{}).limiter != nil {
		t.Error("limiter should be nil when unset")
	}
}
