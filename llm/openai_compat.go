package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// openAICompatClient is the shared base for all OpenAI-compatible providers.
type openAICompatClient struct {
	cfg        Config
	client     *http.Client // non-streaming requests, bounded by cfg.Timeout
	streamHTTP *http.Client // streaming requests, bounded by the context only
	limiter    *rate.Limiter
	chatPath   string
	retries    int
}

const defaultChatPath = "/v1/chat/completions"

func newOpenAICompatClient(cfg Config) openAICompatClient {
	return newOpenAICompatClientPath(cfg, defaultChatPath)
}

func newOpenAICompatClientPath(cfg Config, chatPath string) openAICompatClient {
	// Kept generous for local providers (Ollama, LM Studio) which may load
	// models on first request.
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = defaultMaxRetries
	case retries < 0:
		retries = 0
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return openAICompatClient{
		cfg:        cfg,
		client:     &http.Client{Timeout: timeout},
		streamHTTP: &http.Client{},
		limiter:    limiter,
		chatPath:   chatPath,
		retries:    retries,
	}
}

// NewOpenAICompat creates a generic OpenAI-compatible provider.
func NewOpenAICompat(cfg Config) Streamer {
	return &openAICompatProvider{base: newOpenAICompatClient(cfg)}
}

type openAICompatProvider struct {
	base openAICompatClient
}

func (p *openAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *openAICompatProvider) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	return p.base.chatStream(ctx, req)
}

// --- shared implementation ---

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// baseResp is the status envelope MiniMax attaches to every response.
// OpenAI-style providers omit it.
type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	BaseResp *baseResp `json:"base_resp,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	BaseResp *baseResp `json:"base_resp,omitempty"`
}

func (c *openAICompatClient) buildRequest(req ChatRequest, stream bool) chatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	body := chatCompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

func (c *openAICompatClient) chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	respBody, err := c.doPost(ctx, c.chatPath, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding chat response: %v", ErrUpstream, err)
	}
	if resp.BaseResp != nil && resp.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("%w: provider status %d: %s", ErrUpstream, resp.BaseResp.StatusCode, resp.BaseResp.StatusMsg)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrUpstream)
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// chatStream opens a server-sent-events completion. Only the connection
// phase is retried; once fragments flow, errors end the stream.
func (c *openAICompatClient) chatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	data, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + c.chatPath
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		httpReq, err := c.newRequest(ctx, url, data)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamHTTP.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = classify(fmt.Errorf("stream request to %s failed: %w", url, err))
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return &sseStream{body: resp.Body, scanner: newLineScanner(resp.Body)}, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = fmt.Errorf("%w: LLM API error %d: %s", ErrUpstream, resp.StatusCode, string(body))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

const defaultMaxRetries = 6

// Retry delays. Variables so tests can shorten them.
var (
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second // minimum delay for 429 errors
)

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func backoff(attempt int) time.Duration {
	return baseRetryDelay * time.Duration(1<<(attempt-1)) // 2s, 4s, 8s
}

func (c *openAICompatClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *openAICompatClient) newRequest(ctx context.Context, url string, data []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

func (c *openAICompatClient) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			slog.Warn("llm: retrying request",
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, url, data)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Retry on network/timeout errors (not context cancellation).
			if ctx.Err() != nil {
				return nil, classify(ctx.Err())
			}
			lastErr = classify(fmt.Errorf("request to %s failed: %w", url, err))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = classify(fmt.Errorf("reading response body: %w", err))
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("%w: LLM API error %d: %s", ErrUpstream, resp.StatusCode, string(respBody))

		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		// Handle 429 rate limiting with longer delays.
		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitDelay := minRateLimitDelay * time.Duration(1<<attempt) // 5s, 10s, 20s, 40s...
			// Respect Retry-After header if provided.
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					headerDelay := time.Duration(seconds) * time.Second
					if headerDelay > rateLimitDelay {
						rateLimitDelay = headerDelay
					}
				}
			}
			slog.Warn("llm: rate limited, waiting before retry",
				"url", url,
				"attempt", attempt+1,
				"delay", rateLimitDelay,
			)
			if err := sleepCtx(ctx, rateLimitDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify tags transport errors with ErrTimeout or ErrUpstream. Plain
// context cancellation passes through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstream) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// --- streaming ---

const maxSSELine = 1 << 20

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return sc
}

// sseStream reads "data: " lines from an OpenAI-style event stream until
// the [DONE] sentinel or EOF.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("llm: skipping undecodable stream chunk", "error", err)
			continue
		}
		if chunk.BaseResp != nil && chunk.BaseResp.StatusCode != 0 {
			s.done = true
			return "", fmt.Errorf("%w: provider status %d: %s", ErrUpstream, chunk.BaseResp.StatusCode, chunk.BaseResp.StatusMsg)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", classify(err)
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
