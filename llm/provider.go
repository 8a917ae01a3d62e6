package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrTimeout is returned when a request exceeds its deadline or the
	// connection times out.
	ErrTimeout = errors.New("llm: request timed out")

	// ErrUpstream is returned for transport failures and non-success
	// responses from the provider.
	ErrUpstream = errors.New("llm: upstream error")
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Streamer is a Provider that can also stream completions.
type Streamer interface {
	Provider
	// ChatStream starts a streamed completion. The caller must Close the
	// returned Stream.
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
}

// Stream is a pull-based sequence of completion fragments. Recv returns
// io.EOF after the last fragment.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, minimax, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`

	// RequestsPerSecond caps outgoing requests. Zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second"`
	// MaxRetries bounds retries on retryable failures. Negative disables
	// retries; zero uses the default.
	MaxRetries int `json:"max_retries"`
	// Timeout applies to non-streaming requests.
	Timeout time.Duration `json:"timeout"`
}

// preset holds the endpoint defaults of a named provider. Every provider
// speaks the OpenAI chat completions format; only the base URL, the chat
// path and the fallback model differ.
type preset struct {
	baseURL  string
	chatPath string
	model    string
}

var presets = map[string]preset{
	"ollama":     {baseURL: "http://localhost:11434"},
	"lmstudio":   {baseURL: "http://localhost:1234"},
	"openrouter": {baseURL: "https://openrouter.ai/api"},
	"openai":     {baseURL: "https://api.openai.com", model: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", model: "llama-3.3-70b-versatile"},
	"xai":        {baseURL: "https://api.x.ai"},
	// Gemini's compatibility endpoint has no /v1 prefix.
	"gemini": {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", chatPath: "/chat/completions"},
	// MiniMax wraps errors in a base_resp envelope, checked by the client.
	"minimax": {baseURL: "https://api.minimax.chat", chatPath: "/v1/text/chatcompletion_v2", model: "abab6.5s-chat"},
	// custom has no defaults.
	"custom": {},
}

// Providers lists the supported provider names.
func Providers() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewProvider creates an LLM provider from configuration. Empty BaseURL and
// Model fields are filled from the provider's defaults.
func NewProvider(cfg Config) (Streamer, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	p, ok := presets[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = p.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = p.model
	}
	path := p.chatPath
	if path == "" {
		path = defaultChatPath
	}
	return &openAICompatProvider{base: newOpenAICompatClientPath(cfg, path)}, nil
}
