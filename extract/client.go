package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/graphagent/llm"
)

// ErrMalformedResponse is returned when the completion cannot be parsed
// into the extraction shape after normalization.
var ErrMalformedResponse = errors.New("extract: malformed response")

// Entity is one extracted entity record.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Relation is one extracted relation record. Source and Target are entity
// names, not ids.
type Relation struct {
	Source      string `json:"source_name"`
	Target      string `json:"target_name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Quote       string `json:"quote"`
}

// Result is the validated output of one extraction call. Dropped counts
// records that were present but failed validation.
type Result struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Dropped   int        `json:"dropped"`
}

// Extractor is the contract consumed by the ingestion pipeline.
type Extractor interface {
	Extract(ctx context.Context, text string, opts ...Option) (*Result, error)
}

// Option configures a single Extract call.
type Option func(*options)

type options struct {
	strict bool
}

// WithStrict uses the stricter prompt meant for a retry after a malformed
// response.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// Client extracts entities and relations through an LLM provider. It never
// retries; retry policy belongs to the caller.
type Client struct {
	chat  llm.Provider
	model string
}

// NewClient creates an extraction client. model may be empty to use the
// provider's default.
func NewClient(chat llm.Provider, model string) *Client {
	return &Client{chat: chat, model: model}
}

// Extract runs one extraction call over text.
func (c *Client) Extract(ctx context.Context, text string, opts ...Option) (*Result, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	var suffix string
	if o.strict {
		suffix = strictSuffix
	}
	prompt := fmt.Sprintf(extractionPrompt, suffix, strings.TrimSpace(text))

	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
		Temperature:    0.0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("extraction llm chat: %w", err)
	}

	return Parse(resp.Content)
}
