package llm

import (
	"reflect"
	"slices"
	"testing"
)

// baseClient reaches the shared client behind a provider returned by
// NewProvider.
func baseClient(t *testing.T, p Streamer) reflect.Value {
	t.Helper()
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Pointer {
		t.Fatalf("provider %T is not a pointer", p)
	}
	return v.Elem().FieldByName("base")
}

func TestNewProviderDefaults(t *testing.T) {
	tests := []struct {
		provider  string
		wantURL   string
		wantPath  string
		wantModel string
	}{
		{"ollama", "http://localhost:11434", "/v1/chat/completions", ""},
		{"lmstudio", "http://localhost:1234", "/v1/chat/completions", ""},
		{"openrouter", "https://openrouter.ai/api", "/v1/chat/completions", ""},
		{"openai", "https://api.openai.com", "/v1/chat/completions", "gpt-4o-mini"},
		{"groq", "https://api.groq.com/openai", "/v1/chat/completions", "llama-3.3-70b-versatile"},
		{"xai", "https://api.x.ai", "/v1/chat/completions", ""},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "/chat/completions", ""},
		{"minimax", "https://api.minimax.chat", "/v1/text/chatcompletion_v2", "abab6.5s-chat"},
		{"custom", "", "/v1/chat/completions", ""},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}
			base := baseClient(t, p)
			cfg := base.FieldByName("cfg")
			if got := cfg.FieldByName("BaseURL").String(); got != tt.wantURL {
				t.Errorf("BaseURL = %q, want %q", got, tt.wantURL)
			}
			if got := base.FieldByName("chatPath").String(); got != tt.wantPath {
				t.Errorf("chatPath = %q, want %q", got, tt.wantPath)
			}
			if got := cfg.FieldByName("Model").String(); got != tt.wantModel {
				t.Errorf("Model = %q, want %q", got, tt.wantModel)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist", Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{Model: "test-model"})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestExplicitSettingsPreserved verifies that user-supplied values win over
// the provider defaults.
func TestExplicitSettingsPreserved(t *testing.T) {
	for _, provider := range []string{"ollama", "openai", "groq", "minimax", "custom"} {
		t.Run(provider, func(t *testing.T) {
			p, err := NewProvider(Config{
				Provider: provider,
				Model:    "llama3:latest",
				BaseURL:  "http://my-server:9999",
				APIKey:   "sk-test-key-123",
			})
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", provider, err)
			}
			cfg := baseClient(t, p).FieldByName("cfg")
			if got := cfg.FieldByName("BaseURL").String(); got != "http://my-server:9999" {
				t.Errorf("BaseURL = %q", got)
			}
			if got := cfg.FieldByName("Model").String(); got != "llama3:latest" {
				t.Errorf("Model = %q", got)
			}
			if got := cfg.FieldByName("APIKey").String(); got != "sk-test-key-123" {
				t.Errorf("APIKey = %q", got)
			}
		})
	}
}

func TestProviders(t *testing.T) {
	got := Providers()
	if !slices.IsSorted(got) {
		t.Errorf("Providers() not sorted: %v", got)
	}
	for _, name := range got {
		if _, err := NewProvider(Config{Provider: name}); err != nil {
			t.Errorf("NewProvider(%q): %v", name, err)
		}
	}
	if len(got) != 9 {
		t.Errorf("len(Providers()) = %d, want 9", len(got))
	}
}
