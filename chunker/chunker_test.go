package chunker

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Core chunker tests
// ---------------------------------------------------------------------------

func TestSplitShortText(t *testing.T) {
	c := New(Config{MaxTokens: 512, Overlap: 64})
	chunks := c.Split("doc1", "  Alice founded Acme. Bob works at Acme.  ")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != "Alice founded Acme. Bob works at Acme." {
		t.Errorf("Text = %q", ch.Text)
	}
	if ch.ID != "doc1#0" {
		t.Errorf("ID = %q, want %q", ch.ID, "doc1#0")
	}
	if ch.Order != 0 {
		t.Errorf("Order = %d, want 0", ch.Order)
	}
	if ch.Tokens <= 0 {
		t.Error("Tokens should be > 0")
	}
}

func TestSplitEmpty(t *testing.T) {
	c := New(Config{})
	for _, in := range []string{"", "   ", "\n\n\n"} {
		if got := c.Split("d", in); len(got) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", in, len(got))
		}
	}
}

func TestSplitParagraphBoundaries(t *testing.T) {
	c := New(Config{MaxTokens: 20, Overlap: 1})
	para := strings.Repeat("word ", 10) // 13 tokens
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := c.Split("d", text)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Order != i {
			t.Errorf("chunk %d has Order %d", i, ch.Order)
		}
		if ch.Tokens > 20 {
			t.Errorf("chunk %d has %d tokens, max 20", i, ch.Tokens)
		}
	}
}

func TestSplitSentenceBoundaries(t *testing.T) {
	c := New(Config{MaxTokens: 30, Overlap: 4})
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("Acme builds rockets in the desert. ")
	}

	chunks := c.Split("d", b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Tokens > 30 {
			t.Errorf("chunk %d has %d tokens, max 30", i, ch.Tokens)
		}
		if !strings.HasSuffix(ch.Text, ".") {
			t.Errorf("chunk %d does not end on a sentence boundary: %q", i, ch.Text)
		}
	}
}

func TestSplitOversizedSentence(t *testing.T) {
	c := New(Config{MaxTokens: 20, Overlap: 2})
	text := strings.Repeat("alpha ", 100)

	chunks := c.Split("d", text)
	if len(chunks) < 5 {
		t.Fatalf("expected the sentence to be cut, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Tokens > 20 {
			t.Errorf("chunk %d has %d tokens, max 20", i, ch.Tokens)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	c := New(Config{MaxTokens: 20, Overlap: 5})
	text := "One two three four five six seven eight nine ten.\n\n" +
		"Eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty."

	chunks := c.Split("d", text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	// The second chunk starts with the tail of the first.
	if !strings.HasPrefix(chunks[1].Text, "eight nine ten.\n\nEleven") {
		t.Errorf("second chunk missing overlap: %q", chunks[1].Text)
	}
}

func TestSplitStableIDs(t *testing.T) {
	c := New(Config{MaxTokens: 10, Overlap: 2})
	text := strings.Repeat("Sentence number here. ", 20)

	a := c.Split("doc", text)
	b := c.Split("doc", text)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	if c.cfg.MaxTokens != 1024 || c.cfg.Overlap != 128 {
		t.Errorf("defaults = %+v", c.cfg)
	}
	c = New(Config{MaxTokens: 8, Overlap: 10})
	if c.cfg.Overlap >= c.cfg.MaxTokens {
		t.Errorf("overlap %d not clamped below max %d", c.cfg.Overlap, c.cfg.MaxTokens)
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one", 2},
		{"one two three", 4},
		{"one two three four five six seven eight nine ten", 13},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello world. Bye.", []string{"Hello world.", "Bye."}},
		{"Version 1.2 is out! Really?", []string{"Version 1.2 is out!", "Really?"}},
		{"第一句。第二句！", []string{"第一句。", "第二句！"}},
		{"no terminator", []string{"no terminator"}},
	}
	for _, tt := range tests {
		got := splitSentences(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractOverlap(t *testing.T) {
	if got := extractOverlap("a b c d e f", 4); got != "d e f" {
		t.Errorf("extractOverlap = %q, want %q", got, "d e f")
	}
	if got := extractOverlap("", 10); got != "" {
		t.Errorf("extractOverlap(empty) = %q", got)
	}
}

func TestHash(t *testing.T) {
	if Hash("a") == Hash("b") {
		t.Error("different inputs produced the same hash")
	}
	if len(Hash("x")) != 64 {
		t.Errorf("hash length = %d, want 64", len(Hash("x")))
	}
}
