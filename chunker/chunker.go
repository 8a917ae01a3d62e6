package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum estimated tokens per chunk.
	Overlap   int // Token overlap between consecutive chunks.
}

// Chunk is a contiguous slice of a document used as one extraction unit.
// Chunks are immutable once produced.
type Chunk struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Order  int    `json:"order"`
	Tokens int    `json:"tokens"`
}

// Chunker splits raw document text into bounded chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 128
	}
	if cfg.Overlap >= cfg.MaxTokens {
		cfg.Overlap = cfg.MaxTokens / 4
	}
	return &Chunker{cfg: cfg}
}

// Split breaks text into ordered chunks. Chunk IDs are derived from docID
// and the chunk's position, so they are stable for a given document.
func (c *Chunker) Split(docID, text string) []Chunk {
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fragments := c.splitContent(text)
	chunks := make([]Chunk, 0, len(fragments))
	for _, frag := range fragments {
		if frag == "" {
			continue
		}
		order := len(chunks)
		chunks = append(chunks, Chunk{
			ID:     fmt.Sprintf("%s#%d", docID, order),
			Text:   frag,
			Order:  order,
			Tokens: EstimateTokens(frag),
		})
	}
	return chunks
}

// splitContent breaks a long text into fragments that each fit within
// MaxTokens, splitting at paragraph and then sentence boundaries.
// Consecutive fragments share an overlap of c.cfg.Overlap tokens worth
// of trailing text from the previous fragment.
func (c *Chunker) splitContent(text string) []string {
	if EstimateTokens(text) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	paragraphs := splitParagraphs(text)
	var fragments []string
	var current strings.Builder
	currentTokens := 0
	overlapText := ""

	for _, para := range paragraphs {
		paraTokens := EstimateTokens(para)

		// If a single paragraph exceeds MaxTokens, split it by sentences.
		if paraTokens > c.cfg.MaxTokens {
			if current.Len() > 0 {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlapText = extractOverlap(current.String(), c.cfg.Overlap)
				current.Reset()
				currentTokens = 0
			}
			sentenceFragments := c.splitBySentences(para, overlapText)
			fragments = append(fragments, sentenceFragments...)
			if len(sentenceFragments) > 0 {
				overlapText = extractOverlap(sentenceFragments[len(sentenceFragments)-1], c.cfg.Overlap)
			}
			continue
		}

		if currentTokens+paraTokens > c.cfg.MaxTokens && current.Len() > 0 {
			fragments = append(fragments, strings.TrimSpace(current.String()))
			overlapText = extractOverlap(current.String(), c.cfg.Overlap)
			current.Reset()
			currentTokens = 0

			if overlapText != "" && EstimateTokens(overlapText)+paraTokens <= c.cfg.MaxTokens {
				current.WriteString(overlapText)
				current.WriteString("\n\n")
				currentTokens = EstimateTokens(overlapText)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// splitBySentences breaks a paragraph into fragments at sentence
// boundaries, respecting MaxTokens and prepending overlap from the
// previous fragment. A sentence longer than MaxTokens is cut at word
// boundaries.
func (c *Chunker) splitBySentences(text string, initialOverlap string) []string {
	var sentences []string
	for _, s := range splitSentences(text) {
		if EstimateTokens(s) > c.cfg.MaxTokens {
			sentences = append(sentences, splitWords(s, c.cfg.MaxTokens-c.cfg.Overlap)...)
			continue
		}
		sentences = append(sentences, s)
	}

	var fragments []string
	var current strings.Builder
	currentTokens := 0
	fresh := false // current holds only carried-over overlap

	if initialOverlap != "" {
		current.WriteString(initialOverlap)
		currentTokens = EstimateTokens(initialOverlap)
		fresh = true
	}

	for _, sent := range sentences {
		sentTokens := EstimateTokens(sent)

		if currentTokens+sentTokens > c.cfg.MaxTokens && current.Len() > 0 {
			var overlap string
			if !fresh {
				fragments = append(fragments, strings.TrimSpace(current.String()))
				overlap = extractOverlap(current.String(), c.cfg.Overlap)
			}
			current.Reset()
			currentTokens = 0
			fresh = false
			if overlap != "" && EstimateTokens(overlap)+sentTokens <= c.cfg.MaxTokens {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
		fresh = false
	}

	if current.Len() > 0 && !fresh {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}

	return fragments
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// EstimateTokens approximates the token count of text using a simple
// word-based heuristic: tokens ~ words * 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// Hash returns the SHA-256 hex digest of text.
func Hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func normalizeNewlines(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// splitParagraphs splits text on blank-line boundaries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is a simple sentence tokeniser.  It splits on
// period/question-mark/exclamation (ASCII or CJK full-width) followed by
// whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		switch runes[i] {
		case '。', '！', '？':
			sentences = appendTrimmed(sentences, cur.String())
			cur.Reset()
		case '.', '?', '!':
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				sentences = appendTrimmed(sentences, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		sentences = appendTrimmed(sentences, cur.String())
	}
	return sentences
}

func appendTrimmed(dst []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return dst
	}
	return append(dst, s)
}

// splitWords cuts text into pieces of at most maxTokens estimated tokens.
func splitWords(text string, maxTokens int) []string {
	words := strings.Fields(text)
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords < 1 {
		maxWords = 1
	}
	var out []string
	for len(words) > 0 {
		n := min(maxWords, len(words))
		out = append(out, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return out
}

// extractOverlap returns the trailing portion of text whose estimated
// token count is at most maxTokens.  It works at the word level.
func extractOverlap(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	// tokens ~ words * 1.3, so max words ~ maxTokens / 1.3
	maxWords := int(float64(maxTokens) / 1.3)
	if maxWords > len(words) {
		maxWords = len(words)
	}
	if maxWords == 0 {
		return ""
	}
	return strings.Join(words[len(words)-maxWords:], " ")
}
