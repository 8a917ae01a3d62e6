package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/brunobiangulo/graphagent/extract"
	"github.com/brunobiangulo/graphagent/llm"
)

// keywordResponse is the JSON shape of the keyword generation call.
type keywordResponse struct {
	Keywords []string `json:"keywords"`
	Entities []string `json:"entities"`
}

// llmKeywords asks the model for search keywords. Keywords come first,
// then entity names, de-duplicated case-insensitively.
func (o *Orchestrator) llmKeywords(ctx context.Context, question string) ([]string, error) {
	resp, err := o.chat.Chat(ctx, llm.ChatRequest{
		Model: o.cfg.Model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(keywordPrompt, question)},
		},
		Temperature:    o.cfg.RouteTemperature,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("keyword llm chat: %w", err)
	}

	obj, err := extract.FindJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing keyword result: %w", err)
	}
	var kr keywordResponse
	if err := json.Unmarshal([]byte(obj), &kr); err != nil {
		return nil, fmt.Errorf("%w: keywords: %v", extract.ErrMalformedResponse, err)
	}

	out := dedupTerms(append(kr.Keywords, kr.Entities...))
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no keywords returned", extract.ErrMalformedResponse)
	}
	return out, nil
}

// localKeywords derives search terms from the question without a model
// call: quoted terms and capitalized phrases first, then significant words.
func localKeywords(question string) []string {
	var terms []string

	// Quoted terms.
	inQuote := false
	var quoted strings.Builder
	for _, r := range question {
		if r == '"' {
			if inQuote {
				terms = append(terms, quoted.String())
				quoted.Reset()
			}
			inQuote = !inQuote
			continue
		}
		if inQuote {
			quoted.WriteRune(r)
		}
	}

	// Capitalized multi-word phrases.
	words := strings.Fields(question)
	var phrase []string
	flush := func() {
		if len(phrase) > 0 {
			terms = append(terms, strings.Join(phrase, " "))
			phrase = nil
		}
	}
	for _, w := range words {
		clean := strings.Trim(w, trimCutset)
		if clean == "" {
			flush()
			continue
		}
		first := []rune(clean)[0]
		if unicode.IsUpper(first) && !isStopWord(clean) {
			phrase = append(phrase, clean)
		} else {
			flush()
		}
	}
	flush()

	terms = append(terms, significantTerms(question)...)
	return dedupTerms(terms)
}

const trimCutset = ".,;:!?\"'()[]{}"

// significantTerms returns the lowercase words of a query that are longer
// than two bytes and not stop words.
func significantTerms(query string) []string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "",
		"+", "", "^", "", ":", "",
		"?", "", "[", "", "]", "", "{", "",
		"}", "", "!", "", ".", "", ",", "",
		";", "", "？", "", "。", "", "，", "",
	)
	var terms []string
	for _, w := range strings.Fields(replacer.Replace(query)) {
		lower := strings.ToLower(w)
		if len(lower) > 2 && !isStopWord(lower) {
			terms = append(terms, lower)
		}
	}
	return terms
}

// dedupTerms trims terms and removes empty and case-insensitive duplicates,
// keeping first occurrence order.
func dedupTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "must": true,
	"shall": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "what": true, "which": true, "who": true, "whom": true,
	"where": true, "when": true, "how": true, "why": true, "not": true,
	"no": true, "nor": true, "if": true, "then": true, "than": true,
	"so": true, "as": true, "about": true, "into": true, "between": true,
	"tell": true, "me": true, "please": true, "you": true, "know": true,
	"there": true, "their": true, "its": true, "it": true, "any": true,
}

func isStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}
