package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/graphagent/graph"
)

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// trailingCommaRe matches a comma directly before a closing brace or
// bracket.
var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// FindJSONObject isolates the JSON object in an LLM response. It handles
// common LLM quirks: markdown code blocks, text before/after JSON (braces
// included), and trailing commas.
func FindJSONObject(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found in response", ErrMalformedResponse)
	}

	// The first complete value wins, so commentary after it may contain
	// braces of its own.
	var first json.RawMessage
	if err := json.NewDecoder(strings.NewReader(raw[start:])).Decode(&first); err == nil {
		return string(first), nil
	}

	obj := raw[start : end+1]

	fixed := trailingCommaRe.ReplaceAllString(obj, "$1")
	if json.Valid([]byte(fixed)) {
		return fixed, nil
	}
	return "", fmt.Errorf("%w: invalid JSON object", ErrMalformedResponse)
}

// rawEntity accepts the field spellings models commonly produce.
type rawEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description"`
}

type rawRelation struct {
	SourceName   string `json:"source_name"`
	Source       string `json:"source"`
	TargetName   string `json:"target_name"`
	Target       string `json:"target"`
	Type         string `json:"type"`
	Relation     string `json:"relation"`
	RelationType string `json:"relation_type"`
	Description  string `json:"description"`
	Quote        string `json:"quote"`
	SourceText   string `json:"source_text"`
}

// Parse normalizes and validates an extraction response. The response must
// contain a JSON object with an "entities" or "relations" array; individual
// records that fail validation are dropped and counted.
func Parse(raw string) (*Result, error) {
	obj, err := FindJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	entRaw, hasEntities := top["entities"]
	relRaw, hasRelations := top["relations"]
	if !hasRelations {
		relRaw, hasRelations = top["relationships"]
	}
	if !hasEntities && !hasRelations {
		return nil, fmt.Errorf("%w: missing entities and relations", ErrMalformedResponse)
	}

	entItems, err := decodeArray(entRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: entities: %v", ErrMalformedResponse, err)
	}
	relItems, err := decodeArray(relRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: relations: %v", ErrMalformedResponse, err)
	}

	res := &Result{
		Entities:  make([]Entity, 0, len(entItems)),
		Relations: make([]Relation, 0, len(relItems)),
	}

	for _, item := range entItems {
		var re rawEntity
		if err := json.Unmarshal(item, &re); err != nil {
			res.Dropped++
			continue
		}
		name := cleanField(re.Name)
		if name == "" {
			res.Dropped++
			continue
		}
		res.Entities = append(res.Entities, Entity{
			Name:        name,
			Type:        firstNonEmpty(cleanField(re.Type), cleanField(re.EntityType), graph.DefaultEntityType),
			Description: strings.TrimSpace(re.Description),
		})
	}

	for _, item := range relItems {
		var rr rawRelation
		if err := json.Unmarshal(item, &rr); err != nil {
			res.Dropped++
			continue
		}
		src := firstNonEmpty(cleanField(rr.SourceName), cleanField(rr.Source))
		tgt := firstNonEmpty(cleanField(rr.TargetName), cleanField(rr.Target))
		if src == "" || tgt == "" {
			res.Dropped++
			continue
		}
		res.Relations = append(res.Relations, Relation{
			Source:      src,
			Target:      tgt,
			Type:        firstNonEmpty(cleanField(rr.Type), cleanField(rr.Relation), cleanField(rr.RelationType), graph.DefaultRelationType),
			Description: strings.TrimSpace(rr.Description),
			Quote:       firstNonEmpty(strings.TrimSpace(rr.Quote), strings.TrimSpace(rr.SourceText)),
		})
	}

	return res, nil
}

// decodeArray splits a JSON array into its elements. A missing or null
// value is an empty array.
func decodeArray(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func cleanField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
