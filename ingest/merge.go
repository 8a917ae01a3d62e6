package ingest

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/graphagent/chunker"
	"github.com/brunobiangulo/graphagent/extract"
	"github.com/brunobiangulo/graphagent/graph"
)

const (
	// maxDescriptionRunes caps merged entity descriptions.
	maxDescriptionRunes = 1000

	// maxSourceTextRunes caps the chunk text stored as relation provenance
	// when the model gives no quote.
	maxSourceTextRunes = 500
)

// merge applies one chunk's extraction to the store. It runs inside a single
// store transaction.
func merge(tx *graph.Tx, c chunker.Chunk, ex *extract.Result, res *Result) error {
	if ex == nil {
		return nil
	}

	for _, e := range ex.Entities {
		matches := tx.FindByName(e.Name)
		if len(matches) == 0 {
			tx.AddEntity(e.Name, e.Type, e.Description, c.ID)
			res.EntitiesCreated++
			continue
		}
		// Merge into the oldest entity carrying the name; its type wins.
		existing := matches[0]
		desc := mergeDescription(existing.Description, e.Description)
		if desc != existing.Description {
			if _, err := tx.UpdateEntity(existing.ID, existing.Name, existing.Type, desc); err != nil {
				return fmt.Errorf("%w: merging entity %q: %v", graph.ErrInvariantViolation, e.Name, err)
			}
		}
		res.EntitiesMerged++
	}

	for _, r := range ex.Relations {
		src := resolve(tx, r.Source)
		tgt := resolve(tx, r.Target)
		if src == "" || tgt == "" {
			res.RelationsDropped++
			res.Errors = append(res.Errors, fmt.Sprintf("chunk %s: dropped relation %q -[%s]-> %q: unresolved endpoint",
				c.ID, r.Source, r.Type, r.Target))
			continue
		}

		quote := r.Quote
		if quote == "" {
			quote = truncateRunes(c.Text, maxSourceTextRunes)
		}
		_, created, err := tx.AddRelation(graph.Relation{
			SourceID:      src,
			TargetID:      tgt,
			Type:          r.Type,
			Description:   r.Description,
			SourceText:    quote,
			SourceChunkID: c.ID,
		})
		if err != nil {
			return fmt.Errorf("%w: adding resolved relation: %v", graph.ErrInvariantViolation, err)
		}
		if created {
			res.RelationsCreated++
		} else {
			res.RelationsUpdated++
		}
	}
	return nil
}

// resolve maps an entity name to the id of the oldest entity carrying it.
func resolve(tx *graph.Tx, name string) string {
	matches := tx.FindByName(name)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].ID
}

// mergeDescription keeps the richer description. When neither contains the
// other, the incoming text is appended, capped at maxDescriptionRunes.
func mergeDescription(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return existing
	case existing == "":
		return incoming
	}

	le, li := strings.ToLower(existing), strings.ToLower(incoming)
	switch {
	case strings.Contains(le, li):
		return existing
	case strings.Contains(li, le):
		return truncateRunes(incoming, maxDescriptionRunes)
	}

	if len([]rune(existing)) >= maxDescriptionRunes {
		return existing
	}
	return truncateRunes(existing+"; "+incoming, maxDescriptionRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
