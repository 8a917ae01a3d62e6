package graph

import (
	"fmt"
	"strings"
)

// SearchEntities returns entities whose name or description contains query,
// ignoring case, in insertion order. Each call scans the current state.
func (s *Store) SearchEntities(query string) []Entity {
	q := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, id := range s.order {
		e := s.entities[id]
		if strings.Contains(strings.ToLower(e.Name), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, *e)
		}
	}
	return out
}

// Neighbors returns every relation touching id, regardless of direction,
// in relation insertion order, paired with the entity on the other end.
// A self-loop is reported once with the entity itself as neighbor.
func (s *Store) Neighbors(id string) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[id]; !ok {
		return nil, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}

	var out []Neighbor
	for _, r := range s.relations {
		var other string
		outgoing := false
		switch id {
		case r.SourceID:
			other = r.TargetID
			outgoing = true
		case r.TargetID:
			other = r.SourceID
		default:
			continue
		}
		out = append(out, Neighbor{
			Entity:   *s.entities[other],
			Relation: r.Relation,
			Outgoing: outgoing,
		})
	}
	return out, nil
}

// Entities returns all entities in insertion order.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entities[id])
	}
	return out
}

// Export copies the full graph under a single read lock.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Nodes: make([]Entity, 0, len(s.order)),
		Edges: make([]Relation, 0, len(s.relations)),
	}
	for _, id := range s.order {
		snap.Nodes = append(snap.Nodes, *s.entities[id])
	}
	for _, r := range s.relations {
		snap.Edges = append(snap.Edges, r.Relation)
	}
	return snap
}

// Breakdown counts entities and relations per type.
func (s *Store) Breakdown() TypeBreakdown {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := TypeBreakdown{
		EntityTypes:   make(map[string]int),
		RelationTypes: make(map[string]int),
	}
	for _, e := range s.entities {
		b.EntityTypes[e.Type]++
	}
	for _, r := range s.relations {
		b.RelationTypes[r.Type]++
	}
	return b
}
