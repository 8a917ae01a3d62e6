package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an entity or relation does not exist.
	ErrNotFound = errors.New("graph: not found")

	// ErrInvariantViolation is returned by Verify when the store holds a
	// dangling relation or its counters drifted. It indicates a bug.
	ErrInvariantViolation = errors.New("graph: invariant violation")
)

// relation is the stored form of a Relation. written is bumped on every
// write so reads by pair can pick the most recent one.
type relation struct {
	Relation
	written uint64
}

// Store holds one project's entities and relations in memory.
//
// Mutations take the exclusive lock; reads take the shared lock and so
// observe a single consistent state. A relation never references a missing
// entity: DeleteEntity removes incident relations in the same critical
// section.
type Store struct {
	mu sync.RWMutex

	entities map[string]*Entity
	order    []string            // entity ids, insertion order
	byName   map[string][]string // lower(name) -> ids, insertion order

	relations []*relation // insertion order
	clock     uint64

	nodes int
	edges int

	newID func() string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entities: make(map[string]*Entity),
		byName:   make(map[string][]string),
		newID:    uuid.NewString,
	}
}

// AddEntity creates an entity with a fresh id. It never fails and performs
// no uniqueness check on name.
func (s *Store) AddEntity(name, typ, description, sourceChunkID string) Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEntity(name, typ, description, sourceChunkID)
}

// GetEntity returns the entity with the given id.
func (s *Store) GetEntity(id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return *e, nil
}

// FindByName returns entities whose name equals name, ignoring case, in
// insertion order.
func (s *Store) FindByName(name string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByName(name)
}

// UpdateEntity replaces the name, type and description of an entity.
func (s *Store) UpdateEntity(id, name, typ, description string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntity(id, name, typ, description)
}

// DeleteEntity removes an entity and every relation where it is source or
// target. It returns the number of relations removed.
func (s *Store) DeleteEntity(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return 0, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}

	kept := s.relations[:0]
	removed := 0
	for _, r := range s.relations {
		if r.SourceID == id || r.TargetID == id {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(s.relations); i++ {
		s.relations[i] = nil
	}
	s.relations = kept
	s.edges -= removed

	s.unindexName(e.Name, id)
	delete(s.entities, id)
	s.order = removeID(s.order, id)
	s.nodes--

	return removed, nil
}

// AddRelation links two existing entities. Adding a relation whose
// (source, target, type) triple already exists updates that relation's
// description instead of creating a duplicate.
func (s *Store) AddRelation(sourceID, targetID, typ, description, sourceText string) (Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _, err := s.addRelation(Relation{
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        typ,
		Description: description,
		SourceText:  sourceText,
	})
	return r, err
}

// GetRelation returns the most recently written relation between source
// and target.
func (s *Store) GetRelation(sourceID, targetID string) (Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.latest(sourceID, targetID)
	if r == nil {
		return Relation{}, fmt.Errorf("relation %s -> %s: %w", sourceID, targetID, ErrNotFound)
	}
	return r.Relation, nil
}

// UpdateRelation rewrites the type and description of the most recently
// written relation between source and target.
func (s *Store) UpdateRelation(sourceID, targetID, typ, description string) (Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.latest(sourceID, targetID)
	if r == nil {
		return Relation{}, fmt.Errorf("relation %s -> %s: %w", sourceID, targetID, ErrNotFound)
	}
	if typ != "" && typ != r.Type {
		// Collapse onto an existing triple rather than creating a duplicate.
		for _, other := range s.relations {
			if other != r && other.SourceID == sourceID && other.TargetID == targetID && other.Type == typ {
				s.removeRelation(r)
				r = other
				break
			}
		}
		r.Type = typ
	}
	r.Description = description
	s.clock++
	r.written = s.clock
	return r.Relation, nil
}

// DeleteRelation removes every relation between source and target and
// returns how many were removed.
func (s *Store) DeleteRelation(sourceID, targetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.relations[:0]
	removed := 0
	for _, r := range s.relations {
		if r.SourceID == sourceID && r.TargetID == targetID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, fmt.Errorf("relation %s -> %s: %w", sourceID, targetID, ErrNotFound)
	}
	for i := len(kept); i < len(s.relations); i++ {
		s.relations[i] = nil
	}
	s.relations = kept
	s.edges -= removed
	return removed, nil
}

// Stats returns the maintained node and edge counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{NodeCount: s.nodes, EdgeCount: s.edges}
}

// Clear drops every entity and relation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*Entity)
	s.byName = make(map[string][]string)
	s.order = nil
	s.relations = nil
	s.nodes = 0
	s.edges = 0
}

// Verify checks that no relation dangles and the counters match the data.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.relations {
		if _, ok := s.entities[r.SourceID]; !ok {
			return fmt.Errorf("%w: relation %s -> %s (%s) has missing source", ErrInvariantViolation, r.SourceID, r.TargetID, r.Type)
		}
		if _, ok := s.entities[r.TargetID]; !ok {
			return fmt.Errorf("%w: relation %s -> %s (%s) has missing target", ErrInvariantViolation, r.SourceID, r.TargetID, r.Type)
		}
	}
	if s.nodes != len(s.entities) || len(s.order) != len(s.entities) {
		return fmt.Errorf("%w: node counter %d, entities %d, order %d", ErrInvariantViolation, s.nodes, len(s.entities), len(s.order))
	}
	if s.edges != len(s.relations) {
		return fmt.Errorf("%w: edge counter %d, relations %d", ErrInvariantViolation, s.edges, len(s.relations))
	}
	return nil
}

// Tx is a view of the store valid only inside Update. All calls run under
// the store's exclusive lock.
type Tx struct {
	s *Store
}

// Update runs fn with the exclusive lock held so that a group of mutations
// is applied without interleaving with other writers or readers.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// AddEntity creates an entity inside the transaction.
func (tx *Tx) AddEntity(name, typ, description, sourceChunkID string) Entity {
	return tx.s.addEntity(name, typ, description, sourceChunkID)
}

// UpdateEntity updates an entity inside the transaction.
func (tx *Tx) UpdateEntity(id, name, typ, description string) (Entity, error) {
	return tx.s.updateEntity(id, name, typ, description)
}

// FindByName looks up entities by case-insensitive name inside the
// transaction.
func (tx *Tx) FindByName(name string) []Entity {
	return tx.s.findByName(name)
}

// AddRelation adds a relation inside the transaction. created is false when
// an identical triple was updated instead.
func (tx *Tx) AddRelation(r Relation) (rel Relation, created bool, err error) {
	return tx.s.addRelation(r)
}

// --- unlocked internals ---

func (s *Store) addEntity(name, typ, description, sourceChunkID string) Entity {
	e := &Entity{
		ID:            s.newID(),
		Name:          name,
		Type:          typ,
		Description:   description,
		SourceChunkID: sourceChunkID,
	}
	s.entities[e.ID] = e
	s.order = append(s.order, e.ID)
	key := nameKey(name)
	s.byName[key] = append(s.byName[key], e.ID)
	s.nodes++
	return *e
}

func (s *Store) updateEntity(id, name, typ, description string) (Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if nameKey(name) != nameKey(e.Name) {
		s.unindexName(e.Name, id)
		key := nameKey(name)
		s.byName[key] = append(s.byName[key], id)
	}
	e.Name = name
	e.Type = typ
	e.Description = description
	return *e, nil
}

func (s *Store) findByName(name string) []Entity {
	ids := s.byName[nameKey(name)]
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.entities[id])
	}
	return out
}

func (s *Store) addRelation(in Relation) (Relation, bool, error) {
	if _, ok := s.entities[in.SourceID]; !ok {
		return Relation{}, false, fmt.Errorf("relation source %s: %w", in.SourceID, ErrNotFound)
	}
	if _, ok := s.entities[in.TargetID]; !ok {
		return Relation{}, false, fmt.Errorf("relation target %s: %w", in.TargetID, ErrNotFound)
	}

	s.clock++
	for _, r := range s.relations {
		if r.SourceID == in.SourceID && r.TargetID == in.TargetID && r.Type == in.Type {
			r.Description = in.Description
			if in.SourceText != "" {
				r.SourceText = in.SourceText
			}
			if in.SourceChunkID != "" {
				r.SourceChunkID = in.SourceChunkID
			}
			r.written = s.clock
			return r.Relation, false, nil
		}
	}

	r := &relation{Relation: in, written: s.clock}
	s.relations = append(s.relations, r)
	s.edges++
	return r.Relation, true, nil
}

// latest returns the most recently written relation for the pair, or nil.
func (s *Store) latest(sourceID, targetID string) *relation {
	var best *relation
	for _, r := range s.relations {
		if r.SourceID != sourceID || r.TargetID != targetID {
			continue
		}
		if best == nil || r.written > best.written {
			best = r
		}
	}
	return best
}

func (s *Store) removeRelation(target *relation) {
	for i, r := range s.relations {
		if r == target {
			copy(s.relations[i:], s.relations[i+1:])
			s.relations[len(s.relations)-1] = nil
			s.relations = s.relations[:len(s.relations)-1]
			s.edges--
			return
		}
	}
}

func (s *Store) unindexName(name, id string) {
	key := nameKey(name)
	ids := removeID(s.byName[key], id)
	if len(ids) == 0 {
		delete(s.byName, key)
		return
	}
	s.byName[key] = ids
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
