// Package agent runs one chat turn: it decides whether the question needs
// the knowledge graph, retrieves graph context with a traceable chain, and
// streams a generated answer.
package agent

import (
	"fmt"
	"strings"
)

// State is a step of the per-turn state machine.
type State int

const (
	StateStart State = iota
	StateRouteDecision
	StateDirectAnswer
	StateGraphRetrieval
	StateAnswerGeneration
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRouteDecision:
		return "route_decision"
	case StateDirectAnswer:
		return "direct_answer"
	case StateGraphRetrieval:
		return "graph_retrieval"
	case StateAnswerGeneration:
		return "answer_generation"
	case StateEnd:
		return "end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RouteMode selects how the route decision is made.
type RouteMode string

const (
	// RouteLLM asks the model whether the graph is needed.
	RouteLLM RouteMode = "llm"
	// RouteHeuristic uses the graph when a local keyword matches an entity.
	RouteHeuristic RouteMode = "heuristic"
	// RouteAlways uses the graph whenever it is non-empty.
	RouteAlways RouteMode = "always"
	// RouteNever always answers directly.
	RouteNever RouteMode = "never"
)

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the chat history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is an append-only sequence of turns.
type History []Turn

// With returns a new history with turns appended. h is not modified.
func (h History) With(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// Last returns at most n trailing turns.
func (h History) Last(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// ChainNeighbor is a one-hop neighbor recorded in a retrieval step.
type ChainNeighbor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Relation string `json:"relation"`
	Outgoing bool   `json:"outgoing"`
}

// ChainEntity is an entity matched by a keyword.
type ChainEntity struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	ChunkID     string          `json:"chunk_id,omitempty"`
	MatchedBy   string          `json:"matched_by"`
	Neighbors   []ChainNeighbor `json:"neighbors"`
}

// ChainStep records one keyword lookup. Found is the total number of
// matches; Entities holds the bounded subset that was expanded.
type ChainStep struct {
	Query    string        `json:"query"`
	Found    int           `json:"found"`
	Entities []ChainEntity `json:"entities"`
}

// Result is the terminal payload of a turn.
type Result struct {
	Response          string        `json:"response"`
	UsedGraph         bool          `json:"used_graph"`
	RouteDecision     string        `json:"route_decision"`
	RetrievalChain    []ChainStep   `json:"retrieval_chain"`
	RetrievedEntities []ChainEntity `json:"retrieved_entities"`
}

// graphContext renders retrieved entities as grounding text for the
// generation prompt.
func graphContext(entities []ChainEntity) string {
	if len(entities) == 0 {
		return "No relevant information was found in the knowledge graph."
	}
	var b strings.Builder
	for i, e := range entities {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Entity: %s (%s)\nDescription: %s", e.Name, e.Type, e.Description)
		if len(e.Neighbors) > 0 {
			b.WriteString("\nRelated:")
			for _, n := range e.Neighbors {
				if n.Outgoing {
					fmt.Fprintf(&b, "\n  - %s -[%s]-> %s", e.Name, n.Relation, n.Name)
				} else {
					fmt.Fprintf(&b, "\n  - %s -[%s]-> %s", n.Name, n.Relation, e.Name)
				}
			}
		}
	}
	return b.String()
}
