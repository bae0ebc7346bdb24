// Package matchfsm implements the pure match lifecycle state machine
// (spec §4.1). It never touches storage or the chain; callers persist the
// result of Validate themselves.
package matchfsm

import (
	"fmt"

	"matchguard/internal/apierr"
)

// State is one node of the match lifecycle graph.
type State string

const (
	Created   State = "Created"
	Started   State = "Started"
	Completed State = "Completed"
	Disputed  State = "Disputed"
	Finalized State = "Finalized"
)

var edges = map[State]map[State]struct{}{
	Created:   {Started: {}},
	Started:   {Completed: {}},
	Completed: {Disputed: {}, Finalized: {}},
	Disputed:  {Finalized: {}},
	Finalized: {},
}

// Valid reports whether s is a recognised FSM state.
func (s State) Valid() bool {
	_, ok := edges[s]
	return ok
}

// IsTerminal reports whether s has no outgoing edges other than a self-loop.
func (s State) IsTerminal() bool {
	return s == Finalized
}

// Validate checks whether the transition from -> to is legal. Any state is
// always allowed to self-loop, modelling an idempotent no-op retry. Finalized
// has no legal successor, including to itself via a different path.
func Validate(from, to State) error {
	if !from.Valid() {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidTransition, fmt.Sprintf("unknown from-state %q", from))
	}
	if !to.Valid() {
		return apierr.New(apierr.KindValidation, apierr.CodeInvalidTransition, fmt.Sprintf("unknown to-state %q", to))
	}
	if from == to {
		return nil
	}
	if _, ok := edges[from][to]; ok {
		return nil
	}
	return apierr.New(apierr.KindFSM, apierr.CodeInvalidTransition, fmt.Sprintf("%s -> %s is not a legal transition", from, to))
}

// ValidNextStates returns the states reachable from s in one legal hop,
// excluding the self-loop.
func ValidNextStates(s State) []State {
	next := edges[s]
	out := make([]State, 0, len(next))
	for to := range next {
		out = append(out, to)
	}
	return out
}

// IsSuccessor reports whether candidate is reachable from from via zero or
// more legal edges, used by the reconciler's forward-only repair rule
// (spec §4.2). It performs a bounded BFS since the graph is small and acyclic
// except for terminal self-loops.
func IsSuccessor(from, candidate State) bool {
	if from == candidate {
		return true
	}
	visited := map[State]bool{from: true}
	queue := []State{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range edges[cur] {
			if next == candidate {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
