package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrNoRoute means no outgoing edge matched the state at a non-terminal
	// node. A validated graph hits this only through predicate logic.
	ErrNoRoute = errors.New("no edge matches state")

	// ErrTraversalLimit guards against predicate-driven cycles.
	ErrTraversalLimit = errors.New("traversal step limit exceeded")
)

// PanicError wraps a panic recovered at the executor boundary. The caller
// turns it into the fixed apology response; the stack is already logged.
type PanicError struct {
	Node  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Node, e.Value)
}

// Run executes the graph from entry to terminal, threading the state through
// each node. On error the state returned is the last one a node completed
// with, so the caller can still salvage a degraded reply. Panics are
// recovered here, logged with their stack, and returned as *PanicError.
func (g *Graph) Run(ctx context.Context, s *State) (final *State, err error) {
	current := g.entry

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("node panic recovered",
				"node", current,
				"panic", r,
				"stack", string(debug.Stack()))
			final = s
			err = &PanicError{Node: current, Value: r}
		}
	}()

	for steps := 0; ; steps++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s, ctxErr
		}
		if steps >= g.maxSteps {
			return s, fmt.Errorf("%w: %d steps in graph %s", ErrTraversalLimit, steps, g.name)
		}

		next, nodeErr := g.nodes[current](ctx, s)
		if nodeErr != nil {
			return s, fmt.Errorf("node %s: %w", current, nodeErr)
		}
		if next != nil {
			s = next
		}

		if current == g.terminal {
			return s, nil
		}

		to, ok := g.route(current, s)
		if !ok {
			return s, fmt.Errorf("%w: leaving %s", ErrNoRoute, current)
		}
		current = to
	}
}

// route picks the first outgoing edge whose predicate accepts the state.
func (g *Graph) route(from string, s *State) (string, bool) {
	for _, e := range g.edges[from] {
		if e.when == nil || e.when(s) {
			return e.to, true
		}
	}
	return "", false
}
