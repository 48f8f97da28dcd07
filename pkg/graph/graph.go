// Package graph runs a validated directed graph of agent nodes over a shared
// request state. The critical path is sequential: one node at a time, edges
// selected by pure predicates. Detached work leaves the path through a
// Spawner and never delays the response.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// NodeFunc is one processing step. Implementations must not mutate s: return
// it unchanged, or return a Clone carrying the changes.
type NodeFunc func(ctx context.Context, s *State) (*State, error)

// Predicate guards an edge. Pure: reads state, no side effects.
type Predicate func(s *State) bool

// Spawner hands detached work to a background pool. Spawn returns
// immediately; the pool owns the work's context and lifetime.
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context))
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(name string, fn func(ctx context.Context))

func (f SpawnFunc) Spawn(name string, fn func(ctx context.Context)) { f(name, fn) }

type edge struct {
	to   string
	when Predicate // nil = unconditional
}

// Graph is an immutable, validated node graph. Build once at startup, run
// once per request.
type Graph struct {
	name     string
	nodes    map[string]NodeFunc
	edges    map[string][]edge
	entry    string
	terminal string
	maxSteps int
	logger   *slog.Logger
}

// Name returns the graph's name, used in logs.
func (g *Graph) Name() string { return g.name }

// Builder accumulates nodes and edges; every structural problem is collected
// and reported together by Build.
type Builder struct {
	name     string
	nodes    map[string]NodeFunc
	order    []string
	edges    map[string][]edge
	entry    string
	terminal string
	errs     []error
}

// NewBuilder starts an empty graph definition.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]NodeFunc),
		edges: make(map[string][]edge),
	}
}

// AddNode registers a named node. Duplicate names and nil funcs are build
// errors.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if name == "" {
		b.errs = append(b.errs, errors.New("node with empty name"))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("node %s: nil func", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %s: registered twice", name))
		return b
	}
	b.nodes[name] = fn
	b.order = append(b.order, name)
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = append(b.edges[from], edge{to: to})
	return b
}

// AddEdgeIf adds a predicate-guarded edge. Edges are evaluated in the order
// they were added; the first match wins.
func (b *Builder) AddEdgeIf(from, to string, when Predicate) *Builder {
	if when == nil {
		return b.AddEdge(from, to)
	}
	b.edges[from] = append(b.edges[from], edge{to: to, when: when})
	return b
}

// SetEntry names the single entry node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// SetTerminal names the single terminal node.
func (b *Builder) SetTerminal(name string) *Builder {
	b.terminal = name
	return b
}

// Build validates the definition and returns the runnable graph: entry and
// terminal exist, every edge endpoint exists, the terminal has no outgoing
// edges, every node is reachable, every reachable non-terminal node can
// route somewhere, and no edge hides behind an unconditional one.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	if len(b.nodes) == 0 {
		errs = append(errs, errors.New("graph has no nodes"))
	}
	if b.entry == "" {
		errs = append(errs, errors.New("entry node not set"))
	} else if _, ok := b.nodes[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %s not registered", b.entry))
	}
	if b.terminal == "" {
		errs = append(errs, errors.New("terminal node not set"))
	} else if _, ok := b.nodes[b.terminal]; !ok {
		errs = append(errs, fmt.Errorf("terminal node %s not registered", b.terminal))
	}

	for from, edges := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
		for i, e := range edges {
			if _, ok := b.nodes[e.to]; !ok {
				errs = append(errs, fmt.Errorf("edge %s -> %s: unknown target", from, e.to))
			}
			// An unconditional edge matches everything; edges after it can
			// never be taken.
			if e.when == nil && i != len(edges)-1 {
				errs = append(errs, fmt.Errorf("node %s: unconditional edge to %s shadows later edges", from, e.to))
			}
		}
	}
	if b.terminal != "" && len(b.edges[b.terminal]) > 0 {
		errs = append(errs, fmt.Errorf("terminal node %s has outgoing edges", b.terminal))
	}

	if len(errs) == 0 {
		reachable := b.reachableFrom(b.entry)
		for _, name := range b.order {
			if !reachable[name] {
				errs = append(errs, fmt.Errorf("node %s unreachable from entry", name))
				continue
			}
			if name != b.terminal && len(b.edges[name]) == 0 {
				errs = append(errs, fmt.Errorf("node %s is a dead end", name))
			}
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("graph %s: %w", b.name, errors.Join(errs...))
	}

	nodes := make(map[string]NodeFunc, len(b.nodes))
	for k, v := range b.nodes {
		nodes[k] = v
	}
	edges := make(map[string][]edge, len(b.edges))
	for k, v := range b.edges {
		edges[k] = append([]edge(nil), v...)
	}

	return &Graph{
		name:     b.name,
		nodes:    nodes,
		edges:    edges,
		entry:    b.entry,
		terminal: b.terminal,
		maxSteps: 4 * len(nodes),
		logger:   slog.Default().With("component", "graph", "graph", b.name),
	}, nil
}

// reachableFrom walks edges from start and marks every visited node.
func (b *Builder) reachableFrom(start string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range b.edges[cur] {
			stack = append(stack, e.to)
		}
	}
	return seen
}
