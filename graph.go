package sidecar

import (
	"context"
	"slices"
	"strings"
)

// A NamespaceBinding records a prefix declared by a source document.
type NamespaceBinding struct {
	Prefix string
	IRI    string
}

// A Graph is an immutable set of triples together with the namespace bindings
// declared by the documents it was parsed from.
//
// Graph implements Engine by evaluating queries in memory. A Graph is safe for
// concurrent use because nothing modifies it after construction.
type Graph struct {
	triples    []Triple
	namespaces []NamespaceBinding
	nodes      []Term
	bySubject  map[Term][]int
	byObject   map[Term][]int
}

// NewGraph returns a graph holding the given triples (duplicates removed) and
// namespace bindings.
func NewGraph(triples []Triple, namespaces ...NamespaceBinding) *Graph {
	g := &Graph{
		bySubject: make(map[Term][]int),
		byObject:  make(map[Term][]int),
	}
	seen := make(map[Triple]struct{}, len(triples))
	nodes := make(map[Term]struct{})
	for _, t := range triples {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		i := len(g.triples)
		g.triples = append(g.triples, t)
		g.bySubject[t.S] = append(g.bySubject[t.S], i)
		g.byObject[t.O] = append(g.byObject[t.O], i)
		for _, n := range []Term{t.S, t.O} {
			if _, ok := nodes[n]; !ok {
				nodes[n] = struct{}{}
				g.nodes = append(g.nodes, n)
			}
		}
	}
	for _, ns := range namespaces {
		if !slices.Contains(g.namespaces, ns) {
			g.namespaces = append(g.namespaces, ns)
		}
	}
	return g
}

// Merge returns the union of the given graphs. The arguments are not modified.
func Merge(graphs ...*Graph) *Graph {
	var (
		triples    []Triple
		namespaces []NamespaceBinding
	)
	for _, g := range graphs {
		triples = append(triples, g.triples...)
		namespaces = append(namespaces, g.namespaces...)
	}
	return NewGraph(triples, namespaces...)
}

// Len returns the number of triples in the graph.
func (g *Graph) Len() int { return len(g.triples) }

// Triples returns a copy of the triples in the graph.
func (g *Graph) Triples() []Triple { return slices.Clone(g.triples) }

// Namespaces returns a copy of the namespace bindings declared by the source
// documents of the graph.
func (g *Graph) Namespaces() []NamespaceBinding { return slices.Clone(g.namespaces) }

// Query evaluates q against the graph. The initial bindings b constrain the
// named variables before any pattern is matched.
func (g *Graph) Query(ctx context.Context, q *Query, b Bindings) ([]Row, error) {
	start := make(map[string]Term, len(b))
	for k, v := range b {
		start[k] = v
	}
	solutions := []map[string]Term{start}
	for _, p := range q.Patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []map[string]Term
		for _, s := range solutions {
			g.match(p, s, func(extended map[string]Term) {
				next = append(next, extended)
			})
		}
		solutions = next
		if len(solutions) == 0 {
			break
		}
	}
	return project(q, solutions), nil
}

// match calls yield for every extension of the partial solution s that
// satisfies the pattern p.
func (g *Graph) match(p Pattern, s map[string]Term, yield func(map[string]Term)) {
	subj, subjBound := p.S.Resolve(s)
	obj, objBound := p.O.Resolve(s)

	if p.Closure {
		switch {
		case subjBound:
			for _, o := range g.reach(subj, p.P.Term, true) {
				if ext, ok := unify(s, p.O, o); ok {
					yield(ext)
				}
			}
		case objBound:
			for _, n := range g.reach(obj, p.P.Term, false) {
				if ext, ok := unify(s, p.S, n); ok {
					yield(ext)
				}
			}
		default:
			for _, n := range g.nodes {
				for _, o := range g.reach(n, p.P.Term, true) {
					ext, ok := unify(s, p.S, n)
					if !ok {
						continue
					}
					if ext, ok = unify(ext, p.O, o); ok {
						yield(ext)
					}
				}
			}
		}
		return
	}

	var candidates []int
	switch {
	case subjBound:
		candidates = g.bySubject[subj]
	case objBound:
		candidates = g.byObject[obj]
	default:
		candidates = make([]int, len(g.triples))
		for i := range candidates {
			candidates[i] = i
		}
	}
	for _, i := range candidates {
		t := g.triples[i]
		ext, ok := unify(s, p.S, t.S)
		if !ok {
			continue
		}
		if ext, ok = unify(ext, p.P, t.P); !ok {
			continue
		}
		if ext, ok = unify(ext, p.O, t.O); ok {
			yield(ext)
		}
	}
}

// reach returns every node reachable from n over zero or more edges labelled
// with predicate, following edges forwards or backwards. The result always
// starts with n itself.
func (g *Graph) reach(n, predicate Term, forward bool) []Term {
	visited := map[Term]bool{n: true}
	out := []Term{n}
	for i := 0; i < len(out); i++ {
		var edges []int
		if forward {
			edges = g.bySubject[out[i]]
		} else {
			edges = g.byObject[out[i]]
		}
		for _, e := range edges {
			t := g.triples[e]
			if t.P != predicate {
				continue
			}
			m := t.O
			if !forward {
				m = t.S
			}
			if !visited[m] {
				visited[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// unify binds slot to t in a copy of s, or reports false when slot is already
// bound to a different term. The original map is never modified.
func unify(s map[string]Term, slot Slot, t Term) (map[string]Term, bool) {
	if !slot.IsVar() {
		return s, slot.Term == t
	}
	if bound, ok := s[slot.Var]; ok {
		return s, bound == t
	}
	ext := make(map[string]Term, len(s)+1)
	for k, v := range s {
		ext[k] = v
	}
	ext[slot.Var] = t
	return ext, true
}

// project keeps the selected variables of every solution, dropping duplicate
// rows when the query asks for DISTINCT results.
func project(q *Query, solutions []map[string]Term) []Row {
	rows := make([]Row, 0, len(solutions))
	seen := make(map[string]bool)
	for _, s := range solutions {
		row := make(Row, len(q.Vars))
		var key strings.Builder
		for _, v := range q.Vars {
			t, ok := s[v]
			if !ok {
				continue
			}
			row[v] = t
			key.WriteString(v)
			key.WriteByte('=')
			key.WriteString(t.Key())
			key.WriteByte(0)
		}
		if q.Distinct {
			k := key.String()
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		rows = append(rows, row)
	}
	return rows
}
