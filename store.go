package sidecar

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Namespace anchors recognise the data-product vocabulary among the prefixes
// declared by a description graph; either a fragment-style or a path-style
// terminator is accepted.
var namespaceAnchors = []string{"DataProduct#", "DataProduct/"}

// ResolveNamespace returns the single data-product namespace bound in g.
//
// A namespace is a candidate when its IRI ends with one of the anchors. The
// same IRI bound to several prefixes counts once. Zero candidates, or more than
// one distinct candidate, yield a *ConfigurationError.
func ResolveNamespace(g *Graph) (string, error) {
	var candidates []string
	for _, ns := range g.Namespaces() {
		for _, anchor := range namespaceAnchors {
			if strings.HasSuffix(ns.IRI, anchor) && !slices.Contains(candidates, ns.IRI) {
				candidates = append(candidates, ns.IRI)
			}
		}
	}
	switch len(candidates) {
	case 0:
		return "", &ConfigurationError{
			Field:  "namespace",
			Reason: fmt.Sprintf("no namespace ending with %s", strings.Join(namespaceAnchors, " or ")),
		}
	case 1:
		return candidates[0], nil
	default:
		slices.Sort(candidates)
		return "", &ConfigurationError{
			Field:  "namespace",
			Reason: "ambiguous model: several data-product namespaces: " + strings.Join(candidates, ", "),
		}
	}
}

// A GraphStore owns a merged description graph, the engine that answers
// queries about it, and the data-product namespace resolved from it.
type GraphStore struct {
	graph     *Graph
	engine    Engine
	namespace string
}

// An EngineFactory makes an Engine that answers queries about g, for example
// by importing g into a database.
type EngineFactory func(ctx context.Context, g *Graph) (Engine, error)

// InMemory is the EngineFactory that evaluates queries on the graph itself.
func InMemory(_ context.Context, g *Graph) (Engine, error) { return g, nil }

// NewGraphStore resolves the namespace of g and builds its engine. A nil
// factory selects InMemory.
func NewGraphStore(ctx context.Context, g *Graph, factory EngineFactory) (*GraphStore, error) {
	ns, err := ResolveNamespace(g)
	if err != nil {
		return nil, err
	}
	if factory == nil {
		factory = InMemory
	}
	engine, err := factory(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("build query engine: %w", err)
	}
	return &GraphStore{graph: g, engine: engine, namespace: ns}, nil
}

// Graph returns the merged description graph.
func (s *GraphStore) Graph() *Graph { return s.graph }

// Namespace returns the resolved data-product namespace.
func (s *GraphStore) Namespace() string { return s.namespace }

// Query runs q on the store's engine.
func (s *GraphStore) Query(ctx context.Context, q *Query, b Bindings) ([]Row, error) {
	return s.engine.Query(ctx, q, b)
}
