package neo4jengine

import (
	"context"
	"fmt"

	"github.com/go-digitaltwin/go-sidecar"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/codes"
)

// batchSize bounds the number of parameters sent with a single UNWIND.
const batchSize = 1000

// A graphWriter imports a description graph within a single neo4j transaction.
type graphWriter struct {
	tx neo4j.ManagedTransaction
}

// clear deletes every term node, and with them every triple.
func (w graphWriter) clear(ctx context.Context) error {
	result, err := w.tx.Run(ctx, `
		MATCH (n:`+termLabel+`)
		DETACH DELETE n
	`, nil)
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume result: %w", err)
	}
	return nil
}

// assertTerms merges a node for every term, keyed by the term key.
func (w graphWriter) assertTerms(ctx context.Context, terms []sidecar.Term) (err error) {
	ctx, span := tracer.Start(ctx, "graphWriter.assertTerms")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	for start := 0; start < len(terms); start += batchSize {
		end := min(start+batchSize, len(terms))
		props := make([]map[string]any, 0, end-start)
		for _, t := range terms[start:end] {
			props = append(props, termProps(t))
		}
		result, err := w.tx.Run(ctx, `
			UNWIND $terms AS term
			MERGE (n:`+termLabel+` {key: term.key})
			SET n += term
		`, map[string]any{"terms": props})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("consume result: %w", err)
		}
	}
	return nil
}

// assertTriples merges a relationship for every triple. The nodes of the
// subject and object must have been asserted beforehand.
func (w graphWriter) assertTriples(ctx context.Context, triples []sidecar.Triple) (err error) {
	ctx, span := tracer.Start(ctx, "graphWriter.assertTriples")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	for start := 0; start < len(triples); start += batchSize {
		end := min(start+batchSize, len(triples))
		rows := make([]map[string]any, 0, end-start)
		for _, t := range triples[start:end] {
			rows = append(rows, map[string]any{
				"s": t.S.Key(),
				"p": t.P.Value,
				"o": t.O.Key(),
			})
		}
		result, err := w.tx.Run(ctx, `
			UNWIND $triples AS triple
			MATCH (s:`+termLabel+` {key: triple.s}), (o:`+termLabel+` {key: triple.o})
			MERGE (s)-[:`+tripleType+` {predicate: triple.p}]->(o)
			RETURN count(*) AS merged
		`, map[string]any{"triples": rows})
		if err != nil {
			return fmt.Errorf("run cypher: %w", err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return fmt.Errorf("query single result: %w", err)
		}
		merged, err := getRecordProperty[int64](record, "merged")
		if err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
		// The MATCH drops triples whose nodes are missing, which means the graph was
		// not asserted in full.
		if want := int64(end - start); merged != want {
			panic(fmt.Sprintf("neo4jengine: corrupted import: merged %d of %d triples", merged, want))
		}
	}
	return nil
}

// terms returns every distinct term of g that is a subject or an object.
// Predicates are stored on relationships, not as nodes.
func terms(g *sidecar.Graph) []sidecar.Term {
	seen := make(map[string]bool)
	var out []sidecar.Term
	for _, t := range g.Triples() {
		for _, n := range []sidecar.Term{t.S, t.O} {
			if k := n.Key(); !seen[k] {
				seen[k] = true
				out = append(out, n)
			}
		}
	}
	return out
}
