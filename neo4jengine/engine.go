package neo4jengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danielorbach/go-component"
	"github.com/go-digitaltwin/go-sidecar"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Engine evaluates sidecar queries on a description graph stored in Neo4j.
//
// Terms are stored as nodes, and triples as relationships between them. Each
// query is compiled to a single Cypher statement and executed in its own read
// transaction. Import replaces the stored graph in a single write transaction;
// queries never observe a partially imported graph.
type Engine struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.

	// Serialises imports against queries. Neo4j isolation alone lets a query
	// interleave with the deletion and recreation of the graph.
	mu sync.RWMutex
}

// NewEngine returns a ready-to-use Engine using the given database as the
// underlying neo4j graph. The database is expected to be bootstrapped already,
// see BootstrapDatabase.
func NewEngine(driver neo4j.DriverWithContext, database string) *Engine {
	return &Engine{driver: driver, database: database}
}

// Factory returns a sidecar.EngineFactory that imports the description graph
// into the given database and evaluates queries there.
func Factory(driver neo4j.DriverWithContext, database string) sidecar.EngineFactory {
	return func(ctx context.Context, g *sidecar.Graph) (sidecar.Engine, error) {
		e := NewEngine(driver, database)
		if err := e.Import(ctx, g); err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Import replaces the graph stored in the database with g.
//
// The replacement happens in a single write transaction, which is rolled back
// should any part of it fail, leaving the previously imported graph in place.
func (e *Engine) Import(ctx context.Context, g *sidecar.Graph) (err error) {
	ctx, span := tracer.Start(ctx, "Import", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.Int("graph.triples", g.Len()),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", e.database)

	// We open a new session for every query cycle to ensure transactional isolation
	// and to prevent any state carryover between different query executions.
	s := e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", "write")
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	nodes := terms(g)
	_, err = s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		w := graphWriter{tx: tx}
		if err := w.clear(ctx); err != nil {
			return nil, fmt.Errorf("clear graph: %w", err)
		}
		if err := w.assertTerms(ctx, nodes); err != nil {
			return nil, fmt.Errorf("assert terms: %w", err)
		}
		if err := w.assertTriples(ctx, g.Triples()); err != nil {
			return nil, fmt.Errorf("assert triples: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	} else if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	} else if err != nil {
		return fmt.Errorf("neo4j execute: %w", err)
	}

	logger.Debug("Imported description graph", "terms", len(nodes), "triples", g.Len())
	importedTriples.Record(ctx, int64(g.Len()), metric.WithAttributes(
		attribute.String("neo4j.database", e.database),
	))
	return nil
}

// Query compiles q to Cypher and runs it in a read transaction.
//
// Queries the compiler cannot express return an error wrapping
// errUnsupportedQuery; none of the queries of a sidecar.QueryCatalog are such.
func (e *Engine) Query(ctx context.Context, q *sidecar.Query, b sidecar.Bindings) (rows []sidecar.Row, err error) {
	c, err := compile(q, b)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "Query", trace.WithAttributes(
		attribute.String("neo4j.database", e.database),
		attribute.String("db.statement", c.cypher),
	))
	defer span.End()

	s := e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			component.Logger(ctx).Error("Failed to close session", "error", err, "mode", "read")
		}
	}()

	e.mu.RLock()
	defer e.mu.RUnlock()

	records, err := s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, c.cypher, c.params)
		if err != nil {
			return nil, fmt.Errorf("run cypher: %w", err)
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j execute: %w", err)
	}

	for _, record := range records.([]*neo4j.Record) {
		row, err := safelyParseRow(ctx, record, c)
		if err != nil {
			return nil, fmt.Errorf("parse row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
