package neo4jengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// BootstrapDatabase creates the database and the constraints required for it
// to be used by an Engine.
//
// Terms are constrained unique by key, which both prevents duplicate nodes
// (caused by concurrent MERGEs) and indexes the lookups of compiled queries.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
	defer func() { _ = s.Close(ctx) }()

	_, err := s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// we use key constraint instead of uniqueness constraint because we can
		// (it is only available in the enterprise edition).
		result, err := tx.Run(ctx, `
			CREATE CONSTRAINT IF NOT EXISTS
			FOR (n:`+termLabel+`)
			REQUIRE n.key IS NODE KEY
		`, nil)
		if err != nil {
			return nil, fmt.Errorf("key constraint: label %v: %w", termLabel, err)
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("create constraints: %w", err)
	}
	return s.Close(ctx)
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jengine: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jengine: database name must not be neo4j: reserved for system database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jengine: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// create a new database if it does not exist
	result, err := s.Run(ctx, `
			CREATE DATABASE $name IF NOT EXISTS WAIT
		`, map[string]any{
		"name": name,
	})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
