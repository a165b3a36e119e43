// Package duckdbsink stores distribution records in DuckDB tables.
//
// A Sink is a sidecar.Sink: a PortSidecar can append to it directly, or a
// sidecar.DistributionFeed can drain a topic into it with HandleRow.
package duckdbsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/go-digitaltwin/go-sidecar"
)

// Table names are interpolated into SQL, so they are restricted to plain
// identifiers.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidTable is returned for table names that are not plain identifiers.
var ErrInvalidTable = errors.New("invalid table name")

// A Sink appends distribution records to DuckDB tables, creating each table on
// first use. A Sink is safe for concurrent use.
type Sink struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]bool
}

// Open opens the DuckDB database at path; the empty path opens an in-memory
// database.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return New(db), nil
}

// New returns a Sink writing to db, which must be a DuckDB database.
func New(db *sql.DB) *Sink {
	return &Sink{db: db, created: make(map[string]bool)}
}

// Close closes the underlying database.
func (s *Sink) Close() error { return s.db.Close() }

// AppendRow inserts r as a new row of table.
func (s *Sink) AppendRow(ctx context.Context, table string, r sidecar.DistributionRecord) error {
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (title, issued_at, access_service, access_url, conforms_to)
		VALUES (?, ?, ?, ?, ?)
	`, r.Title, r.IssuedAt.UTC(), r.AccessService, r.AccessURL, r.ConformsTo)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// HandleRow appends a row received from a sidecar.DistributionFeed.
func (s *Sink) HandleRow(ctx context.Context, row sidecar.SinkRow) error {
	return s.AppendRow(ctx, row.Table, row.Record)
}

// Rows returns the records of table in insertion order. A table that was never
// appended to has no rows.
func (s *Sink) Rows(ctx context.Context, table string) ([]sidecar.DistributionRecord, error) {
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, issued_at, access_service, access_url, conforms_to
		FROM `+table+`
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	var out []sidecar.DistributionRecord
	for rows.Next() {
		var r sidecar.DistributionRecord
		var issued time.Time
		if err := rows.Scan(&r.Title, &issued, &r.AccessService, &r.AccessURL, &r.ConformsTo); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.IssuedAt = issued.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Sink) ensureTable(ctx context.Context, table string) error {
	if !identifier.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[table] {
		return nil
	}
	seq := table + "_seq"
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS ` + seq,
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			seq            BIGINT DEFAULT nextval('` + seq + `'),
			title          VARCHAR NOT NULL,
			issued_at      TIMESTAMP NOT NULL,
			access_service VARCHAR NOT NULL,
			access_url     VARCHAR NOT NULL,
			conforms_to    VARCHAR NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	s.created[table] = true
	return nil
}
