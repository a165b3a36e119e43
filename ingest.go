package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
)

// A DistributionRecord registers one ingested artifact against the port that
// ingested it. Records are appended to a Sink and never modified.
type DistributionRecord struct {
	Title         string
	IssuedAt      time.Time
	AccessService string // The port id.
	AccessURL     string
	ConformsTo    string // The data model id.
}

// A Sink is an append-only tabular store for distribution records.
//
// Sinks may be shared by the sidecars of several ports, so AppendRow must be
// safe for concurrent use and atomic per call.
type Sink interface {
	AppendRow(ctx context.Context, table string, r DistributionRecord) error
}

// An Ingestion is the action a port runs on every tick of its scheduler.
type Ingestion interface {
	Ingest(ctx context.Context) error
}

// An IngestionFactory builds the Ingestion of a resolved port. The factory
// selects the ingestion strategy of a PortSidecar.
type IngestionFactory func(port PortDescriptor, sink Sink, table string) (Ingestion, error)

// NewFileIngestion is the IngestionFactory of file input ports.
func NewFileIngestion(port PortDescriptor, sink Sink, table string) (Ingestion, error) {
	m, err := compileNamePattern(port.NamePattern)
	if err != nil {
		return nil, &ConfigurationError{Port: port.PortID, Field: "namePattern", Reason: err.Error()}
	}
	return &FileIngestion{
		Port:  port,
		Sink:  sink,
		Table: table,
		match: m,
	}, nil
}

// FileIngestion lists the directory of a port and appends a DistributionRecord
// for every regular file whose name matches the port's name pattern.
//
// Files are not marked as consumed: a file still present on the next tick is
// recorded again.
//
// The directory is listed through the gocloud fileblob driver, which reserves
// names ending in ".attrs" for blob metadata. Such files are never listed, so
// they are never recorded whatever the name pattern.
type FileIngestion struct {
	Port  PortDescriptor
	Sink  Sink
	Table string

	// Process inspects a matched file before it is recorded. A nil Process
	// accepts every file; no parsing or validation happens by default.
	Process func(ctx context.Context, path string) error
	// Now returns the issue time of records. Nil means time.Now.
	Now func() time.Time

	match func(name string) bool
}

// Ingest performs a single tick. Any failure is returned as an
// *IngestionError.
func (f *FileIngestion) Ingest(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "FileIngestion.Ingest", trace.WithAttributes(
		attribute.String("sidecar.port", f.Port.PortID),
		attribute.String("sidecar.path", f.Port.Path),
	))
	defer span.End()
	defer func(start time.Time) {
		measureTick(ctx, f.Port.PortID, err == nil, time.Since(start))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}(time.Now())
	logger := component.Logger(ctx).With("port", f.Port.PortID)

	names, err := f.list(ctx)
	if err != nil {
		return &IngestionError{Port: f.Port.PortID, Err: err}
	}

	var recorded int
	for _, name := range names {
		if !f.match(name) {
			continue
		}
		if err := f.process(ctx, name); err != nil {
			return &IngestionError{Port: f.Port.PortID, Err: fmt.Errorf("process %s: %w", name, err)}
		}
		record := DistributionRecord{
			Title:         name,
			IssuedAt:      f.now().UTC(),
			AccessService: f.Port.PortID,
			AccessURL:     "file://" + strings.TrimSuffix(f.Port.Path, "/") + "/" + name,
			ConformsTo:    f.Port.DataModel,
		}
		if err := f.Sink.AppendRow(ctx, f.Table, record); err != nil {
			return &IngestionError{Port: f.Port.PortID, Err: fmt.Errorf("append %s: %w", name, err)}
		}
		recorded++
	}
	recordsAppended.Add(ctx, int64(recorded), portAttribute(f.Port.PortID))
	logger.Debug("Ingestion tick completed", "entries", len(names), "recorded", recorded)
	return nil
}

// list returns the names of the regular files directly inside the port's
// directory.
func (f *FileIngestion) list(ctx context.Context) (names []string, err error) {
	bucket, err := fileblob.OpenBucket(f.Port.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	defer func() {
		if cerr := bucket.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close directory: %w", cerr)
		}
	}()

	it := bucket.List(&blob.ListOptions{Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list directory: %w", err)
		}
		if obj.IsDir {
			continue
		}
		names = append(names, obj.Key)
	}
}

func (f *FileIngestion) process(ctx context.Context, name string) error {
	if f.Process == nil {
		return nil
	}
	return f.Process(ctx, strings.TrimSuffix(f.Port.Path, "/")+"/"+name)
}

func (f *FileIngestion) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

// compileNamePattern turns a name pattern into a matcher.
//
// The pattern is a regular expression searched for in the file name (the name
// is the subject of the match). Patterns that are not valid regular
// expressions but are valid globs, such as "*.csv", match whole names as globs.
func compileNamePattern(pattern string) (func(name string) bool, error) {
	re, reErr := regexp.Compile(pattern)
	if reErr == nil {
		return re.MatchString, nil
	}
	if doublestar.ValidatePattern(pattern) {
		return func(name string) bool {
			ok, _ := doublestar.Match(pattern, name)
			return ok
		}, nil
	}
	return nil, fmt.Errorf("name pattern %q is neither a regular expression nor a glob: %v", pattern, reErr)
}
