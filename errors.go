package sidecar

import (
	"errors"
	"fmt"
)

// A ConfigurationError reports a description graph that cannot configure a
// sidecar: an unresolvable namespace, or a missing or malformed port property.
// Construction fails with it and is never retried.
type ConfigurationError struct {
	Port   string // Empty for errors that do not concern a specific port.
	Field  string // The offending field, e.g. "format" or "schedule".
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Port == "" && e.Field == "":
		return "configuration: " + e.Reason
	case e.Port == "":
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("configure port %s: %s: %s", e.Port, e.Field, e.Reason)
	}
}

// A LoadError reports a model or data resource that could not be fetched or
// parsed.
type LoadError struct {
	IRI string
	Err error
}

func (e *LoadError) Error() string { return "load " + e.IRI + ": " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// A QueryError reports a malformed query template. It is always a programming
// error.
type QueryError struct {
	Query  string
	Reason string
}

func (e *QueryError) Error() string { return "malformed query: " + e.Reason }

// An IngestionError reports a failed ingestion tick, such as an unreadable
// directory or a sink that refused a record. It terminates the scheduler of the
// port that returned it.
type IngestionError struct {
	Port string
	Err  error
}

func (e *IngestionError) Error() string { return "ingest port " + e.Port + ": " + e.Err.Error() }

func (e *IngestionError) Unwrap() error { return e.Err }

// ErrSchedulerState is returned by Scheduler.Start when the scheduler has
// already been started or stopped. A stopped scheduler cannot be restarted.
var ErrSchedulerState = errors.New("scheduler already started or stopped")

// ErrNoSink is returned by NewPortSidecar when no Sink was configured.
var ErrNoSink = errors.New("no sink configured")
