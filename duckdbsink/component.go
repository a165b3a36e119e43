package duckdbsink

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/danielorbach/go-component"

	"github.com/go-digitaltwin/go-sidecar"
)

// ComponentOptions configure the Component. Path is the DuckDB database file;
// the empty path keeps the tables in memory.
type ComponentOptions struct {
	Path string
}

// Component describes the deployment of a DuckDB store of the distribution
// records published by sidecar components.
var Component = component.Descriptor{
	Name: "dataproduct-distribution-store",
	Doc:  "Stores the distribution records of data-product sidecars in DuckDB tables.",
	Bootstrap: func(l *component.L, linker component.Linker, options any) error {
		var path string
		switch o := options.(type) {
		case ComponentOptions:
			path = o.Path
		case *ComponentOptions:
			if o != nil {
				path = o.Path
			}
		case nil:
		default:
			return fmt.Errorf("duckdbsink: unexpected component options %T", options)
		}
		logger := component.Logger(l.Context())

		sink, err := Open(path)
		if err != nil {
			return err
		}
		l.CleanupContext(func(context.Context) error { return sink.Close() })

		logger.Debug("Opening interest subscription...", slog.String("topic-name", sidecar.DistributionAspect))
		rows, err := linker.LinkInterest(l.GraceContext(), sidecar.DistributionAspect)
		if err != nil {
			return fmt.Errorf("open interest %q: %w", sidecar.DistributionAspect, err)
		}
		l.CleanupBackground(rows.Shutdown)
		logger.Info("Interest subscription opened successfully")

		feed := sidecar.DistributionFeed{Subscription: rows}
		l.Fork("store", feed.Proc(sink.HandleRow))
		return nil
	},
	OptionsType: reflect.TypeOf(ComponentOptions{}),
	Interests:   []string{sidecar.DistributionAspect},
}
