package sidecar

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/danielorbach/go-component"
)

// DistributionAspect is the aspect a sidecar component publishes its
// distribution records to, as SinkRow messages.
const DistributionAspect = "dataproduct.distribution"

// ComponentOptions configure the Component of a single port. They are the
// options the component loader passes to Bootstrap.
type ComponentOptions struct {
	ModelIRI string // Location of the semantic model, anything go-getter fetches.
	DataIRI  string // Location of the data compliant with the model.
	PortID   string // The input port to operate, an IRI or a blank-node label.
	Table    string // Sink table of distribution records; DefaultTable when empty.
}

// Component describes the deployment of a sidecar operating one input port of
// a data product. Its distribution records are published to
// DistributionAspect; see DistributionFeed for consuming them.
var Component = component.Descriptor{
	Name: "dataproduct-sidecar",
	Doc:  "Ingests a data-product input port on the schedule declared by its semantic description.",
	Bootstrap: func(l *component.L, linker component.Linker, options any) error {
		opts, err := componentOptions(options)
		if err != nil {
			return err
		}
		logger := component.Logger(l.Context())

		logger.Debug("Opening aspect topic...", slog.String("topic-name", DistributionAspect))
		topic, err := linker.LinkAspect(l.GraceContext(), DistributionAspect)
		if err != nil {
			return fmt.Errorf("open aspect %q: %w", DistributionAspect, err)
		}
		l.CleanupContext(topic.Shutdown)
		logger.Info("Aspect topic opened successfully")

		sidecarOpts := []Option{WithSink(TopicSink{Topic: topic})}
		if opts.Table != "" {
			sidecarOpts = append(sidecarOpts, WithTable(opts.Table))
		}
		p, err := NewPortSidecar(l.Context(), opts.ModelIRI, opts.DataIRI, opts.PortID, sidecarOpts...)
		if err != nil {
			return fmt.Errorf("configure sidecar: %w", err)
		}
		l.Fork("port", p)
		return nil
	},
	OptionsType: reflect.TypeOf(ComponentOptions{}),
	Aspects:     []string{DistributionAspect},
}

func componentOptions(options any) (ComponentOptions, error) {
	switch o := options.(type) {
	case ComponentOptions:
		return o, nil
	case *ComponentOptions:
		if o != nil {
			return *o, nil
		}
	}
	return ComponentOptions{}, fmt.Errorf("sidecar: unexpected component options %T", options)
}
