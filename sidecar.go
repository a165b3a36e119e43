package sidecar

import (
	"context"
	"fmt"

	"github.com/danielorbach/go-component"
)

// DefaultTable is the sink table distribution records are appended to unless
// WithTable says otherwise.
const DefaultTable = "distribution"

type options struct {
	fetcher   Fetcher
	engine    EngineFactory
	sink      Sink
	table     string
	ingestion IngestionFactory
}

// An Option configures New and NewPortSidecar.
type Option func(*options)

// WithFetcher sets how model and data resources are fetched. The default is a
// GetterFetcher.
func WithFetcher(f Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithEngine sets the query engine built over the merged graph. The default
// evaluates queries in memory.
func WithEngine(f EngineFactory) Option { return func(o *options) { o.engine = f } }

// WithSink sets where distribution records go. NewPortSidecar requires it.
func WithSink(s Sink) Option { return func(o *options) { o.sink = s } }

// WithTable sets the sink table of distribution records.
func WithTable(name string) Option { return func(o *options) { o.table = name } }

// WithIngestion selects the ingestion strategy of a port. The default is
// NewFileIngestion.
func WithIngestion(f IngestionFactory) Option { return func(o *options) { o.ingestion = f } }

func newOptions(opts []Option) options {
	o := options{
		fetcher:   GetterFetcher{},
		engine:    InMemory,
		table:     DefaultTable,
		ingestion: NewFileIngestion,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// A Sidecar interprets the description of a data product: a semantic model and
// data compliant with it, merged into one graph.
type Sidecar struct {
	store   *GraphStore
	catalog *QueryCatalog
}

// New loads the model and data resources, resolves the data-product namespace,
// and binds a QueryCatalog to it.
//
// Failures are fatal: a *LoadError when a resource cannot be fetched or
// parsed, a *ConfigurationError when no single namespace can be resolved.
func New(ctx context.Context, modelIRI, dataIRI string, opts ...Option) (*Sidecar, error) {
	return newSidecar(ctx, modelIRI, dataIRI, newOptions(opts))
}

func newSidecar(ctx context.Context, modelIRI, dataIRI string, o options) (*Sidecar, error) {
	g, err := Load(ctx, o.fetcher, modelIRI, dataIRI)
	if err != nil {
		return nil, err
	}
	store, err := NewGraphStore(ctx, g, o.engine)
	if err != nil {
		return nil, err
	}
	catalog, err := NewQueryCatalog(store)
	if err != nil {
		return nil, err
	}
	component.Logger(ctx).Info("Description graph loaded",
		"namespace", store.Namespace(),
		"triples", g.Len(),
	)
	return &Sidecar{store: store, catalog: catalog}, nil
}

// Namespace returns the resolved data-product namespace.
func (s *Sidecar) Namespace() string { return s.store.Namespace() }

// Catalog returns the query catalog of the description graph.
func (s *Sidecar) Catalog() *QueryCatalog { return s.catalog }

// Store returns the graph store of the description graph.
func (s *Sidecar) Store() *GraphStore { return s.store }

// A PortSidecar operates a single input port: it ingests the port on the
// schedule declared by the port's description.
//
// A PortSidecar owns exactly one Scheduler and therefore one goroutine while
// running. It can be started once; a stopped PortSidecar cannot be restarted.
type PortSidecar struct {
	*Sidecar
	port      PortDescriptor
	ingestion Ingestion
	scheduler *Scheduler
}

// NewPortSidecar builds a Sidecar, decodes the description of portID, and
// prepares its ingestion. Configuration problems of the port are reported as
// *ConfigurationError values; a sidecar that fails construction is never
// returned.
func NewPortSidecar(ctx context.Context, modelIRI, dataIRI, portID string, opts ...Option) (*PortSidecar, error) {
	o := newOptions(opts)
	if o.sink == nil {
		return nil, ErrNoSink
	}
	base, err := newSidecar(ctx, modelIRI, dataIRI, o)
	if err != nil {
		return nil, err
	}
	return base.BindPort(ctx, portID, opts...)
}

// BindPort decodes the description of portID and prepares its ingestion on
// top of an existing Sidecar. Options other than the sink, table, and
// ingestion are ignored because the graph is already loaded.
func (s *Sidecar) BindPort(ctx context.Context, portID string, opts ...Option) (*PortSidecar, error) {
	o := newOptions(opts)
	if o.sink == nil {
		return nil, ErrNoSink
	}
	port, err := ResolvePort(ctx, s.catalog, portID)
	if err != nil {
		return nil, err
	}
	ingestion, err := o.ingestion(port, o.sink, o.table)
	if err != nil {
		return nil, err
	}
	component.Logger(ctx).Info("Port configured",
		"port", port.PortID,
		"format", port.Format,
		"path", port.Path,
		"interval", port.Interval(),
	)
	return &PortSidecar{
		Sidecar:   s,
		port:      port,
		ingestion: ingestion,
		scheduler: NewScheduler(port.Interval(), ingestion.Ingest),
	}, nil
}

// Port returns the decoded port description.
func (p *PortSidecar) Port() PortDescriptor { return p.port }

// Start begins ingesting the port; the first tick happens immediately. The
// values of ctx (such as its logger) reach every tick, its cancellation does
// not: use Stop.
func (p *PortSidecar) Start(ctx context.Context) error {
	logger := component.Logger(ctx).With("port", p.port.PortID)
	if err := p.scheduler.Start(component.InjectLogger(ctx, logger)); err != nil {
		return fmt.Errorf("start port %s: %w", p.port.PortID, err)
	}
	logger.Info("Port sidecar started")
	return nil
}

// Stop ends ingestion. It returns once no further tick can happen, which may
// mean waiting for the tick in progress.
func (p *PortSidecar) Stop() { p.scheduler.Stop() }

// Done returns a channel closed once the sidecar has stopped.
func (p *PortSidecar) Done() <-chan struct{} { return p.scheduler.Done() }

// Err returns the ingestion error that stopped the sidecar, if any.
func (p *PortSidecar) Err() error { return p.scheduler.Err() }

// Exec runs the sidecar as a component procedure: it starts ingesting, and
// stops when the component is stopped or terminated. A failed tick fails the
// component.
func (p *PortSidecar) Exec(l *component.L) {
	if err := p.Start(l.Context()); err != nil {
		l.Fatal(err)
	}
	select {
	case <-l.Stopping():
		p.Stop()
	case <-l.Context().Done():
		p.Stop()
	case <-p.Done():
	}
	if err := p.Err(); err != nil {
		l.Fatal(err)
	}
}
