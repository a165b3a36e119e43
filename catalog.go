package sidecar

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Query templates of the catalog. Each is rendered once per namespace with
// text/template and then parsed by ParseQuery.
const (
	instancesOfTemplate = `
		SELECT DISTINCT ?instance WHERE {
			?class rdfs:subClassOf* ?root .
			?instance rdf:type ?class .
		}`

	propertiesOfTemplate = `
		SELECT DISTINCT ?property ?value WHERE {
			?instance ?property ?value .
		}`

	fileInputPortsTemplate = `
		PREFIX dtp: <{{.Namespace}}>
		SELECT DISTINCT ?port WHERE {
			?port rdf:type dtp:FileInputPort .
		}`

	productPortsTemplate = `
		PREFIX dtp: <{{.Namespace}}>
		SELECT DISTINCT ?product ?port WHERE {
			?product dtp:hasInputPort ?port .
		}`
)

// Compiled templates do not depend on the graph, only on its namespace, so
// they are shared read-only by every catalog bound to the same namespace.
type templates struct {
	instancesOf    *Query
	propertiesOf   *Query
	fileInputPorts *Query
	productPorts   *Query
}

var (
	templateCache sync.Map // namespace -> *templates
	templateGroup singleflight.Group
)

// compileTemplates returns the templates bound to ns, compiling them on first
// use. Concurrent first uses of the same namespace compile only once.
func compileTemplates(ns string) (*templates, error) {
	if t, ok := templateCache.Load(ns); ok {
		return t.(*templates), nil
	}
	v, err, _ := templateGroup.Do(ns, func() (any, error) {
		if t, ok := templateCache.Load(ns); ok {
			return t, nil
		}
		t, err := buildTemplates(ns)
		if err != nil {
			return nil, err
		}
		templateCache.Store(ns, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*templates), nil
}

func buildTemplates(ns string) (*templates, error) {
	var t templates
	for _, x := range []struct {
		dst **Query
		src string
	}{
		{&t.instancesOf, instancesOfTemplate},
		{&t.propertiesOf, propertiesOfTemplate},
		{&t.fileInputPorts, fileInputPortsTemplate},
		{&t.productPorts, productPortsTemplate},
	} {
		q, err := renderQuery(x.src, ns)
		if err != nil {
			return nil, err
		}
		*x.dst = q
	}
	return &t, nil
}

func renderQuery(src, ns string) (*Query, error) {
	tmpl, err := template.New("query").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, &QueryError{Query: src, Reason: err.Error()}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, struct{ Namespace string }{ns}); err != nil {
		return nil, &QueryError{Query: src, Reason: err.Error()}
	}
	return ParseQuery(b.String())
}

// A PropertyBag maps predicate IRIs to the value a subject has for them.
//
// Bags are single-valued: when a subject has several values for the same
// predicate, the bag keeps the one with the greatest Term.Key, so the choice
// does not depend on the order in which an engine returns rows.
type PropertyBag map[string]Term

func (b PropertyBag) add(predicate string, value Term) {
	if old, ok := b[predicate]; ok && old.Key() >= value.Key() {
		return
	}
	b[predicate] = value
}

// predicates returns the keys of the bag in ascending order.
func (b PropertyBag) predicates() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// BySuffix returns the value of the first predicate (in ascending order) that
// ends with suffix.
func (b PropertyBag) BySuffix(suffix string) (Term, bool) {
	for _, p := range b.predicates() {
		if strings.HasSuffix(p, suffix) {
			return b[p], true
		}
	}
	return Term{}, false
}

// A ProductPort pairs a data product with one of its input ports.
type ProductPort struct {
	Product Term
	Port    Term
}

// A QueryCatalog answers the questions a sidecar asks about its description
// graph using query templates bound to the graph's namespace.
type QueryCatalog struct {
	store *GraphStore
	t     *templates
}

// NewQueryCatalog binds the catalog templates to the namespace of store.
func NewQueryCatalog(store *GraphStore) (*QueryCatalog, error) {
	t, err := compileTemplates(store.Namespace())
	if err != nil {
		return nil, err
	}
	return &QueryCatalog{store: store, t: t}, nil
}

// Namespace returns the namespace the catalog is bound to.
func (c *QueryCatalog) Namespace() string { return c.store.Namespace() }

// resolve expands a local name against the namespace; absolute IRIs are
// returned unchanged.
func (c *QueryCatalog) resolve(name string) Term {
	if hasScheme(name) {
		return NewIRI(name)
	}
	return NewIRI(c.store.Namespace() + name)
}

func (c *QueryCatalog) run(ctx context.Context, name string, q *Query, b Bindings) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "QueryCatalog."+name, trace.WithAttributes(
		attribute.String("sidecar.namespace", c.store.Namespace()),
	))
	defer span.End()
	rows, err := c.store.Query(ctx, q, b)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int("query.rows", len(rows)))
	return rows, nil
}

// InstancesOf returns every instance whose type is class or any of its
// subclasses at any depth. The class is a local name in the namespace or an
// absolute IRI. Results are sorted by Term.Key.
func (c *QueryCatalog) InstancesOf(ctx context.Context, class string) ([]Term, error) {
	rows, err := c.run(ctx, "InstancesOf", c.t.instancesOf, Bindings{"root": c.resolve(class)})
	if err != nil {
		return nil, err
	}
	return column(rows, "instance"), nil
}

// PropertiesOf returns the property bag of an instance. Instance ids without a
// URI scheme denote blank nodes.
func (c *QueryCatalog) PropertiesOf(ctx context.Context, instance string) (PropertyBag, error) {
	rows, err := c.run(ctx, "PropertiesOf", c.t.propertiesOf, Bindings{"instance": NodeID(instance)})
	if err != nil {
		return nil, err
	}
	bag := make(PropertyBag, len(rows))
	for _, r := range rows {
		bag.add(r["property"].Value, r["value"])
	}
	return bag, nil
}

// InputPorts returns the instances of InputPort and its subclasses.
func (c *QueryCatalog) InputPorts(ctx context.Context) ([]Term, error) {
	return c.InstancesOf(ctx, "InputPort")
}

// OutputPorts returns the instances of OutputPort and its subclasses.
func (c *QueryCatalog) OutputPorts(ctx context.Context) ([]Term, error) {
	return c.InstancesOf(ctx, "OutputPort")
}

// FileInputPorts returns the direct instances of FileInputPort.
func (c *QueryCatalog) FileInputPorts(ctx context.Context) ([]Term, error) {
	rows, err := c.run(ctx, "FileInputPorts", c.t.fileInputPorts, nil)
	if err != nil {
		return nil, err
	}
	return column(rows, "port"), nil
}

// ProductPorts returns the input ports declared by each data product.
func (c *QueryCatalog) ProductPorts(ctx context.Context) ([]ProductPort, error) {
	rows, err := c.run(ctx, "ProductPorts", c.t.productPorts, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ProductPort, 0, len(rows))
	for _, r := range rows {
		out = append(out, ProductPort{Product: r["product"], Port: r["port"]})
	}
	slices.SortFunc(out, func(a, b ProductPort) int {
		if n := strings.Compare(a.Product.Key(), b.Product.Key()); n != 0 {
			return n
		}
		return strings.Compare(a.Port.Key(), b.Port.Key())
	})
	return out, nil
}

func column(rows []Row, v string) []Term {
	out := make([]Term, 0, len(rows))
	for _, r := range rows {
		if t, ok := r[v]; ok && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Term) int { return strings.Compare(a.Key(), b.Key()) })
	return out
}
