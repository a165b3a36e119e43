package sidecar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	model, data := writeDescription(t, modelTTL, dataTTL("/var/data/sales"))
	s, err := New(context.Background(), model, data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Namespace() != dtp {
		t.Errorf("Namespace() = %q, want %q", s.Namespace(), dtp)
	}
	ports, err := s.Catalog().FileInputPorts(context.Background())
	if err != nil {
		t.Fatalf("FileInputPorts() error = %v", err)
	}
	if diff := cmp.Diff([]Term{NewIRI(eventsPort), NewIRI(salesPort)}, ports); diff != "" {
		t.Errorf("FileInputPorts() mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_RDFXMLModel(t *testing.T) {
	// The namespace is only declared by the RDF/XML model; N-Triples data
	// declares none.
	dir := t.TempDir()
	model := filepath.Join(dir, "model.rdf")
	data := filepath.Join(dir, "data.nt")
	const nt = `<http://example.org/sales/port> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/DataProduct#FileInputPort> .
`
	if err := os.WriteFile(model, []byte(modelRDF), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(data, []byte(nt), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(context.Background(), model, data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Namespace() != dtp {
		t.Errorf("Namespace() = %q, want %q", s.Namespace(), dtp)
	}
	ports, err := s.Catalog().FileInputPorts(context.Background())
	if err != nil {
		t.Fatalf("FileInputPorts() error = %v", err)
	}
	if diff := cmp.Diff([]Term{NewIRI("http://example.org/sales/port")}, ports); diff != "" {
		t.Errorf("FileInputPorts() mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("Unloadable", func(t *testing.T) {
		model, _ := writeDescription(t, modelTTL, "")
		_, err := New(context.Background(), model, model+".missing")
		var lerr *LoadError
		if !errors.As(err, &lerr) {
			t.Errorf("New() error = %v, want *LoadError", err)
		}
	})

	t.Run("NoNamespace", func(t *testing.T) {
		model, data := writeDescription(t,
			`@prefix ex: <http://example.org/> . ex:a ex:b ex:c .`,
			`@prefix ex: <http://example.org/> . ex:c ex:b ex:a .`,
		)
		_, err := New(context.Background(), model, data)
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) {
			t.Errorf("New() error = %v, want *ConfigurationError", err)
		}
	})

	t.Run("CustomEngine", func(t *testing.T) {
		model, data := writeDescription(t, modelTTL, dataTTL("/var/data/sales"))
		var built atomic.Int64
		engine := func(ctx context.Context, g *Graph) (Engine, error) {
			built.Add(1)
			return InMemory(ctx, g)
		}
		if _, err := New(context.Background(), model, data, WithEngine(engine)); err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if built.Load() != 1 {
			t.Errorf("Engine built %d times, want once", built.Load())
		}
	})
}

func TestNewPortSidecar(t *testing.T) {
	dir := t.TempDir()
	model, data := writeDescription(t, modelTTL, dataTTL(dir))
	ctx := context.Background()

	t.Run("NoSink", func(t *testing.T) {
		_, err := NewPortSidecar(ctx, model, data, salesPort)
		if !errors.Is(err, ErrNoSink) {
			t.Errorf("NewPortSidecar() error = %v, want %v", err, ErrNoSink)
		}
	})

	t.Run("UnconfiguredPort", func(t *testing.T) {
		_, err := NewPortSidecar(ctx, model, data, apiPort, WithSink(new(memorySink)))
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Port != apiPort {
			t.Errorf("NewPortSidecar() error = %v, want a *ConfigurationError of %s", err, apiPort)
		}
	})

	t.Run("Port", func(t *testing.T) {
		p, err := NewPortSidecar(ctx, model, data, eventsPort, WithSink(new(memorySink)))
		if err != nil {
			t.Fatalf("NewPortSidecar() error = %v", err)
		}
		if got := p.Port(); got.Format != FormatJSON || got.Interval() != 30*time.Second || got.Path != dir {
			t.Errorf("Port() = %+v, want a JSON port of %s every 30s", got, dir)
		}
	})
}

func TestPortSidecar_StartStop(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "sales_jan.csv", "sales_feb.csv", "events.json")
	model, data := writeDescription(t, modelTTL, dataTTL(dir))
	sink := new(memorySink)

	p, err := NewPortSidecar(context.Background(), model, data, salesPort, WithSink(sink), WithTable("sales"))
	if err != nil {
		t.Fatalf("NewPortSidecar() error = %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// The first tick happens immediately; the next one is minutes away.
	deadline := time.Now().Add(5 * time.Second)
	for len(sink.rows("sales")) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if err := p.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
	var titles []string
	for _, r := range sink.rows("sales") {
		titles = append(titles, r.Title)
		if r.AccessService != salesPort || r.ConformsTo != "http://example.org/models/sales" {
			t.Errorf("Record %+v does not describe %s", r, salesPort)
		}
	}
	if diff := cmp.Diff([]string{"sales_feb.csv", "sales_jan.csv"}, titles); diff != "" {
		t.Errorf("Recorded files mismatch (-want +got):\n%s", diff)
	}
	if got := sink.rows(DefaultTable); len(got) != 0 {
		t.Errorf("Records appended to %q despite WithTable: %v", DefaultTable, got)
	}

	if err := p.Start(context.Background()); !errors.Is(err, ErrSchedulerState) {
		t.Errorf("Start() after Stop error = %v, want %v", err, ErrSchedulerState)
	}
}

// tickCounter is an Ingestion that counts its ticks.
type tickCounter struct{ ticks atomic.Int64 }

func (c *tickCounter) Ingest(context.Context) error {
	c.ticks.Add(1)
	return nil
}

func TestPortSidecar_WithIngestion(t *testing.T) {
	model, data := writeDescription(t, modelTTL, dataTTL(t.TempDir()))
	counter := new(tickCounter)
	var gotTable string
	factory := func(port PortDescriptor, sink Sink, table string) (Ingestion, error) {
		gotTable = table
		return counter, nil
	}

	p, err := NewPortSidecar(context.Background(), model, data, eventsPort,
		WithSink(new(memorySink)),
		WithIngestion(factory),
	)
	if err != nil {
		t.Fatalf("NewPortSidecar() error = %v", err)
	}
	if gotTable != DefaultTable {
		t.Errorf("Ingestion built for table %q, want %q", gotTable, DefaultTable)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for counter.ticks.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	if counter.ticks.Load() != 1 {
		t.Errorf("Ingestion ticked %d times, want once before the 30s interval", counter.ticks.Load())
	}
}

func TestSidecar_BindPort(t *testing.T) {
	model, data := writeDescription(t, modelTTL, dataTTL("/var/data/sales"))
	s, err := New(context.Background(), model, data)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Ports of the same product share the loaded graph.
	sink := new(memorySink)
	for _, port := range []string{salesPort, eventsPort} {
		p, err := s.BindPort(context.Background(), port, WithSink(sink))
		if err != nil {
			t.Fatalf("BindPort(%s) error = %v", port, err)
		}
		if p.Sidecar != s {
			t.Errorf("BindPort(%s) did not reuse the sidecar", port)
		}
	}
	if _, err := s.BindPort(context.Background(), salesPort); !errors.Is(err, ErrNoSink) {
		t.Errorf("BindPort() error = %v, want %v", err, ErrNoSink)
	}
}
