package sidecar

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQueryCatalog(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t, modelTTL, dataTTL("/var/data/sales"))

	if c.Namespace() != dtp {
		t.Fatalf("Namespace() = %q, want %q", c.Namespace(), dtp)
	}

	t.Run("InstancesOf", func(t *testing.T) {
		// Local names and absolute IRIs name the same class; subclasses at any
		// depth count.
		for _, class := range []string{"Port", dtp + "Port"} {
			got, err := c.InstancesOf(ctx, class)
			if err != nil {
				t.Fatalf("InstancesOf(%q) error = %v", class, err)
			}
			want := []Term{NewIRI(apiPort), NewIRI(eventsPort), NewIRI(reportPort), NewIRI(salesPort)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("InstancesOf(%q) mismatch (-want +got):\n%s", class, diff)
			}
		}
	})

	t.Run("InstancesOfUnknownClass", func(t *testing.T) {
		got, err := c.InstancesOf(ctx, "Sensor")
		if err != nil {
			t.Fatalf("InstancesOf() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("InstancesOf() = %v, want none", got)
		}
	})

	t.Run("InputPorts", func(t *testing.T) {
		got, err := c.InputPorts(ctx)
		if err != nil {
			t.Fatalf("InputPorts() error = %v", err)
		}
		want := []Term{NewIRI(apiPort), NewIRI(eventsPort), NewIRI(salesPort)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("InputPorts() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("OutputPorts", func(t *testing.T) {
		got, err := c.OutputPorts(ctx)
		if err != nil {
			t.Fatalf("OutputPorts() error = %v", err)
		}
		if diff := cmp.Diff([]Term{NewIRI(reportPort)}, got); diff != "" {
			t.Errorf("OutputPorts() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("FileInputPorts", func(t *testing.T) {
		got, err := c.FileInputPorts(ctx)
		if err != nil {
			t.Fatalf("FileInputPorts() error = %v", err)
		}
		want := []Term{NewIRI(eventsPort), NewIRI(salesPort)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("FileInputPorts() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ProductPorts", func(t *testing.T) {
		got, err := c.ProductPorts(ctx)
		if err != nil {
			t.Fatalf("ProductPorts() error = %v", err)
		}
		want := []ProductPort{
			{Product: NewIRI(product), Port: NewIRI(apiPort)},
			{Product: NewIRI(product), Port: NewIRI(eventsPort)},
			{Product: NewIRI(product), Port: NewIRI(salesPort)},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ProductPorts() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PropertiesOf", func(t *testing.T) {
		bag, err := c.PropertiesOf(ctx, eventsPort)
		if err != nil {
			t.Fatalf("PropertiesOf() error = %v", err)
		}
		want := PropertyBag{
			RDFType:                                NewIRI(dtp + "FileInputPort"),
			dtp + "hasFileFormat":                  NewIRI(dtp + "JSON"),
			dtp + "hasNamePattern":                 NewLiteral("*.json"),
			"http://www.w3.org/ns/dcat#endpointURL": NewIRI("file:///var/data/sales"),
			dtp + "hasDataModel":                   NewIRI("http://example.org/models/events"),
			dtp + "hasSchedule":                    NewIRI("http://example.org/sales/everyThirtySeconds"),
		}
		if diff := cmp.Diff(want, bag); diff != "" {
			t.Errorf("PropertiesOf() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PropertiesOfBlankNode", func(t *testing.T) {
		bag, err := c.PropertiesOf(ctx, salesPort)
		if err != nil {
			t.Fatalf("PropertiesOf() error = %v", err)
		}
		schedule, ok := bag.BySuffix(ScheduleSuffix)
		if !ok || schedule.Kind != Blank {
			t.Fatalf("BySuffix(%q) = %v, %v; want a blank node", ScheduleSuffix, schedule, ok)
		}
		// Blank node ids are passed back as they were returned.
		inner, err := c.PropertiesOf(ctx, schedule.String())
		if err != nil {
			t.Fatalf("PropertiesOf() error = %v", err)
		}
		if got, _ := inner.BySuffix("minutes"); got.Value != "5" {
			t.Errorf("Schedule magnitude = %q, want %q", got.Value, "5")
		}
	})

	t.Run("PropertiesOfUnknown", func(t *testing.T) {
		bag, err := c.PropertiesOf(ctx, "http://example.org/nothing")
		if err != nil {
			t.Fatalf("PropertiesOf() error = %v", err)
		}
		if len(bag) != 0 {
			t.Errorf("PropertiesOf() = %v, want an empty bag", bag)
		}
	})
}

func TestPropertyBag(t *testing.T) {
	bag := make(PropertyBag)
	// Duplicate predicates keep the greatest value whatever the order.
	bag.add("http://e/p", NewLiteral("b"))
	bag.add("http://e/p", NewLiteral("c"))
	bag.add("http://e/p", NewLiteral("a"))
	bag.add("http://e/zFormat", NewLiteral("z"))
	bag.add("http://e/aFormat", NewLiteral("a"))

	if got := bag["http://e/p"]; got != NewLiteral("c") {
		t.Errorf("bag[p] = %v, want c", got)
	}
	// BySuffix is deterministic across several matches.
	if got, ok := bag.BySuffix("Format"); !ok || got != NewLiteral("a") {
		t.Errorf("BySuffix(Format) = %v, %v; want a, true", got, ok)
	}
	if _, ok := bag.BySuffix("Missing"); ok {
		t.Error("BySuffix(Missing) found a value")
	}
}

func TestCompileTemplates_Shared(t *testing.T) {
	const ns = "http://shared.example/DataProduct#"
	var wg sync.WaitGroup
	got := make([]*templates, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tmpl, err := compileTemplates(ns)
			if err != nil {
				t.Errorf("compileTemplates() error = %v", err)
			}
			got[i] = tmpl
		}()
	}
	wg.Wait()
	for i := range got {
		if got[i] != got[0] {
			t.Fatal("compileTemplates() compiled the same namespace more than once")
		}
	}
}
