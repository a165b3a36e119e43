package duckdbsink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-sidecar"
)

func openSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal("Failed to open in-memory duckdb:", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error("Failed to close duckdb:", err)
		}
	})
	return s
}

func record(title string) sidecar.DistributionRecord {
	return sidecar.DistributionRecord{
		Title:         title,
		IssuedAt:      time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		AccessService: "http://example.org/DataProduct#port1",
		AccessURL:     "file:///data/" + title,
		ConformsTo:    "http://example.org/models/sales",
	}
}

func TestSink_AppendRow(t *testing.T) {
	ctx := context.Background()
	s := openSink(t)

	want := []sidecar.DistributionRecord{record("a.csv"), record("b.csv")}
	for _, r := range want {
		if err := s.AppendRow(ctx, "distribution", r); err != nil {
			t.Fatalf("AppendRow() error = %v", err)
		}
	}
	got, err := s.Rows(ctx, "distribution")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Rows() mismatch (-want +got):\n%s", diff)
	}

	// Tables are independent of each other.
	other, err := s.Rows(ctx, "other")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Rows(other) = %v, want none", other)
	}
}

func TestSink_AppendRowConcurrently(t *testing.T) {
	ctx := context.Background()
	s := openSink(t)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AppendRow(ctx, "distribution", record("x.csv")); err != nil {
				t.Errorf("AppendRow() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Rows(ctx, "distribution")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(got) != n {
		t.Errorf("len(Rows()) = %d, want %d", len(got), n)
	}
}

func TestSink_InvalidTable(t *testing.T) {
	s := openSink(t)
	for _, table := range []string{"", "1abc", "a-b", "x; DROP TABLE y"} {
		err := s.AppendRow(context.Background(), table, record("a.csv"))
		if !errors.Is(err, ErrInvalidTable) {
			t.Errorf("AppendRow(%q) error = %v, want %v", table, err, ErrInvalidTable)
		}
	}
}

func TestSink_HandleRow(t *testing.T) {
	ctx := context.Background()
	s := openSink(t)

	row := sidecar.SinkRow{Table: "feed", Record: record("c.json")}
	if err := s.HandleRow(ctx, row); err != nil {
		t.Fatalf("HandleRow() error = %v", err)
	}
	got, err := s.Rows(ctx, "feed")
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if diff := cmp.Diff([]sidecar.DistributionRecord{row.Record}, got); diff != "" {
		t.Errorf("Rows() mismatch (-want +got):\n%s", diff)
	}
}
