package sidecar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const dtp = "http://example.org/DataProduct#"

// modelTTL is a minimal semantic model of data products and their ports.
const modelTTL = `
@prefix dtp:  <http://example.org/DataProduct#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix owl:  <http://www.w3.org/2002/07/owl#> .

dtp:DataProduct a owl:Class .
dtp:Port a owl:Class .
dtp:InputPort rdfs:subClassOf dtp:Port .
dtp:OutputPort rdfs:subClassOf dtp:Port .
dtp:FileInputPort rdfs:subClassOf dtp:InputPort .
dtp:hasInputPort a owl:ObjectProperty .
dtp:CSV a dtp:FileFormat .
dtp:JSON a dtp:FileFormat .
dtp:Seconds a dtp:TimeUnit .
dtp:Minutes a dtp:TimeUnit .
`

// dataTTL describes a data product whose file input ports read from endpoint.
//
//   - salesPort is complete, ingested every 5 minutes.
//   - eventsPort is complete, ingested every 30 seconds.
//   - apiPort is an input port without any configuration.
//   - reportPort is an output port.
func dataTTL(endpoint string) string {
	return fmt.Sprintf(`
@prefix dtp:  <http://example.org/DataProduct#> .
@prefix dcat: <http://www.w3.org/ns/dcat#> .
@prefix xsd:  <http://www.w3.org/2001/XMLSchema#> .
@prefix ex:   <http://example.org/sales/> .

ex:product a dtp:DataProduct ;
	dtp:hasInputPort ex:salesPort , ex:eventsPort , ex:apiPort ;
	dtp:hasOutputPort ex:reportPort .

ex:salesPort a dtp:FileInputPort ;
	dtp:hasFileFormat dtp:CSV ;
	dtp:hasNamePattern "^sales_.*[.]csv$" ;
	dcat:endpointURL <file://%[1]s> ;
	dtp:hasDataModel <http://example.org/models/sales> ;
	dtp:hasSchedule [
		dtp:hasTimeUnit dtp:Minutes ;
		dtp:minutes "5"^^xsd:decimal
	] .

ex:eventsPort a dtp:FileInputPort ;
	dtp:hasFileFormat dtp:JSON ;
	dtp:hasNamePattern "*.json" ;
	dcat:endpointURL <file://%[1]s> ;
	dtp:hasDataModel <http://example.org/models/events> ;
	dtp:hasSchedule ex:everyThirtySeconds .

ex:everyThirtySeconds dtp:hasTimeUnit dtp:Seconds ;
	dtp:seconds "30"^^xsd:decimal .

ex:apiPort a dtp:InputPort .
ex:reportPort a dtp:OutputPort .
`, endpoint)
}

const (
	salesPort  = "http://example.org/sales/salesPort"
	eventsPort = "http://example.org/sales/eventsPort"
	apiPort    = "http://example.org/sales/apiPort"
	reportPort = "http://example.org/sales/reportPort"
	product    = "http://example.org/sales/product"
)

// parseTurtle parses every document with its own blank-node scope and merges
// them, the way Load does.
func parseTurtle(t *testing.T, docs ...string) *Graph {
	t.Helper()
	var graphs []*Graph
	for i, doc := range docs {
		g, err := ParseGraph(strings.NewReader(doc), Turtle, fmt.Sprintf("g%d", i))
		if err != nil {
			t.Fatalf("ParseGraph(doc %d) error = %v", i, err)
		}
		graphs = append(graphs, g)
	}
	return Merge(graphs...)
}

func newTestCatalog(t *testing.T, docs ...string) *QueryCatalog {
	t.Helper()
	store, err := NewGraphStore(context.Background(), parseTurtle(t, docs...), nil)
	if err != nil {
		t.Fatalf("NewGraphStore() error = %v", err)
	}
	c, err := NewQueryCatalog(store)
	if err != nil {
		t.Fatalf("NewQueryCatalog() error = %v", err)
	}
	return c
}

// writeDescription writes the model and data documents into a temporary
// directory and returns their paths.
func writeDescription(t *testing.T, model, data string) (modelPath, dataPath string) {
	t.Helper()
	dir := t.TempDir()
	modelPath = filepath.Join(dir, "model.ttl")
	dataPath = filepath.Join(dir, "data.ttl")
	if err := os.WriteFile(modelPath, []byte(model), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dataPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return modelPath, dataPath
}

// touch creates empty files in dir.
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
