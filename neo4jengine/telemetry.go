package neo4jengine

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-sidecar/neo4jengine")
var meter = otel.Meter("github.com/go-digitaltwin/go-sidecar/neo4jengine")

var (
	// importedTriples records the size of every description graph imported into
	// Neo4j. Sudden changes usually mean the model or data resources changed
	// upstream.
	importedTriples metric.Int64Histogram
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an error
	// during an instrument's initialisation, triggering a panic. This scenario
	// should not occur, if it does, it is likely related to the attributes applied
	// on the instrument.
	var err error
	importedTriples, err = meter.Int64Histogram(
		"neo4j.import.triples",
		metric.WithDescription("The number of triples of each description graph imported into Neo4j."),
	)
	if err != nil {
		s := fmt.Sprintf("neo4jengine: failed to init 'neo4j.import.triples' instrument: %v", err)
		panic(s)
	}
}
