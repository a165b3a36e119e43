/*
Package enginetest provides a suite of tests designed to assess query engines
of description graphs (e.g. in-memory, neo4j).

The tests operate on the specific engine via the [sidecar.Engine] interface to
check functional correctness and compliance with the behaviours defined by that
interface.

Call enginetest.Run in its own test to invoke the test-suite:

	func TestEngine(t *testing.T) {
		driver := dbtest.SetupNeo4j(t)
		// Pass a sidecar.EngineFactory that loads the fixture graph into a new
		// engine.
		enginetest.Run(t, Factory(driver, "neo4j"))
	}

The test cases in this suite focus on the queries a sidecar depends on:

  - Reflexive-transitive closure over a predicate.
  - Initial bindings of variables, including blank nodes.
  - DISTINCT projection and literals with datatypes or languages.

So, specific engines are encouraged to perform additional tests which are
specific to the underlying graph store.
*/
package enginetest

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-sidecar"
)

// Fixture is the description graph every test-case queries, in Turtle.
//
// The class hierarchy is three levels deep under ex:Port, with an unrelated
// ex:Sensor beside it. Two classes share the parent ex:InputPort. Each port carries a blank-node schedule.
const Fixture = `
@prefix ex:   <http://example.org/DataProduct#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix xsd:  <http://www.w3.org/2001/XMLSchema#> .

ex:InputPort     rdfs:subClassOf ex:Port .
ex:FileInputPort rdfs:subClassOf ex:InputPort .
ex:CSVInputPort  rdfs:subClassOf ex:FileInputPort .
ex:JSONInputPort rdfs:subClassOf ex:InputPort .
ex:OutputPort    rdfs:subClassOf ex:Port .

ex:p1 a ex:InputPort ;
	ex:label "first"@en ;
	ex:hasSchedule [ ex:seconds "30"^^xsd:decimal ] .
ex:p2 a ex:CSVInputPort ;
	ex:label "second" ;
	ex:hasSchedule [ ex:minutes "5"^^xsd:decimal ] .
ex:p3 a ex:OutputPort .
ex:s1 a ex:Sensor .
`

const ns = "http://example.org/DataProduct#"

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	query    string
	// Optional initial bindings, which may depend on the fixture graph.
	bind func(t *testing.T, g *sidecar.Graph) sidecar.Bindings
	// Each check inspects the rows returned for the query.
	checks []check
}

// A check is any function that returns unexpected problems with the given rows.
type check func(rows []sidecar.Row) (problem string)

var cases = []testCase{
	{
		name:     "closure-three-levels",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT DISTINCT ?class WHERE { ?class rdfs:subClassOf* ex:Port . }`,
		checks: []check{
			column("class", iri("Port"), iri("InputPort"), iri("FileInputPort"), iri("CSVInputPort"), iri("JSONInputPort"), iri("OutputPort")),
		},
	},
	{
		name:     "instances-of-subclasses",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT DISTINCT ?port WHERE {
				?class rdfs:subClassOf* ex:InputPort .
				?port a ?class .
			}`,
		checks: []check{
			column("port", iri("p1"), iri("p2")),
		},
	},
	{
		name:     "unrelated-class-excluded",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT DISTINCT ?thing WHERE {
				?class rdfs:subClassOf* ex:Port .
				?thing a ?class .
			}`,
		checks: []check{
			column("thing", iri("p1"), iri("p2"), iri("p3")),
		},
	},
	{
		name:     "closure-forward",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT ?super WHERE { ex:CSVInputPort rdfs:subClassOf* ?super . }`,
		checks: []check{
			column("super", iri("CSVInputPort"), iri("FileInputPort"), iri("InputPort"), iri("Port")),
		},
	},
	{
		name:     "bound-subject",
		location: locateSource(),
		query:    `SELECT DISTINCT ?p ?o WHERE { ?s ?p ?o . }`,
		bind:     bindIRI("s", "p1"),
		checks: []check{
			rowCount(3),
			column("p", sidecar.NewIRI(sidecar.RDFType), iri("label"), iri("hasSchedule")),
			contains("o", sidecar.Term{Kind: sidecar.Literal, Value: "first", Lang: "en"}),
		},
	},
	{
		name:     "bound-blank-node",
		location: locateSource(),
		query:    `SELECT DISTINCT ?p ?o WHERE { ?s ?p ?o . }`,
		bind:     bindSchedule("s", "p2"),
		checks: []check{
			column("p", iri("minutes")),
			column("o", sidecar.Term{Kind: sidecar.Literal, Value: "5", Datatype: "http://www.w3.org/2001/XMLSchema#decimal"}),
		},
	},
	{
		name:     "selected-bound-variable",
		location: locateSource(),
		query:    `SELECT ?s ?o WHERE { ?s <` + ns + `label> ?o . }`,
		bind:     bindIRI("s", "p2"),
		checks: []check{
			rowCount(1),
			column("s", iri("p2")),
			column("o", sidecar.NewLiteral("second")),
		},
	},
	{
		name:     "distinct-collapses-duplicates",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT DISTINCT ?root WHERE { ?class rdfs:subClassOf ?root . ?root rdfs:subClassOf ex:Port . }`,
		checks: []check{
			rowCount(1),
			column("root", iri("InputPort")),
		},
	},
	{
		name:     "no-solutions",
		location: locateSource(),
		query: `PREFIX ex: <` + ns + `>
			SELECT ?port WHERE { ?port a ex:Sensor . ?port a ex:InputPort . }`,
		checks: []check{
			rowCount(0),
		},
	},
}

// Run executes the test-suite against the engine that load builds from the
// fixture graph.
func Run(t *testing.T, load sidecar.EngineFactory) {
	ctx := context.Background()
	g, err := sidecar.ParseGraph(strings.NewReader(Fixture), sidecar.Turtle, "")
	if err != nil {
		t.Fatalf("Parse fixture: %v", err)
	}
	engine, err := load(ctx, g)
	if err != nil {
		t.Fatalf("Load fixture: %v", err)
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Logf("Test-case defined at %v", c.location)
			q, err := sidecar.ParseQuery(c.query)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			var b sidecar.Bindings
			if c.bind != nil {
				b = c.bind(t, g)
			}
			rows, err := engine.Query(ctx, q, b)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			for _, check := range c.checks {
				if problem := check(rows); problem != "" {
					t.Errorf("Check rows of %v: %v", c.name, problem)
				}
			}
		})
	}
}

func bindIRI(v, name string) func(*testing.T, *sidecar.Graph) sidecar.Bindings {
	return func(*testing.T, *sidecar.Graph) sidecar.Bindings {
		return sidecar.Bindings{v: iri(name)}
	}
}

// Blank node labels are chosen by the parser, so the schedule of a port is
// looked up in the fixture graph.
func bindSchedule(v, port string) func(*testing.T, *sidecar.Graph) sidecar.Bindings {
	return func(t *testing.T, g *sidecar.Graph) sidecar.Bindings {
		t.Helper()
		for _, tr := range g.Triples() {
			if tr.S == iri(port) && tr.P == iri("hasSchedule") {
				return sidecar.Bindings{v: tr.O}
			}
		}
		t.Fatalf("Fixture lacks the schedule of ex:%v", port)
		return nil
	}
}

func iri(name string) sidecar.Term { return sidecar.NewIRI(ns + name) }

// Checks that the values of a variable across all rows are exactly as expected,
// ignoring order and repetitions.
func column(v string, want ...sidecar.Term) check {
	return func(rows []sidecar.Row) string {
		got := values(rows, v)
		want := dedupe(want)
		if diff := cmp.Diff(want, got); diff != "" {
			return fmt.Sprintf("?%v mismatch (-want +got):\n%v", v, diff)
		}
		return ""
	}
}

// Checks that some row binds the variable to the term.
func contains(v string, want sidecar.Term) check {
	return func(rows []sidecar.Row) string {
		if !slices.Contains(values(rows, v), want) {
			return fmt.Sprintf("?%v never bound to %v", v, want.Key())
		}
		return ""
	}
}

// Checks the number of rows, which also verifies DISTINCT projections.
func rowCount(n int) check {
	return func(rows []sidecar.Row) string {
		if len(rows) != n {
			return fmt.Sprintf("len(rows) = %v, want %v", len(rows), n)
		}
		return ""
	}
}

func values(rows []sidecar.Row, v string) []sidecar.Term {
	var out []sidecar.Term
	for _, r := range rows {
		if t, ok := r[v]; ok {
			out = append(out, t)
		}
	}
	return dedupe(out)
}

func dedupe(terms []sidecar.Term) []sidecar.Term {
	out := slices.Clone(terms)
	slices.SortFunc(out, func(a, b sidecar.Term) int { return strings.Compare(a.Key(), b.Key()) })
	return slices.CompactFunc(out, func(a, b sidecar.Term) bool { return a.Key() == b.Key() })
}

// Call this function to set the location of every test-case in the source file.
// The returned string is used to guide developers of query engines to the
// appropriate test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
