package neo4jengine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/danielorbach/go-component"
	"github.com/go-digitaltwin/go-sidecar"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Terms are stored as nodes labelled termLabel, uniquely keyed by
// sidecar.Term.Key. Triples are stored as relationships of type tripleType
// carrying the predicate IRI.
const (
	termLabel  = "Term"
	tripleType = "TRIPLE"
)

// termProps returns the properties of the node representing t.
func termProps(t sidecar.Term) map[string]any {
	return map[string]any{
		"key":      t.Key(),
		"kind":     t.Kind.String(),
		"value":    t.Value,
		"datatype": t.Datatype,
		"lang":     t.Lang,
	}
}

// parseTerm reverses termProps on a map projection of a node.
func parseTerm(m map[string]any) (sidecar.Term, error) {
	var t sidecar.Term
	kind, err := mapProperty[string](m, "kind")
	if err != nil {
		return t, fmt.Errorf("kind: %w", err)
	}
	switch kind {
	case sidecar.IRI.String():
		t.Kind = sidecar.IRI
	case sidecar.Blank.String():
		t.Kind = sidecar.Blank
	case sidecar.Literal.String():
		t.Kind = sidecar.Literal
	default:
		return t, fmt.Errorf("unknown term kind %q", kind)
	}
	if t.Value, err = mapProperty[string](m, "value"); err != nil {
		return t, fmt.Errorf("value: %w", err)
	}
	// Optional properties may be absent (null) on nodes written by other tools.
	if v, ok := m["datatype"].(string); ok {
		t.Datatype = v
	}
	if v, ok := m["lang"].(string); ok {
		t.Lang = v
	}
	return t, nil
}

// Call this function to parse a value returned by a compiled query with a
// possible panic due to developer errors.
//
// Developer errors happen when a developer had changed the Cypher compiler,
// but missed the code that parses its results.
func safelyParseRow(ctx context.Context, record *neo4j.Record, c compiled) (sidecar.Row, error) {
	row, err := parseRow(record, c)
	if errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}) {
		component.Logger(ctx).Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	}
	return row, err
}

func parseRow(record *neo4j.Record, c compiled) (sidecar.Row, error) {
	row := make(sidecar.Row, len(c.columns))
	for _, col := range c.columns {
		if col.predicate {
			p, err := getRecordProperty[string](record, col.alias)
			if err != nil {
				return nil, fmt.Errorf("?%s: %w", col.variable, err)
			}
			row[col.variable] = sidecar.NewIRI(p)
			continue
		}
		m, err := getRecordProperty[map[string]any](record, col.alias)
		if err != nil {
			return nil, fmt.Errorf("?%s: %w", col.variable, err)
		}
		t, err := parseTerm(m)
		if err != nil {
			return nil, fmt.Errorf("?%s: %w", col.variable, err)
		}
		row[col.variable] = t
	}
	for v, t := range c.constants {
		row[v] = t
	}
	return row, nil
}

// A errPropertyNotFound occurs when a column or property of a record is
// missing.
//
// When encountering this error, it most likely occurs when changing the Cypher
// compiler without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a value of a record has a runtime
// type that is different from the expected type. The error message contains the
// effective type of the value at runtime.
//
// When encountering this error, it most likely occurs when changing the Cypher
// compiler without modifying dependent code properly. Expect a panic
// eventually.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	if e.Type == nil {
		return "unexpected property type: nil"
	}
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface defines generic constraints for supported values
// by getRecordProperty.
//
// This is a subset of all types supported by the neo4j package because listing
// all of them would be troublesome. When a new type is necessary, developers can
// simply add it to the list here.
type recordProperty interface {
	int64 | string | map[string]any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}

func mapProperty[T recordProperty](m map[string]any, key string) (value T, err error) {
	prop, exists := m[key]
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
