package sidecar

import (
	"fmt"
	"net/url"
	"strings"
)

// TermKind tells apart the three kinds of RDF terms.
type TermKind int

const (
	IRI TermKind = iota + 1
	Blank
	Literal
)

func (k TermKind) String() string {
	switch k {
	case IRI:
		return "iri"
	case Blank:
		return "blank"
	case Literal:
		return "literal"
	default:
		return fmt.Sprintf("TermKind(%d)", int(k))
	}
}

// A Term is a single node (or predicate) of the description graph.
//
// Terms are comparable, so they can key maps directly. The zero Term is not a
// valid node and never appears in a Graph.
type Term struct {
	Kind TermKind
	// Value holds the IRI, the blank node label (without the "_:" prefix), or the
	// lexical form of a literal.
	Value string
	// Datatype and Lang are set only for literals.
	Datatype string
	Lang     string
}

// NewIRI returns an IRI term.
func NewIRI(iri string) Term { return Term{Kind: IRI, Value: iri} }

// NewBlank returns a blank node term with the given label.
func NewBlank(label string) Term { return Term{Kind: Blank, Value: strings.TrimPrefix(label, "_:")} }

// NewLiteral returns a plain literal term.
func NewLiteral(lexical string) Term { return Term{Kind: Literal, Value: lexical} }

// NodeID interprets an instance identifier as either an IRI or a blank node.
//
// Identifiers without a URI scheme are local to the graph (blank nodes) and not
// globally dereferenceable, so they must be looked up as such.
func NodeID(id string) Term {
	if hasScheme(id) {
		return NewIRI(id)
	}
	return NewBlank(id)
}

func hasScheme(id string) bool {
	if strings.HasPrefix(id, "_:") {
		return false
	}
	u, err := url.Parse(id)
	return err == nil && u.Scheme != ""
}

// Key returns a string that uniquely identifies the term, in N-Triples-like
// notation. Engines use it as the identity of stored nodes.
func (t Term) Key() string {
	switch t.Kind {
	case IRI:
		return "<" + t.Value + ">"
	case Blank:
		return "_:" + t.Value
	case Literal:
		s := fmt.Sprintf("%q", t.Value)
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return ""
	}
}

// String returns the identifier (or lexical form) of the term. Unlike Key, the
// result is what callers of PropertiesOf pass back in as an instance id.
func (t Term) String() string { return t.Value }

// IsZero reports whether t is the zero Term.
func (t Term) IsZero() bool { return t.Kind == 0 }

// A Triple is a single subject/predicate/object statement.
type Triple struct {
	S, P, O Term
}

func (t Triple) String() string {
	return t.S.Key() + " " + t.P.Key() + " " + t.O.Key() + " ."
}

// Well-known vocabulary.
const (
	rdfNS  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	rdfsNS = "http://www.w3.org/2000/01/rdf-schema#"

	RDFType        = rdfNS + "type"
	RDFSSubClassOf = rdfsNS + "subClassOf"
)
