package sidecar

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// An Engine answers pattern-matching queries over a description graph.
//
// Implementations must support reflexive-transitive closure over a predicate
// (see Pattern.Closure) and return DISTINCT rows in no particular order. The
// in-memory *Graph is an Engine; the neo4jengine package provides another.
type Engine interface {
	Query(ctx context.Context, q *Query, b Bindings) ([]Row, error)
}

// Bindings assign initial values to query variables (without the '?').
type Bindings map[string]Term

// A Row maps the selected variables of a query to the terms of one solution.
type Row map[string]Term

// A Query is a parsed basic graph pattern with a projection.
//
// Queries are produced by ParseQuery and never modified afterwards, so a single
// Query may be evaluated concurrently by many callers.
type Query struct {
	Vars     []string // Selected variables, in order. Never empty.
	Distinct bool
	Patterns []Pattern
	source   string
}

func (q *Query) String() string { return q.source }

// A Pattern matches triples. Closure patterns match any path of zero or more P
// edges from S to O (the reflexive-transitive closure of P).
type Pattern struct {
	S, P, O Slot
	Closure bool
}

// A Slot is either a variable or a constant term.
type Slot struct {
	Var  string
	Term Term
}

// IsVar reports whether the slot holds a variable.
func (s Slot) IsVar() bool { return s.Var != "" }

// Resolve returns the constant held by the slot, or the binding of its variable.
func (s Slot) Resolve(b map[string]Term) (Term, bool) {
	if !s.IsVar() {
		return s.Term, true
	}
	t, ok := b[s.Var]
	return t, ok
}

// Prefixes available in every query without a PREFIX declaration.
var defaultPrefixes = map[string]string{
	"rdf":  rdfNS,
	"rdfs": rdfsNS,
	"owl":  "http://www.w3.org/2002/07/owl#",
	"xsd":  "http://www.w3.org/2001/XMLSchema#",
	"dcat": "http://www.w3.org/ns/dcat#",
	"dct":  "http://purl.org/dc/terms/",
}

// ParseQuery parses a query in a small SPARQL subset:
//
//	PREFIX dtp: <http://example.org/DataProduct#>
//	SELECT DISTINCT ?port WHERE {
//		?class rdfs:subClassOf* dtp:InputPort .
//		?port a ?class .
//	}
//
// Only triple patterns are supported; a '*' after a constant predicate asks
// for its reflexive-transitive closure. Malformed queries yield a *QueryError.
func ParseQuery(src string) (*Query, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, &QueryError{Query: src, Reason: err.Error()}
	}
	p := parser{toks: toks, prefixes: make(map[string]string)}
	for k, v := range defaultPrefixes {
		p.prefixes[k] = v
	}
	q, err := p.parse()
	if err != nil {
		return nil, &QueryError{Query: src, Reason: err.Error()}
	}
	q.source = src
	return q, nil
}

// MustParseQuery is like ParseQuery but panics on malformed queries. It is meant
// for queries embedded in the program text.
func MustParseQuery(src string) *Query {
	q, err := ParseQuery(src)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	toks     []string
	pos      int
	prefixes map[string]string
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *parser) expect(want string) error {
	if got := p.next(); !strings.EqualFold(got, want) {
		return fmt.Errorf("expected %q, found %q", want, got)
	}
	return nil
}

func (p *parser) parse() (*Query, error) {
	for strings.EqualFold(p.peek(), "PREFIX") {
		p.next()
		name := p.next()
		if !strings.HasSuffix(name, ":") {
			return nil, fmt.Errorf("malformed prefix name %q", name)
		}
		iri := p.next()
		if !isIRIRef(iri) {
			return nil, fmt.Errorf("prefix %s: expected <iri>, found %q", name, iri)
		}
		p.prefixes[strings.TrimSuffix(name, ":")] = iri[1 : len(iri)-1]
	}

	if err := p.expect("SELECT"); err != nil {
		return nil, err
	}
	q := &Query{}
	if strings.EqualFold(p.peek(), "DISTINCT") {
		p.next()
		q.Distinct = true
	}
	var star bool
	for {
		t := p.peek()
		if t == "*" && !star && len(q.Vars) == 0 {
			p.next()
			star = true
			continue
		}
		if !strings.HasPrefix(t, "?") {
			break
		}
		p.next()
		if len(t) == 1 {
			return nil, fmt.Errorf("empty variable name")
		}
		q.Vars = append(q.Vars, t[1:])
	}
	if !star && len(q.Vars) == 0 {
		return nil, fmt.Errorf("no variables selected")
	}

	if err := p.expect("WHERE"); err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	for p.peek() != "}" {
		if p.peek() == "" {
			return nil, fmt.Errorf("unterminated WHERE clause")
		}
		pat, err := p.pattern()
		if err != nil {
			return nil, err
		}
		q.Patterns = append(q.Patterns, pat)
	}
	p.next() // '}'
	if t := p.peek(); t != "" {
		return nil, fmt.Errorf("unexpected %q after WHERE clause", t)
	}
	if len(q.Patterns) == 0 {
		return nil, fmt.Errorf("empty WHERE clause")
	}

	// Selected variables must occur in the body, otherwise they could never be
	// bound by a solution.
	inBody := make(map[string]bool)
	var ordered []string
	for _, pat := range q.Patterns {
		for _, s := range []Slot{pat.S, pat.P, pat.O} {
			if s.IsVar() && !inBody[s.Var] {
				inBody[s.Var] = true
				ordered = append(ordered, s.Var)
			}
		}
	}
	if star {
		q.Vars = ordered
	}
	for _, v := range q.Vars {
		if !inBody[v] {
			return nil, fmt.Errorf("selected variable ?%s does not occur in WHERE clause", v)
		}
	}
	return q, nil
}

func (p *parser) pattern() (Pattern, error) {
	var pat Pattern
	var err error
	if pat.S, err = p.slot(false); err != nil {
		return pat, fmt.Errorf("subject: %w", err)
	}
	if pat.P, err = p.slot(true); err != nil {
		return pat, fmt.Errorf("predicate: %w", err)
	}
	if p.peek() == "*" {
		p.next()
		if pat.P.IsVar() {
			return pat, fmt.Errorf("closure over variable predicate ?%s", pat.P.Var)
		}
		pat.Closure = true
	}
	if pat.O, err = p.slot(false); err != nil {
		return pat, fmt.Errorf("object: %w", err)
	}
	if pat.S.Term.Kind == Literal {
		return pat, fmt.Errorf("literal subject %s", pat.S.Term.Key())
	}
	if pat.P.Term.Kind == Literal || pat.P.Term.Kind == Blank {
		return pat, fmt.Errorf("predicate must be an IRI or a variable")
	}
	switch p.peek() {
	case ".":
		p.next()
	case "}":
	default:
		return pat, fmt.Errorf("expected '.' after pattern, found %q", p.peek())
	}
	return pat, nil
}

func (p *parser) slot(predicate bool) (Slot, error) {
	t := p.next()
	switch {
	case t == "":
		return Slot{}, fmt.Errorf("unexpected end of query")
	case strings.HasPrefix(t, "?"):
		if len(t) == 1 {
			return Slot{}, fmt.Errorf("empty variable name")
		}
		return Slot{Var: t[1:]}, nil
	case predicate && t == "a":
		return Slot{Term: NewIRI(RDFType)}, nil
	case isIRIRef(t):
		return Slot{Term: NewIRI(t[1 : len(t)-1])}, nil
	case strings.HasPrefix(t, "_:"):
		return Slot{Term: NewBlank(t)}, nil
	case strings.HasPrefix(t, `"`):
		return p.literal(t)
	case t == "." || t == "{" || t == "}" || t == "*":
		return Slot{}, fmt.Errorf("unexpected %q", t)
	default:
		iri, err := p.expand(t)
		if err != nil {
			return Slot{}, err
		}
		return Slot{Term: NewIRI(iri)}, nil
	}
}

func (p *parser) literal(t string) (Slot, error) {
	end := strings.LastIndex(t, `"`)
	if end == 0 {
		return Slot{}, fmt.Errorf("unterminated literal %s", t)
	}
	lit := NewLiteral(t[1:end])
	switch suffix := t[end+1:]; {
	case suffix == "":
	case strings.HasPrefix(suffix, "@"):
		lit.Lang = suffix[1:]
	case strings.HasPrefix(suffix, "^^"):
		dt := suffix[2:]
		if isIRIRef(dt) {
			lit.Datatype = dt[1 : len(dt)-1]
			break
		}
		iri, err := p.expand(dt)
		if err != nil {
			return Slot{}, fmt.Errorf("literal datatype: %w", err)
		}
		lit.Datatype = iri
	default:
		return Slot{}, fmt.Errorf("malformed literal %s", t)
	}
	return Slot{Term: lit}, nil
}

func (p *parser) expand(name string) (string, error) {
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return "", fmt.Errorf("unexpected token %q", name)
	}
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", fmt.Errorf("undeclared prefix %q", prefix)
	}
	return ns + local, nil
}

func isIRIRef(t string) bool {
	return len(t) >= 2 && t[0] == '<' && t[len(t)-1] == '>'
}

// tokenize splits a query into tokens. IRI references and literals are single
// tokens; '{', '}', '.', and a closure '*' are tokens of their own.
func tokenize(src string) ([]string, error) {
	var toks []string
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '#':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '{' || r == '}' || r == '*':
			toks = append(toks, string(r))
			i++
		case r == '<':
			j := i + 1
			for j < len(rs) && rs[j] != '>' {
				if unicode.IsSpace(rs[j]) {
					return nil, fmt.Errorf("whitespace inside IRI at offset %d", i)
				}
				j++
			}
			if j == len(rs) {
				return nil, fmt.Errorf("unterminated IRI at offset %d", i)
			}
			toks = append(toks, string(rs[i:j+1]))
			i = j + 1
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated literal at offset %d", i)
			}
			j++
			// Language tags and datatypes stick to the literal.
			for j < len(rs) && !unicode.IsSpace(rs[j]) && rs[j] != '}' && !(rs[j] == '.' && (j+1 == len(rs) || unicode.IsSpace(rs[j+1]))) {
				if rs[j] == '<' {
					for j < len(rs) && rs[j] != '>' {
						j++
					}
				}
				j++
			}
			toks = append(toks, string(rs[i:min(j, len(rs))]))
			i = j
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && !strings.ContainsRune("{}<*", rs[j]) {
				j++
			}
			word := string(rs[i:j])
			// A statement terminator may be glued to the last term.
			if len(word) > 1 && strings.HasSuffix(word, ".") {
				toks = append(toks, word[:len(word)-1], ".")
			} else {
				toks = append(toks, word)
			}
			i = j
		}
	}
	return toks, nil
}
