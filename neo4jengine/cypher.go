package neo4jengine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-digitaltwin/go-sidecar"
)

// A compiled query is the Cypher rendition of a sidecar.Query together with
// everything needed to turn its records back into rows.
type compiled struct {
	cypher  string
	params  map[string]any
	columns []column
	// Selected variables that were bound before the query ran. Their values are
	// known upfront, so they are not returned by Neo4j.
	constants map[string]sidecar.Term
}

// A column of the compiled RETURN clause.
type column struct {
	variable  string // Name of the selected variable, without the '?'.
	alias     string // Name of the returned column.
	predicate bool   // Predicate columns hold an IRI string instead of a term map.
}

// errUnsupportedQuery is wrapped by compile errors for queries that parse, but
// that the Cypher rendition cannot express.
var errUnsupportedQuery = errors.New("unsupported query")

// compile translates q into a single read-only Cypher statement. Every pattern
// becomes its own MATCH clause, so relationship uniqueness never applies across
// patterns, matching the semantics of the in-memory engine.
func compile(q *sidecar.Query, b sidecar.Bindings) (compiled, error) {
	c := compiler{
		params:     make(map[string]any),
		constNodes: make(map[string]string),
		nodeVars:   make(map[string]bool),
		predVars:   make(map[string]bool),
		b:          b,
	}
	var cypher strings.Builder
	for _, p := range q.Patterns {
		clause, err := c.pattern(p)
		if err != nil {
			return compiled{}, fmt.Errorf("%w: %v", errUnsupportedQuery, err)
		}
		cypher.WriteString(clause)
		cypher.WriteByte('\n')
	}

	out := compiled{params: c.params, constants: make(map[string]sidecar.Term)}
	var projections []string
	for _, v := range q.Vars {
		if t, ok := b[v]; ok {
			out.constants[v] = t
			continue
		}
		switch {
		case c.nodeVars[v]:
			alias := nodeAlias(v)
			projections = append(projections, quote(alias)+" {.kind, .value, .datatype, .lang} AS "+quote(alias))
			out.columns = append(out.columns, column{variable: v, alias: alias})
		case c.predVars[v]:
			alias := relAlias(v)
			projections = append(projections, quote(alias)+".predicate AS "+quote(alias))
			out.columns = append(out.columns, column{variable: v, alias: alias, predicate: true})
		default:
			// ParseQuery rejects selected variables that the patterns never mention.
			return compiled{}, fmt.Errorf("%w: variable ?%s is never matched", errUnsupportedQuery, v)
		}
	}
	cypher.WriteString("RETURN ")
	if q.Distinct {
		cypher.WriteString("DISTINCT ")
	}
	if len(projections) == 0 {
		// Every selected variable was bound; only the number of solutions matters.
		cypher.WriteString("1 AS solution")
	} else {
		cypher.WriteString(strings.Join(projections, ", "))
	}
	out.cypher = cypher.String()
	return out, nil
}

type compiler struct {
	params     map[string]any
	constNodes map[string]string // Term key to node alias.
	nodeVars   map[string]bool
	predVars   map[string]bool
	b          sidecar.Bindings
	nparams    int
}

func (c *compiler) param(v any) string {
	name := fmt.Sprintf("p%d", c.nparams)
	c.nparams++
	c.params[name] = v
	return "$" + name
}

func (c *compiler) pattern(p sidecar.Pattern) (string, error) {
	subj, err := c.node(p.S)
	if err != nil {
		return "", err
	}
	rel, err := c.relationship(p)
	if err != nil {
		return "", err
	}
	obj, err := c.node(p.O)
	if err != nil {
		return "", err
	}
	return "MATCH " + subj + "-" + rel + "->" + obj, nil
}

func (c *compiler) node(s sidecar.Slot) (string, error) {
	t, bound := s.Term, !s.IsVar()
	if s.IsVar() {
		if c.predVars[s.Var] {
			return "", fmt.Errorf("variable ?%s is used both as a predicate and as a node", s.Var)
		}
		if v, ok := c.b[s.Var]; ok {
			t, bound = v, true
		}
	}
	if !bound {
		c.nodeVars[s.Var] = true
		return "(" + quote(nodeAlias(s.Var)) + ":" + termLabel + ")", nil
	}
	// Constant nodes are matched by key; a node already matched by key is
	// referred to by its alias.
	if alias, ok := c.constNodes[t.Key()]; ok {
		return "(" + quote(alias) + ")", nil
	}
	alias := fmt.Sprintf("c%d", len(c.constNodes))
	c.constNodes[t.Key()] = alias
	return "(" + quote(alias) + ":" + termLabel + " {key: " + c.param(t.Key()) + "})", nil
}

func (c *compiler) relationship(p sidecar.Pattern) (string, error) {
	if p.P.IsVar() {
		if v, ok := c.b[p.P.Var]; ok {
			if v.Kind != sidecar.IRI {
				return "", fmt.Errorf("variable ?%s is bound to a non-IRI predicate", p.P.Var)
			}
			return c.constRelationship(v.Value, p.Closure), nil
		}
		if p.Closure {
			return "", fmt.Errorf("closure over variable predicate ?%s", p.P.Var)
		}
		if c.nodeVars[p.P.Var] {
			return "", fmt.Errorf("variable ?%s is used both as a predicate and as a node", p.P.Var)
		}
		if c.predVars[p.P.Var] {
			// A relationship variable names one relationship, not its predicate.
			return "", fmt.Errorf("predicate variable ?%s is used more than once", p.P.Var)
		}
		c.predVars[p.P.Var] = true
		return "[" + quote(relAlias(p.P.Var)) + ":" + tripleType + "]", nil
	}
	return c.constRelationship(p.P.Term.Value, p.Closure), nil
}

func (c *compiler) constRelationship(iri string, closure bool) string {
	length := ""
	if closure {
		length = "*0.."
	}
	return "[:" + tripleType + length + " {predicate: " + c.param(iri) + "}]"
}

// Query variables are prefixed so they can never collide with the aliases the
// compiler generates, nor with Cypher keywords.
func nodeAlias(v string) string { return "v_" + v }
func relAlias(v string) string  { return "r_" + v }

// quote escapes a Cypher identifier.
func quote(name string) string { return "`" + strings.ReplaceAll(name, "`", "``") + "`" }
