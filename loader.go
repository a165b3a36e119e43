package sidecar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/danielorbach/go-component"
	"github.com/hashicorp/go-getter"
	"github.com/knakk/rdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Syntax identifies an RDF serialization.
type Syntax int

const (
	Turtle Syntax = iota
	NTriples
	RDFXML
)

// SyntaxOf guesses the serialization of a resource from its name. Anything
// not recognised is assumed to be Turtle.
func SyntaxOf(name string) Syntax {
	switch strings.ToLower(path.Ext(name)) {
	case ".nt":
		return NTriples
	case ".rdf", ".owl", ".xml":
		return RDFXML
	default:
		return Turtle
	}
}

func (s Syntax) format() rdf.Format {
	switch s {
	case NTriples:
		return rdf.NTriples
	case RDFXML:
		return rdf.RDFXML
	default:
		return rdf.Turtle
	}
}

// A Fetcher retrieves the resource identified by an IRI into the directory dir
// and returns the path of the local copy.
type Fetcher interface {
	Fetch(ctx context.Context, iri, dir string) (string, error)
}

// GetterFetcher fetches resources with go-getter, so IRIs may be local paths,
// file:// or http(s):// URLs, or any other source go-getter detects.
type GetterFetcher struct {
	// Pwd resolves relative paths. The zero value uses the working directory.
	Pwd string
}

func (f GetterFetcher) Fetch(ctx context.Context, iri, dir string) (string, error) {
	pwd := f.Pwd
	if pwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("working directory: %w", err)
		}
		pwd = wd
	}
	dst := filepath.Join(dir, resourceName(iri))
	client := &getter.Client{
		Ctx:  ctx,
		Src:  iri,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return "", err
	}
	return dst, nil
}

// resourceName returns the last path segment of an IRI, keeping its extension
// so that SyntaxOf can still guess the serialization of the local copy.
func resourceName(iri string) string {
	p := iri
	if u, err := url.Parse(iri); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(filepath.ToSlash(p))
	if name == "." || name == "/" || name == "" {
		return "resource"
	}
	return name
}

// Load fetches the model and data resources and merges them into a single
// graph. A resource that cannot be fetched or parsed yields a *LoadError.
func Load(ctx context.Context, f Fetcher, modelIRI, dataIRI string) (_ *Graph, err error) {
	ctx, span := tracer.Start(ctx, "Load", trace.WithAttributes(
		attribute.String("sidecar.model", modelIRI),
		attribute.String("sidecar.data", dataIRI),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	logger := component.Logger(ctx)

	tmp, err := os.MkdirTemp("", "sidecar-load-*")
	if err != nil {
		return nil, fmt.Errorf("create fetch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmp); err != nil {
			logger.Warn("Failed to remove fetch directory", "path", tmp, "error", err)
		}
	}()

	var graphs []*Graph
	for i, iri := range []string{modelIRI, dataIRI} {
		g, err := loadOne(ctx, f, iri, filepath.Join(tmp, strconv.Itoa(i)), "g"+strconv.Itoa(i))
		if err != nil {
			return nil, &LoadError{IRI: iri, Err: err}
		}
		logger.Debug("Loaded description graph", "iri", iri, "triples", g.Len())
		graphs = append(graphs, g)
	}
	return Merge(graphs...), nil
}

func loadOne(ctx context.Context, f Fetcher, iri, dir, scope string) (*Graph, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fetch directory: %w", err)
	}
	local, err := f.Fetch(ctx, iri, dir)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	file, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = file.Close() }()
	g, err := ParseGraph(file, SyntaxOf(iri), scope)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return g, nil
}

// ParseGraph decodes a single RDF document.
//
// Blank node labels are only meaningful within their document, so they are
// prefixed with scope. Give every document a distinct scope before merging
// graphs, or the empty scope to keep labels verbatim.
func ParseGraph(r io.Reader, syntax Syntax, scope string) (*Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var namespaces []NamespaceBinding
	switch syntax {
	case Turtle:
		namespaces = scanPrefixes(data)
	case RDFXML:
		namespaces = scanXMLNamespaces(data)
	}

	dec := rdf.NewTripleDecoder(bytes.NewReader(data), syntax.format())
	decoded, err := dec.DecodeAll()
	if err != nil {
		return nil, err
	}
	triples := make([]Triple, len(decoded))
	for i, t := range decoded {
		triples[i] = Triple{
			S: fromRDF(t.Subj, scope),
			P: fromRDF(t.Pred, scope),
			O: fromRDF(t.Obj, scope),
		}
	}
	return NewGraph(triples, namespaces...), nil
}

const xsdString = "http://www.w3.org/2001/XMLSchema#string"

func fromRDF(t rdf.Term, scope string) Term {
	switch v := t.(type) {
	case rdf.IRI:
		return NewIRI(v.String())
	case rdf.Blank:
		label := strings.TrimPrefix(v.String(), "_:")
		if scope != "" {
			label = scope + "-" + label
		}
		return NewBlank(label)
	case rdf.Literal:
		lit := Term{Kind: Literal, Value: v.String(), Lang: v.Lang()}
		if lit.Lang == "" {
			if dt := v.DataType.String(); dt != xsdString {
				lit.Datatype = dt
			}
		}
		return lit
	default:
		panic(fmt.Sprintf("sidecar: unexpected rdf term %T", t))
	}
}

// The RDF decoder does not report the prefixes a document declares, so we scan
// Turtle and RDF/XML sources for them ourselves.
var prefixDecl = regexp.MustCompile(`(?mi)^[ \t]*@?prefix[ \t]+([A-Za-z][\w.-]*)?:[ \t]*<([^>\s]*)>`)

func scanPrefixes(data []byte) []NamespaceBinding {
	var out []NamespaceBinding
	for _, m := range prefixDecl.FindAllSubmatch(data, -1) {
		out = append(out, NamespaceBinding{Prefix: string(m[1]), IRI: string(m[2])})
	}
	return out
}

// scanXMLNamespaces returns the xmlns declarations of every element in an
// RDF/XML document, in document order. The default namespace is bound to the
// empty prefix. Scanning stops at the first malformed token; the RDF decoder
// reports the error.
func scanXMLNamespaces(data []byte) []NamespaceBinding {
	var out []NamespaceBinding
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return out
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, attr := range start.Attr {
			var ns NamespaceBinding
			switch {
			case attr.Name.Space == "xmlns":
				ns = NamespaceBinding{Prefix: attr.Name.Local, IRI: attr.Value}
			case attr.Name.Space == "" && attr.Name.Local == "xmlns":
				ns = NamespaceBinding{IRI: attr.Value}
			default:
				continue
			}
			if !slices.Contains(out, ns) {
				out = append(out, ns)
			}
		}
	}
}
