// Package sidecar operates the ports of a data product from their semantic
// description. A data product is described by a semantic model (classes and
// properties) and data compliant with it; both are merged into one graph that
// the sidecar queries to configure itself.
//
// A Sidecar loads and merges the description, resolves the data-product
// namespace bound in it, and answers questions about it through a
// QueryCatalog. A PortSidecar additionally decodes the description of a
// single input port into a PortDescriptor and ingests the port on its declared
// schedule: every tick lists the port's directory and appends a
// DistributionRecord per matching file to a Sink.
//
// Queries run on an Engine. The merged *Graph evaluates them in memory; the
// neo4jengine package evaluates them on Neo4j. The enginetest package checks
// that an Engine behaves as this package expects.
//
// Known limitations: a tick that fails stops its port for good, and files are
// recorded again on every tick they are observed.
package sidecar
