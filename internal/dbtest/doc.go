/*
Package dbtest spins up throwaway Neo4j databases for the tests of query
engines. It wraps testcontainers-go and its neo4j module for the common case
where the deployment details of the database do not matter to the test.

Tests needing a customised server should use the testcontainers-go modules
directly instead.

A failed test normally tears its container down. To inspect the graph it left
behind, run the tests with the inspect flag set:

	go test ./neo4jengine -dbtest.inspect

The package is meant for tests only.
*/
package dbtest
