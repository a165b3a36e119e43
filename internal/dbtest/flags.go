package dbtest

import (
	"flag"
	"os"
	"os/signal"
)

// Inspect keeps the container of a failed test running until interrupted, so
// the imported description graph can be browsed.
//
// The testcontainers reaper still removes the container eventually.
var Inspect = flag.Bool("dbtest.inspect", false, "keep the neo4j container of a failed test running for inspection")

// waitForInterrupt blocks until SIGINT (Ctrl+C).
func waitForInterrupt() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	<-c
}
