package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jtest "github.com/testcontainers/testcontainers-go/modules/neo4j"
)

// Neo4jImage is the image of the Neo4j container. The enterprise variant
// supports several databases per server, which CreateDatabase relies on.
//
// See <https://hub.docker.com/_/neo4j> for more images.
const Neo4jImage = "docker.io/neo4j:5-enterprise"

// Port of the HTTP endpoint serving the Neo4j browser.
const neo4jHTTP = nat.Port("7474/tcp")

// SetupNeo4j starts a Neo4j container and returns a driver connected to it.
// Both are closed during cleanup of t.
//
// SetupNeo4j skips t in short mode and marks it parallel, because container
// tests are slow.
func SetupNeo4j(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container-based test in short mode...")
	}
	t.Parallel()

	ctx := context.Background()
	container, err := neo4jtest.Run(ctx, Neo4jImage, containerOptions(t,
		neo4jtest.WithoutAuthentication(),
		neo4jtest.WithAcceptCommercialLicenseAgreement(),
	)...)
	if err != nil {
		t.Fatal("Failed to run neo4j container:", err)
	}
	t.Cleanup(func() {
		t.Logf("Terminating neo4j container %q...", container.GetContainerID())
		if err := container.Terminate(ctx); err != nil {
			t.Error("Encountered an error during cleanup; terminate container:", err)
		}
	})

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatal("Failed to get bolt url:", err)
	}
	httpEndpoint, err := container.PortEndpoint(ctx, neo4jHTTP, "http")
	if err != nil {
		t.Fatal("Failed to get http endpoint:", err)
	}

	driver, err := neo4j.NewDriverWithContext(boltURL, neo4j.NoAuth())
	if err != nil {
		t.Fatal("Failed to open neo4j driver:", err)
	}
	t.Cleanup(func() {
		if err := driver.Close(ctx); err != nil {
			t.Error("Encountered an error during cleanup while closing the neo4j driver:", err)
		}
	})
	if err := verifyConnectivity(t, ctx, driver); err != nil {
		t.Fatalf("Failed to connect to the neo4j server: %v", err)
	}

	// Registered last, so it runs before the container is terminated.
	t.Cleanup(func() {
		if t.Failed() && *Inspect {
			t.Logf("Container %v is still running for inspection (Ctrl+C to terminate)...", container.GetContainerID())
			t.Logf("HTTP URL = %s/browser?preselectAuthMethod=%s&dbms=%s", httpEndpoint, url.QueryEscape("[NO_AUTH]"), url.QueryEscape(boltURL))
			waitForInterrupt()
		}
	})
	return driver
}

// CreateDatabase creates a database on the server of driver with bootstrap and
// returns its name. Tests sharing a container use it to keep their graphs
// apart; the database is dropped during cleanup of t unless kept for
// inspection.
//
// The bootstrap function must create the database itself, along with whatever
// schema the code under test relies on. A nil bootstrap creates an empty
// database.
func CreateDatabase(t *testing.T, driver neo4j.DriverWithContext, bootstrap func(context.Context, neo4j.DriverWithContext, string) error) string {
	t.Helper()
	ctx := context.Background()
	// Database names must start with a letter and may not contain underscores.
	name := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")

	system := func(cypher string) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, map[string]any{"name": name},
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase("system"))
		return err
	}
	if bootstrap == nil {
		bootstrap = func(context.Context, neo4j.DriverWithContext, string) error {
			return system("CREATE DATABASE $name IF NOT EXISTS WAIT")
		}
	}
	if err := bootstrap(ctx, driver, name); err != nil {
		t.Fatalf("Failed to create database %q: %v", name, err)
	}
	t.Cleanup(func() {
		if t.Failed() && *Inspect {
			return
		}
		if err := system("DROP DATABASE $name IF EXISTS"); err != nil {
			t.Errorf("Encountered an error during cleanup; drop database %q: %v", name, err)
		}
	})
	return name
}

// verifyConnectivity retries a few times, because the container may report
// ready slightly before the server accepts sessions.
func verifyConnectivity(t *testing.T, ctx context.Context, driver neo4j.DriverWithContext) error {
	t.Helper()
	const (
		attempts = 6
		pause    = 100 * time.Millisecond
	)
	var err error
	for i := range attempts {
		if i > 0 {
			t.Logf("Retrying [%d/%d] to connect to the neo4j server: %v", i, attempts-1, err)
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return fmt.Errorf("retry pause interrupted: %w", ctx.Err())
			}
		}
		if err = driver.VerifyConnectivity(ctx); err == nil {
			return nil
		}
	}
	return err
}
