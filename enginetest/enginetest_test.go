package enginetest_test

import (
	"testing"

	"github.com/go-digitaltwin/go-sidecar"
	"github.com/go-digitaltwin/go-sidecar/enginetest"
)

func TestInMemory(t *testing.T) {
	enginetest.Run(t, sidecar.InMemory)
}
