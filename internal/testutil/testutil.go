// Package testutil provides shared fixtures for package tests: an
// in-process control store and seed helpers for users and boards.
package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context with a test-scoped timeout.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
