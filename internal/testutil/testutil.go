// Package testutil carries small helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// Logger returns a zerolog logger that writes through t.Log, so output is
// attached to the failing test instead of polluting stdout.
func Logger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

// Eventually polls cond until it reports true or the deadline passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
