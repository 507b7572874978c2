package testutil

import (
	"github.com/ragstore/ragstore/internal/log"
)

// Logger returns a logger for tests that discards all output.
func Logger() log.Logger {
	return log.NewNop()
}
