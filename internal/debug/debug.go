// Package debug provides env-gated diagnostic logging.
// Set TETHER_DEBUG=1 (or pass --verbose) to enable.
package debug

import (
	"fmt"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	enabled = os.Getenv("TETHER_DEBUG") != ""
	verbose = false
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled || verbose
}

// SetVerbose enables debug output regardless of the environment.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Logf writes a debug line to stderr when enabled.
func Logf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "[tether] "+format+"\n", args...)
}
