// Package monitoring holds the diagnostic logger shared by the control core.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger so tests can capture or mute tick output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tickf logs a message prefixed with the tick it belongs to.
func Tickf(tick uint64, format string, v ...interface{}) {
	Logf("[tick %d] %s", tick, fmt.Sprintf(format, v...))
}
