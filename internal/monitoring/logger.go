// Package monitoring holds the process-wide diagnostic logger shared by
// the sampling packages. Long chains report progress through it without
// each package carrying its own logger plumbing.
package monitoring

import "log"

// LogFunc consumes a Printf-style diagnostic line.
type LogFunc func(format string, v ...interface{})

var logf LogFunc = log.Printf

// Logf emits one diagnostic line through the current logger.
func Logf(format string, v ...interface{}) {
	logf(format, v...)
}

// SetLogger replaces the process logger. Passing nil mutes all
// diagnostic output, which tests use to keep runs quiet.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	logf = f
}
