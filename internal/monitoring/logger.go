// Package monitoring owns the process-wide diagnostic log streams.
//
// Three streams are kept apart so that normal runs stay quiet:
//
//   - ops:   actionable warnings, errors and data loss
//   - diag:  lifecycle and policy decisions (drops, start/stop, tuning)
//   - trace: per-frame telemetry
//
// Every stream defaults to log.Printf on stderr except trace, which is
// disabled until SetLogWriters routes it somewhere.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	opsLogger   atomic.Pointer[log.Logger]
	diagLogger  atomic.Pointer[log.Logger]
	traceLogger atomic.Pointer[log.Logger]
)

func init() {
	SetLogWriters(os.Stderr, os.Stderr, nil)
}

// SetLogWriters configures the three logging streams. Pass nil for any
// writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger.Store(newLogger("[ops] ", ops))
	diagLogger.Store(newLogger("[diag] ", diag))
	traceLogger.Store(newLogger("[trace] ", trace))
}

// SetLegacyLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	if l := opsLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	if l := diagLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	if l := traceLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer. Callers use it
// to skip building expensive trace arguments.
func TraceEnabled() bool {
	return traceLogger.Load() != nil
}
