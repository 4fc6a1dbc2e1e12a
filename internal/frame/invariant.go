package frame

import "fmt"

// InvariantError is the panic value used when a pipeline invariant is
// broken: a field read with the wrong kind, a frame entering a second
// flow-control domain, token overflow. These indicate a build or
// configuration mismatch and are never recovered by the pipeline.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Msg }

// Invariantf panics with an *InvariantError.
func Invariantf(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}
