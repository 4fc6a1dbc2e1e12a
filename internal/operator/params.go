package operator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingParam is wrapped by Params getters when a required key is absent.
var ErrMissingParam = errors.New("missing parameter")

// Params is the flat string-keyed parameter map an operator is built from.
type Params map[string]string

func (p Params) lookup(key string) (string, bool) {
	v, ok := p[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// String returns the value of key or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// RequireString returns the value of key or an error wrapping
// ErrMissingParam.
func (p Params) RequireString(key string) (string, error) {
	v, ok := p.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingParam, key)
	}
	return v, nil
}

// Int parses key as an integer, returning def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: invalid integer %q: %w", key, v, err)
	}
	return n, nil
}

// RequireInt parses a required integer parameter.
func (p Params) RequireInt(key string) (int, error) {
	if _, ok := p.lookup(key); !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingParam, key)
	}
	return p.Int(key, 0)
}

// Uint64 parses key as an unsigned integer, returning def when absent.
func (p Params) Uint64(key string, def uint64) (uint64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: invalid unsigned integer %q: %w", key, v, err)
	}
	return n, nil
}

// RequireUint64 parses a required unsigned integer parameter.
func (p Params) RequireUint64(key string) (uint64, error) {
	if _, ok := p.lookup(key); !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingParam, key)
	}
	return p.Uint64(key, 0)
}

// Float parses key as a float, returning def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: invalid number %q: %w", key, v, err)
	}
	return f, nil
}

// Bool parses key as a boolean, returning def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parameter %q: invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

// Duration parses key as a Go duration ("1.5s"). A bare number is read as
// seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: invalid duration %q: %w", key, v, err)
	}
	return d, nil
}

// List splits a comma-separated value, trimming blanks.
func (p Params) List(key string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
