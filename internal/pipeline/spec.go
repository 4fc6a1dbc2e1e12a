package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/camflow/internal/operator"
)

// DefaultSinkName is the sink an input binds to when the reference names
// only the operator.
const DefaultSinkName = "output"

// Spec is the JSON description of a pipeline.
type Spec struct {
	Operators []OperatorSpec `json:"operators"`
}

// OperatorSpec describes one operator and where its inputs come from.
type OperatorSpec struct {
	Name string `json:"operator_name"`
	Type string `json:"operator_type"`
	// Parameters are passed to the constructor as strings. Non-string JSON
	// values are passed as their compact JSON text.
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
	// Inputs maps a source port to "operator" or "operator:sink".
	Inputs map[string]string `json:"inputs,omitempty"`
}

// ParseSpec decodes and validates a pipeline spec.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	return &s, nil
}

// LoadSpec reads a pipeline spec from a JSON file.
func LoadSpec(path string) (*Spec, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("pipeline file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return ParseSpec(data)
}

// Validate checks names are present and unique and that every input refers
// to a declared operator.
func (s *Spec) Validate() error {
	if len(s.Operators) == 0 {
		return fmt.Errorf("no operators")
	}
	seen := make(map[string]bool, len(s.Operators))
	for i, op := range s.Operators {
		if op.Name == "" {
			return fmt.Errorf("operator %d has no operator_name", i)
		}
		if op.Type == "" {
			return fmt.Errorf("operator %q has no operator_type", op.Name)
		}
		if seen[op.Name] {
			return fmt.Errorf("duplicate operator name %q", op.Name)
		}
		seen[op.Name] = true
	}
	for _, op := range s.Operators {
		for port, ref := range op.Inputs {
			src, _ := SplitRef(ref)
			if !seen[src] {
				return fmt.Errorf("operator %q input %q refers to unknown operator %q", op.Name, port, src)
			}
		}
	}
	return nil
}

// SplitRef splits an input reference into operator and sink names.
func SplitRef(ref string) (op, sink string) {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, DefaultSinkName
}

// Params converts the JSON parameters into operator.Params.
func (o OperatorSpec) Params() (operator.Params, error) {
	p := make(operator.Params, len(o.Parameters))
	for k, raw := range o.Parameters {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("operator %q parameter %q: %w", o.Name, k, err)
			}
			p[k] = s
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("operator %q parameter %q: %w", o.Name, k, err)
		}
		p[k] = buf.String()
	}
	return p, nil
}

func (o OperatorSpec) ports() []string {
	ports := make([]string, 0, len(o.Inputs))
	for port := range o.Inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}
