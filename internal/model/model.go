// Package model describes the ML models available to detectors, extractors
// and matchers. Descriptions are read once at startup from a YAML file and
// looked up by name; nothing in the pipeline mutates them.
package model

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Type identifies the backend a model targets.
type Type string

const (
	TypeCaffe      Type = "caffe"
	TypeTensorFlow Type = "tensorflow"
	TypeOpenCV     Type = "opencv"
	TypeNCS        Type = "ncs"
	TypeCVSDK      Type = "cvsdk"
	TypeXQDA       Type = "xqda"
	TypeBuiltin    Type = "builtin"
)

func (t Type) valid() bool {
	switch t {
	case TypeCaffe, TypeTensorFlow, TypeOpenCV, TypeNCS, TypeCVSDK, TypeXQDA, TypeBuiltin:
		return true
	}
	return false
}

// Desc is a read-only model description.
type Desc struct {
	Name               string  `yaml:"name" json:"name"`
	Type               Type    `yaml:"type" json:"type"`
	DescPath           string  `yaml:"desc_path" json:"desc_path"`
	ParamsPath         string  `yaml:"params_path" json:"params_path,omitempty"`
	LabelFile          string  `yaml:"label_file" json:"label_file,omitempty"`
	InputWidth         int     `yaml:"input_width" json:"input_width"`
	InputHeight        int     `yaml:"input_height" json:"input_height"`
	DefaultInputLayer  string  `yaml:"default_input_layer" json:"default_input_layer,omitempty"`
	DefaultOutputLayer string  `yaml:"default_output_layer" json:"default_output_layer,omitempty"`
	InputScale         float64 `yaml:"input_scale" json:"input_scale,omitempty"`
	Device             *int    `yaml:"device" json:"device,omitempty"`
}

// MeanColors is the per-channel mean subtracted by image preprocessors.
type MeanColors struct {
	Blue  float64 `yaml:"blue" json:"blue"`
	Green float64 `yaml:"green" json:"green"`
	Red   float64 `yaml:"red" json:"red"`
}

type file struct {
	MeanImage MeanColors `yaml:"mean_image"`
	Models    []Desc     `yaml:"models"`
}

// Registry holds model descriptions keyed by name.
type Registry struct {
	mu     sync.RWMutex
	mean   MeanColors
	models map[string]Desc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Desc)}
}

// LoadRegistry reads a YAML model file. Relative paths inside the file are
// resolved against the file's directory.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}

	base := filepath.Dir(path)
	reg := NewRegistry()
	reg.mean = f.MeanImage
	for _, d := range f.Models {
		d.DescPath = resolve(base, d.DescPath)
		d.ParamsPath = resolve(base, d.ParamsPath)
		d.LabelFile = resolve(base, d.LabelFile)
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Register adds a description. Names must be unique.
func (r *Registry) Register(d Desc) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("model has no name")
	}
	if !d.Type.valid() {
		return fmt.Errorf("model %q: invalid type %q", d.Name, d.Type)
	}
	if d.InputScale == 0 {
		d.InputScale = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.models[d.Name]; dup {
		return fmt.Errorf("model %q registered twice", d.Name)
	}
	r.models[d.Name] = d
	return nil
}

// Get returns the description registered under name.
func (r *Registry) Get(name string) (Desc, bool) {
	if r == nil {
		return Desc{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[name]
	return d, ok
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MeanColors returns the configured mean image colors.
func (r *Registry) MeanColors() MeanColors {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mean
}

// Labels reads the model's label file, one label per line. Blank lines are
// skipped.
func (d Desc) Labels() ([]string, error) {
	if d.LabelFile == "" {
		return nil, nil
	}
	fh, err := os.Open(d.LabelFile)
	if err != nil {
		return nil, fmt.Errorf("open label file: %w", err)
	}
	defer fh.Close()

	var labels []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read label file: %w", err)
	}
	return labels, nil
}
