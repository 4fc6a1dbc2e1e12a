package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modelsYAML = `
mean_image:
  blue: 104
  green: 117
  red: 123
models:
  - name: reid
    type: xqda
    desc_path: xqda/M.csv
    params_path: xqda/W.csv
    input_width: 48
    input_height: 128
  - name: ssd
    type: builtin
    desc_path: /abs/ssd.json
    label_file: labels.txt
    input_width: 300
    input_height: 300
    device: 1
`

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelsYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.txt"), []byte("background\nperson\n\ncar\n"), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"reid", "ssd"}, reg.Names())
	assert.Equal(t, MeanColors{Blue: 104, Green: 117, Red: 123}, reg.MeanColors())

	reid, ok := reg.Get("reid")
	require.True(t, ok)
	assert.Equal(t, TypeXQDA, reid.Type)
	assert.Equal(t, filepath.Join(dir, "xqda/M.csv"), reid.DescPath)
	assert.Equal(t, filepath.Join(dir, "xqda/W.csv"), reid.ParamsPath)
	assert.Equal(t, 1.0, reid.InputScale)
	assert.Nil(t, reid.Device)

	ssd, ok := reg.Get("ssd")
	require.True(t, ok)
	assert.Equal(t, "/abs/ssd.json", ssd.DescPath)
	require.NotNil(t, ssd.Device)
	assert.Equal(t, 1, *ssd.Device)

	labels, err := ssd.Labels()
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "person", "car"}, labels)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(Desc{Type: TypeCaffe}))
	assert.Error(t, reg.Register(Desc{Name: "x", Type: "onnx"}))
	require.NoError(t, reg.Register(Desc{Name: "x", Type: TypeCaffe}))
	assert.Error(t, reg.Register(Desc{Name: "x", Type: TypeCaffe}))
}

func TestLoadRegistryErrors(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [:"), 0o644))
	_, err = LoadRegistry(path)
	assert.Error(t, err)
}

func TestNilRegistryGet(t *testing.T) {
	var reg *Registry
	_, ok := reg.Get("anything")
	assert.False(t, ok)
}
