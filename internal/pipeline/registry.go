package pipeline

import (
	"github.com/banshee-data/camflow/internal/camera"
	"github.com/banshee-data/camflow/internal/detect"
	"github.com/banshee-data/camflow/internal/flowcontrol"
	"github.com/banshee-data/camflow/internal/imaging"
	"github.com/banshee-data/camflow/internal/matcher"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/selection"
	"github.com/banshee-data/camflow/internal/tracker"
	"github.com/banshee-data/camflow/internal/writer"
)

// DefaultRegistry returns a registry holding every built-in operator type.
func DefaultRegistry() *operator.Registry {
	reg := operator.NewRegistry()
	camera.Register(reg)
	imaging.Register(reg)
	flowcontrol.Register(reg)
	selection.Register(reg)
	detect.Register(reg)
	tracker.Register(reg)
	matcher.Register(reg)
	writer.Register(reg)
	return reg
}
