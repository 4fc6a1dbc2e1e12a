package monitor

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/camflow/internal/httputil"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/security"
)

// LatencyPlotFile is the combined plot WritePlots produces.
const LatencyPlotFile = "latency.png"

// WritePlots renders the operators' latency histories as PNG files in dir:
// one combined plot and one per operator. It returns the file names.
func (s *Server) WritePlots(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	names, hist := s.latencies()

	all := plot.New()
	all.Title.Text = "Operator processing latency"
	all.X.Label.Text = "Frame"
	all.Y.Label.Text = "Latency (ms)"
	all.Legend.Top = true

	files := []string{LatencyPlotFile}
	for i, name := range names {
		pts := xys(hist[name])
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("plot %s: %w", name, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotutil.Color(i)
		all.Add(line)
		all.Legend.Add(name, line)

		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s - processing latency", name)
		p.X.Label.Text = "Frame"
		p.Y.Label.Text = "Latency (ms)"
		p.Add(line)
		file := "latency_" + security.SanitizeFilename(name) + ".png"
		if err := p.Save(10*vg.Inch, 4*vg.Inch, filepath.Join(dir, file)); err != nil {
			return nil, fmt.Errorf("save %s plot: %w", name, err)
		}
		files = append(files, file)
	}
	if err := all.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(dir, LatencyPlotFile)); err != nil {
		return nil, fmt.Errorf("save latency plot: %w", err)
	}
	monitoring.Diagf("monitor: wrote %d latency plots to %s", len(files), dir)
	return files, nil
}

func xys(h []float64) plotter.XYs {
	pts := make(plotter.XYs, len(h))
	for i, v := range h {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	return pts
}

// handlePlots lists, serves and regenerates the plot files. Names are
// resolved inside the plot directory only.
func (s *Server) handlePlots(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/debug/plots/")
	switch {
	case r.Method == http.MethodPost:
		files, err := s.WritePlots(s.plotDir)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.OK(w, files)
	case r.Method != http.MethodGet:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	case name == "":
		files, err := listPNG(s.plotDir)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.OK(w, files)
	default:
		path, err := security.ResolveWithin(s.plotDir, name)
		if err != nil {
			httputil.BadRequest(w, "%v", err)
			return
		}
		if filepath.Ext(path) != ".png" {
			httputil.BadRequest(w, "only .png files are served")
			return
		}
		if _, err := os.Stat(path); err != nil {
			httputil.NotFound(w, "no such plot")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, path)
	}
}

func listPNG(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
