package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/camflow/internal/httputil"
)

// handleLatencyChart renders one line per operator over its recent
// processing latencies.
func (s *Server) handleLatencyChart(w http.ResponseWriter, r *http.Request) {
	names, hist := s.latencies()
	longest := 0
	for _, h := range hist {
		longest = max(longest, len(h))
	}
	x := make([]int, longest)
	for i := range x {
		x[i] = i
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Operator latency", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Processing latency", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x)
	for _, name := range names {
		h := hist[name]
		data := make([]opts.LineData, len(h))
		for i, v := range h {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(name, data)
	}
	s.renderPage(w, line)
}

// handleTokenChart renders available and held tokens per entrance.
func (s *Server) handleTokenChart(w http.ResponseWriter, r *http.Request) {
	tokens := s.tokens()
	var names []string
	for _, op := range s.p.Operators() {
		if _, ok := tokens[op.Name()]; ok {
			names = append(names, op.Name())
		}
	}
	avail := make([]opts.BarData, len(names))
	held := make([]opts.BarData, len(names))
	dropped := make([]opts.BarData, len(names))
	for i, name := range names {
		t := tokens[name]
		avail[i] = opts.BarData{Value: t.Available}
		held[i] = opts.BarData{Value: t.Held}
		dropped[i] = opts.BarData{Value: t.Dropped}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flow control", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Flow-control tokens", Subtitle: time.Now().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("available", avail).
		AddSeries("held", held).
		AddSeries("dropped", dropped,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	s.renderPage(w, bar)
}

func (s *Server) renderPage(w http.ResponseWriter, c components.Charter) {
	page := components.NewPage()
	page.AddCharts(c)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalError(w, fmt.Errorf("render chart: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
