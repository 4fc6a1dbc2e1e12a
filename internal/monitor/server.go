// Package monitor exposes a running pipeline over HTTP debug routes and a
// gRPC health service.
package monitor

import (
	"net/http"
	"strconv"

	"tailscale.com/tsweb"

	"github.com/banshee-data/camflow/internal/flowcontrol"
	"github.com/banshee-data/camflow/internal/httputil"
	"github.com/banshee-data/camflow/internal/matcher"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/pipeline"
	"github.com/banshee-data/camflow/internal/trackdb"
	"github.com/banshee-data/camflow/internal/version"
)

type tokenReporter interface {
	Tokens() flowcontrol.TokenStats
}

type matcherReporter interface {
	MatcherStats() matcher.Stats
	Tracks() []matcher.TrackView
	Resolve(id string) (string, bool)
}

type latencyReporter interface {
	LatencyHistory() []float64
}

// Server serves the debug routes for one pipeline.
type Server struct {
	p       *pipeline.Pipeline
	db      *trackdb.TrackDB
	plotDir string
}

// NewServer creates a Server. db may be nil, in which case the track routes
// report 503. An empty plotDir disables the plot routes.
func NewServer(p *pipeline.Pipeline, db *trackdb.TrackDB, plotDir string) *Server {
	return &Server{p: p, db: db, plotDir: plotDir}
}

// Attach mounts the debug routes on mux under /debug/.
func (s *Server) Attach(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("pipeline", "Pipeline graph (Graphviz DOT)", s.handleGraph)
	debug.HandleSilentFunc("pipeline.json", s.handleTopology)
	debug.HandleFunc("operators", "Operator latency and throughput", s.handleOperators)
	debug.HandleFunc("tokens", "Flow-control token accounting", s.handleTokens)
	debug.HandleFunc("matcher", "Object matcher tracks and aliases", s.handleMatcher)
	debug.HandleFunc("tracks", "Tracks recorded in the track store", s.handleTracks)
	debug.HandleFunc("charts/latency", "Operator latency chart", s.handleLatencyChart)
	debug.HandleFunc("charts/tokens", "Token usage chart", s.handleTokenChart)
	debug.HandleSilentFunc("version", s.handleVersion)
	if s.plotDir != "" {
		debug.Handle("plots/", "Operator latency plots (POST to regenerate)", http.HandlerFunc(s.handlePlots))
	}
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(debug); err != nil {
			return err
		}
	}
	monitoring.Diagf("monitor: debug routes attached")
	return nil
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.p.Graph()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	_, _ = w.Write([]byte(g))
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"start_order": s.p.StartOrder(),
		"stop_order":  s.p.StopOrder(),
		"edges":       s.p.Edges(),
	})
}

func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.p.Stats())
}

func (s *Server) tokens() map[string]flowcontrol.TokenStats {
	out := make(map[string]flowcontrol.TokenStats)
	for _, op := range s.p.Operators() {
		if tr, ok := op.(tokenReporter); ok {
			out[op.Name()] = tr.Tokens()
		}
	}
	return out
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, s.tokens())
}

// MatcherReport is the debug view of one ObjectMatcher.
type MatcherReport struct {
	Stats  matcher.Stats       `json:"stats"`
	Tracks []matcher.TrackView `json:"tracks"`
	// Resolved is set when the request asked for ?resolve=<id>.
	Resolved *string `json:"resolved,omitempty"`
}

func (s *Server) handleMatcher(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("resolve")
	out := make(map[string]MatcherReport)
	for _, op := range s.p.Operators() {
		mr, ok := op.(matcherReporter)
		if !ok {
			continue
		}
		rep := MatcherReport{Stats: mr.MatcherStats(), Tracks: mr.Tracks()}
		if id != "" {
			if canon, ok := mr.Resolve(id); ok {
				rep.Resolved = &canon
			}
		}
		out[op.Name()] = rep
	}
	httputil.OK(w, out)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.Unavailable(w, "track store")
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := s.db.Track(id)
		if err != nil {
			httputil.NotFound(w, "%v", err)
			return
		}
		httputil.OK(w, rec)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.db.RecentTracks(limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, recs)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// latencies returns each operator's recent processing latencies, keyed by
// name, in spec order.
func (s *Server) latencies() ([]string, map[string][]float64) {
	var names []string
	out := make(map[string][]float64)
	for _, op := range s.p.Operators() {
		lr, ok := op.(latencyReporter)
		if !ok {
			continue
		}
		names = append(names, op.Name())
		out[op.Name()] = lr.LatencyHistory()
	}
	return names, out
}

var _ latencyReporter = (*operator.Base)(nil)
