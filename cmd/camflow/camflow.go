package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/camflow/internal/config"
	"github.com/banshee-data/camflow/internal/matcher"
	"github.com/banshee-data/camflow/internal/model"
	"github.com/banshee-data/camflow/internal/monitor"
	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/operator"
	"github.com/banshee-data/camflow/internal/pipeline"
	"github.com/banshee-data/camflow/internal/stream"
	"github.com/banshee-data/camflow/internal/track"
	"github.com/banshee-data/camflow/internal/trackdb"
	"github.com/banshee-data/camflow/internal/version"
)

var (
	configPath   = flag.String("config", "", "Runtime config JSON file (defaults apply when empty)")
	pipelinePath = flag.String("pipeline", "", "Pipeline spec JSON file")
	modelsPath   = flag.String("models", "", "Model registry YAML file")
	dbPath       = flag.String("db", "", "Track store path, overrides track_db_path")
	noDB         = flag.Bool("no-db", false, "Run without the track store")
	plotDir      = flag.String("plot-dir", "", "Directory for latency plots, overrides plot_dir")
	listen       = flag.String("listen", "", "Debug HTTP listen address, overrides http_listen")
	traceLog     = flag.String("trace-log", "", "Write per-frame trace logs to this file")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads the runtime config at path, or returns the defaults when
// path is empty.
func loadConfig(path string) (*config.RuntimeConfig, error) {
	if path == "" {
		return config.DefaultRuntimeConfig(), nil
	}
	return config.LoadRuntimeConfig(path)
}

// applyRuntimeDefaults fills operator parameters that come from the runtime
// config when the spec leaves them unset.
func applyRuntimeDefaults(spec *pipeline.Spec, cfg *config.RuntimeConfig) {
	ttl := json.RawMessage(strconv.Quote(cfg.GetTrackEvictionTTL().String()))
	for i := range spec.Operators {
		o := &spec.Operators[i]
		if o.Type != matcher.ObjectMatcherType {
			continue
		}
		if o.Parameters == nil {
			o.Parameters = make(map[string]json.RawMessage)
		}
		if _, ok := o.Parameters["eviction_ttl"]; !ok {
			o.Parameters["eviction_ttl"] = ttl
		}
	}
}

func pushPolicy(cfg *config.RuntimeConfig) stream.PushPolicy {
	if cfg.GetBlockOnPush() {
		return stream.PushBlock
	}
	return stream.PushDrop
}

func traceTrackEvent(e track.Event) {
	if monitoring.TraceEnabled() {
		monitoring.Tracef("track %s: %s camera=%s tag=%s alias=%s", e.Kind, e.TrackID, e.Camera, e.Tag, e.Alias)
	}
}

func orDefault(flagValue, cfgValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return cfgValue
}

func main() {
	flag.Parse()

	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := trackdb.RunMigrateCommand(flag.Args()[1:], orDefault(*dbPath, cfg.GetTrackDBPath()), os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *pipelinePath == "" {
		log.Fatal("-pipeline is required")
	}

	if *traceLog != "" {
		f, err := os.OpenFile(*traceLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("failed to open trace log: %v", err)
		}
		defer f.Close()
		monitoring.SetLogWriters(os.Stderr, os.Stderr, f)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	spec, err := pipeline.LoadSpec(*pipelinePath)
	if err != nil {
		log.Fatalf("failed to load pipeline: %v", err)
	}
	applyRuntimeDefaults(spec, cfg)

	var models *model.Registry
	if *modelsPath != "" {
		if models, err = model.LoadRegistry(*modelsPath); err != nil {
			log.Fatalf("failed to load models: %v", err)
		}
	}

	var db *trackdb.TrackDB
	sinks := track.Fanout{track.SinkFunc(traceTrackEvent)}
	if !*noDB {
		db, err = trackdb.Open(orDefault(*dbPath, cfg.GetTrackDBPath()), *pipelinePath)
		if err != nil {
			log.Fatalf("failed to open track store: %v", err)
		}
		sinks = append(sinks, db)
	}
	deps := operator.Deps{Models: models, Tracks: sinks}

	p, err := pipeline.Build(spec, pipeline.DefaultRegistry(), pipeline.Options{
		BufferSize: cfg.GetStreamBufferSize(),
		PushPolicy: pushPolicy(cfg),
		Deps:       deps,
	})
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	health := monitor.NewHealth()
	if addr := cfg.GetGRPCListen(); addr != "" {
		if err := health.Start(addr); err != nil {
			log.Fatalf("failed to start health server: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	health.SetServing(true)
	log.Printf("%s running %d operators from %s", version.String(), len(p.Operators()), *pipelinePath)

	plots := orDefault(*plotDir, cfg.GetPlotDir())
	srv := monitor.NewServer(p, db, plots)

	var wg sync.WaitGroup

	// A finite source ends the run once its last frame has drained.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Wait(ctx); err == nil {
			log.Printf("pipeline finished")
			stop()
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if err := srv.Attach(mux); err != nil {
			log.Fatalf("failed to attach debug routes: %v", err)
		}

		server := &http.Server{
			Addr:    orDefault(*listen, cfg.GetHTTPListen()),
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	health.SetServing(false)
	if err := p.Stop(); err != nil {
		log.Printf("pipeline stop: %v", err)
	}
	if plots != "" {
		files, err := srv.WritePlots(plots)
		if err != nil {
			log.Printf("failed to write plots: %v", err)
		} else {
			log.Printf("wrote %d latency plots to %s", len(files), plots)
		}
	}
	if db != nil {
		if dropped, failed := db.Dropped(); dropped+failed > 0 {
			log.Printf("track store: %d events dropped, %d failed", dropped, failed)
		}
		if err := db.Close(); err != nil {
			log.Printf("failed to close track store: %v", err)
		}
	}
	health.Stop()
	log.Printf("Graceful shutdown complete")
}
