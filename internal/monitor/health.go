package monitor

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/camflow/internal/monitoring"
)

// PipelineService is the service name whose health tracks the pipeline.
const PipelineService = "camflow.Pipeline"

// Health serves the standard gRPC health checking protocol. The overall
// status ("") follows the process; PipelineService follows the pipeline.
type Health struct {
	hs *health.Server

	mu       sync.Mutex
	server   *grpc.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHealth creates a health service reporting NOT_SERVING for the
// pipeline until SetServing is called.
func NewHealth() *Health {
	h := &Health{hs: health.NewServer()}
	h.hs.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetServing reports the pipeline as serving or not.
func (h *Health) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(PipelineService, status)
}

// Start listens on addr and serves in the background.
func (h *Health) Start(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.hs)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Diagf("gRPC health server listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil {
			monitoring.Opsf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (h *Health) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (h *Health) Stop() {
	h.hs.Shutdown()
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.mu.Unlock()
	if srv == nil {
		return
	}
	srv.GracefulStop()
	h.wg.Wait()
	monitoring.Diagf("gRPC health server stopped")
}
