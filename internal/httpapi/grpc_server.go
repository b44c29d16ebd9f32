package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"wildwatch.app/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer mirrors portal readiness onto the standard gRPC health service,
// both for the overall server ("") and for the portal service name.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	mounted   func() bool
}

func NewHealthServer(r readinessChecker, mounted func() bool) *HealthServer {
	if mounted == nil {
		mounted = func() bool { return true }
	}
	h := &HealthServer{srv: health.NewServer(), readiness: r, mounted: mounted}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Sync probes readiness once and publishes the result.
func (h *HealthServer) Sync(ctx context.Context) bool {
	serving := h.mounted()
	if serving && h.readiness != nil {
		if err := h.readiness.Check(ctx); err != nil {
			obs.Warn("readiness_failed", map[string]any{"err": err})
			serving = false
		}
	}
	if serving {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return serving
}

// Run re-probes every interval until ctx ends, then reports NOT_SERVING for good.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		h.Sync(probeCtx)
		cancel()
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
