package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SettlementServiceName is the service name reported by the gRPC health
// service next to the overall ("") status.
const SettlementServiceName = "settlement.v1.SettlementService"

// healthReporter keeps the gRPC health status in step with the
// dependency checks used by the HTTP health route.
type healthReporter struct {
	srv    *health.Server
	check  func(ctx context.Context) error
	logger *zap.Logger
}

func newGRPCServer(check func(ctx context.Context) error, logger *zap.Logger) (*grpc.Server, *healthReporter) {
	grpcServer := grpc.NewServer()

	h := &healthReporter{srv: health.NewServer(), check: check, logger: logger}
	healthpb.RegisterHealthServer(grpcServer, h.srv)
	reflection.Register(grpcServer)

	h.set(healthpb.HealthCheckResponse_SERVING)
	return grpcServer, h
}

func (h *healthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(SettlementServiceName, status)
}

// Refresh runs the dependency check once and publishes the result.
func (h *healthReporter) Refresh(ctx context.Context) {
	if err := h.check(ctx); err != nil {
		h.logger.Warn("dependency check failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
}

// Watch refreshes the status every interval until ctx ends.
func (h *healthReporter) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (h *healthReporter) Shutdown() {
	h.srv.Shutdown()
}
