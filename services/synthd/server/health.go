package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	nativecommon "otcswap/native/common"
	"otcswap/native/synth"
)

// HealthServiceName is the gRPC health service reporting whether mint and
// burn can currently succeed.
const HealthServiceName = "otcswap.synth"

const defaultHealthInterval = 10 * time.Second

// Health mirrors engine readiness into the standard gRPC health service.
type Health struct {
	engine   *synth.Engine
	pauses   nativecommon.PauseView
	server   *health.Server
	interval time.Duration
	logger   *log.Logger
}

// NewHealth constructs the health reporter. The service starts NOT_SERVING
// until the first Refresh.
func NewHealth(engine *synth.Engine, pauses nativecommon.PauseView, interval time.Duration, logger *log.Logger) *Health {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	srv := health.NewServer()
	srv.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{engine: engine, pauses: pauses, server: srv, interval: interval, logger: logger}
}

// Refresh recomputes and publishes the serving status.
func (h *Health) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	reason := ""
	snapshot, err := h.engine.Status(ctx)
	switch {
	case err != nil:
		status, reason = healthpb.HealthCheckResponse_NOT_SERVING, synth.Reason(err)
	case snapshot.Config.Paused:
		status, reason = healthpb.HealthCheckResponse_NOT_SERVING, "paused"
	case h.pauses != nil && h.pauses.IsPaused(synth.ModuleName()):
		status, reason = healthpb.HealthCheckResponse_NOT_SERVING, "operator paused"
	case snapshot.PriceError != nil:
		status, reason = healthpb.HealthCheckResponse_NOT_SERVING, synth.Reason(snapshot.PriceError)
	}
	if reason != "" {
		h.logger.Printf("synthd: health not serving: %s", reason)
	}
	h.server.SetServingStatus(HealthServiceName, status)
	return status
}

// Run refreshes the status on every interval until ctx is cancelled.
func (h *Health) Run(ctx context.Context) {
	h.Refresh(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// ServeGRPC hosts the health service on addr until ctx is cancelled.
func ServeGRPC(ctx context.Context, addr string, tlsCfg TLSConfig, h *Health, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	options := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	}
	if tlsCfg.enabled() {
		creds, err := credentials.NewServerTLSFromFile(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		options = append(options, grpc.Creds(creds))
	}
	grpcServer := grpc.NewServer(options...)
	healthpb.RegisterHealthServer(grpcServer, h.server)

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("synthd: grpc health listening on %s", addr)
		serverErr <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			grpcServer.Stop()
		}
		return nil
	case err := <-serverErr:
		return err
	}
}
