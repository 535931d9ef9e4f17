// Package grpc holds the gRPC plumbing shared by service runtimes.
package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is a gRPC server that only exposes the health service.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	services []string
}

// NewHealthServer builds a traced gRPC server reporting NOT_SERVING for the
// overall status and every named service until SetServing is called.
func NewHealthServer(services ...string) *HealthServer {
	server := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	names := []string{""}
	for _, service := range services {
		if service = strings.TrimSpace(service); service != "" {
			names = append(names, service)
		}
	}
	h := &HealthServer{server: server, health: healthServer, services: names}
	h.SetServing(false)
	return h
}

// SetServing flips every registered service between SERVING and NOT_SERVING.
func (h *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	for _, service := range h.services {
		h.health.SetServingStatus(service, status)
	}
}

// Serve blocks serving on listener until Stop.
func (h *HealthServer) Serve(listener net.Listener) error {
	return h.server.Serve(listener)
}

// Stop marks every service NOT_SERVING and drains open calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// CheckHealth dials addr and returns the reported status of service.
func CheckHealth(ctx context.Context, addr, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	response, err := grpc_health_v1.NewHealthClient(conn).Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, fmt.Errorf("check health of %q: %w", service, err)
	}
	return response.GetStatus(), nil
}
