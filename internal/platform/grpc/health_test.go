package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServerStatusTransitions(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHealthServer("profilecards.runtime", " ")
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	defer func() {
		server.Stop()
		select {
		case <-serveErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	}()

	ctx := context.Background()
	addr := listener.Addr().String()
	status, err := CheckHealth(ctx, addr, "profilecards.runtime")
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %s", status)
	}

	server.SetServing(true)
	for _, service := range []string{"", "profilecards.runtime"} {
		status, err := CheckHealth(ctx, addr, service)
		if err != nil {
			t.Fatalf("check %q: %v", service, err)
		}
		if status != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Fatalf("%q status = %s", service, status)
		}
	}

	if _, err := CheckHealth(ctx, addr, "unknown.service"); err == nil {
		t.Fatal("expected error for unregistered service")
	}
}
