package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_ReportsChecks(t *testing.T) {
	var poolOK atomic.Bool
	poolOK.Store(true)

	s := NewHealthServer("127.0.0.1:0", 10*time.Millisecond, nil)
	s.AddCheck("pool", func(context.Context) bool { return poolOK.Load() })
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	go s.Serve(context.Background())
	defer s.Close()

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	waitStatus := func(service string, want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for check(service) != want {
			if time.Now().After(deadline) {
				t.Fatalf("%q never reached %v", service, want)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	waitStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	waitStatus("pool", healthpb.HealthCheckResponse_SERVING)

	poolOK.Store(false)
	waitStatus("pool", healthpb.HealthCheckResponse_NOT_SERVING)
	waitStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestHealthServer_CloseIsIdempotent(t *testing.T) {
	s := NewHealthServer("127.0.0.1:0", 0, nil)
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	s.Close()
	s.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
