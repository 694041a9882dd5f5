package serverutil

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestRunRequiresServer(t *testing.T) {
	if err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("run without server succeeded")
	}
}

func TestRunRejectsPartialTLSConfig(t *testing.T) {
	cfg := Config{
		Server: &http.Server{Addr: "127.0.0.1:0"},
		TLS:    TLSConfig{CertFile: "cert.pem"},
	}
	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("run with cert but no key succeeded")
	}
}

func TestRunStopsGracefullyOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{
			Server:          &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()},
			Ready:           ready,
			ShutdownTimeout: time.Second,
		})
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server never became ready")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
