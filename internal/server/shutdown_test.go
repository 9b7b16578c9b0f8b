package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"sales-insight/internal/config"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{ReadTimeout: time.Second, ShutdownTimeout: 2 * time.Second}
}

func TestGracefulServer_ShutdownRunsHooks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})}
	gs := NewGracefulServer(srv, slog.New(slog.NewTextHandler(io.Discard, nil)), testServerConfig())

	var hooks atomic.Int32
	gs.RegisterShutdownHook(func(context.Context) error { hooks.Add(1); return nil })
	gs.RegisterShutdownHook(func(context.Context) error { hooks.Add(1); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
	if hooks.Load() != 2 {
		t.Errorf("ran %d hooks, want 2", hooks.Load())
	}
}

func TestGracefulServer_HookError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	gs := NewGracefulServer(&http.Server{Handler: http.NotFoundHandler()}, slog.New(slog.NewTextHandler(io.Discard, nil)), testServerConfig())

	boom := errors.New("boom")
	gs.RegisterShutdownHook(func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := gs.Serve(ctx, ln); !errors.Is(err, boom) {
		t.Errorf("Serve() error = %v, want %v", err, boom)
	}
}
