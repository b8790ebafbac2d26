package echo

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lineecho/internal/testutil/testlog"
)

func TestDefaultServiceConfigValidates(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8888" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.ReadBufferSize != 1024 {
		t.Fatalf("unexpected read buffer size: %d", cfg.ReadBufferSize)
	}
	hc := cfg.HandlerConfig()
	if hc.Limits.MaxFrameBytes != cfg.MaxFrameBytes || hc.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("unexpected handler config: %+v", hc)
	}
}

func TestServiceConfigValidateRejects(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name   string
		mutate func(*ServiceConfig)
		want   error
	}{
		{"empty listen", func(c *ServiceConfig) { c.ListenAddr = " " }, ErrListenAddrRequired},
		{"zero heartbeat", func(c *ServiceConfig) { c.HeartbeatInterval = 0 }, ErrInvalidHeartbeatInterval},
		{"zero read buffer", func(c *ServiceConfig) { c.ReadBufferSize = 0 }, ErrInvalidReadBufferSize},
		{"negative idle", func(c *ServiceConfig) { c.IdleTimeout = -time.Second }, ErrInvalidTimeout},
		{"negative grace", func(c *ServiceConfig) { c.ShutdownGrace = -time.Second }, ErrInvalidTimeout},
		{"tls without cert", func(c *ServiceConfig) { c.TLS.Enabled = true }, ErrTLSCertFileRequired},
	}
	for _, tc := range cases {
		cfg := DefaultServiceConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestServiceRunContextBindFailureIsFatal(t *testing.T) {
	testlog.Start(t)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	cfg := DefaultServiceConfig()
	cfg.ListenAddr = taken.Addr().String()
	err = NewServiceWithConfig(cfg).RunContext(context.Background())
	if !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
	if !strings.Contains(err.Error(), "already in use") {
		t.Fatalf("expected bind hint in error, got %q", err.Error())
	}
}

func TestServiceRunContextRejectsUnknownLogLevel(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.LogLevel = "chatty"
	if err := NewServiceWithConfig(cfg).RunContext(context.Background()); err == nil {
		t.Fatalf("expected unknown log level to fail bootstrap")
	}
}

func TestServiceServeEchoesAndStops(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := DefaultServiceConfig()
	cfg.ListenAddr = ln.Addr().String()
	cfg.AdminListenAddr = "127.0.0.1:0"
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond
	svc := NewServiceWithConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- svc.Serve(ctx, ln)
	}()

	client := dialTestClient(t, ln.Addr().String())
	defer client.Close()
	if err := client.Send([]byte("service")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := client.ReadExactly(len("service"))
	if err != nil || string(got) != "service" {
		t.Fatalf("unexpected echo: %q err=%v", got, err)
	}

	// Let at least one heartbeat fire.
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve exit err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestServiceServeAdminBindFailure(t *testing.T) {
	testlog.Start(t)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := DefaultServiceConfig()
	cfg.AdminListenAddr = taken.Addr().String()
	err = NewServiceWithConfig(cfg).Serve(context.Background(), ln)
	if err == nil || !strings.Contains(err.Error(), "bind admin") {
		t.Fatalf("expected admin bind failure, got %v", err)
	}
}

func TestAdminRouterRoutes(t *testing.T) {
	testlog.Start(t)

	svc := NewService()
	router := svc.AdminRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected /health status: %d body=%s", rr.Code, rr.Body.String())
	}
	var health map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" || health["version"] != Version {
		t.Fatalf("unexpected health body: %#v", health)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before serve, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected /stats status: %d", rr.Code)
	}
	var stats Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Listening || stats.Accepted != 0 {
		t.Fatalf("unexpected stats before serve: %+v", stats)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "lineecho_") {
		t.Fatalf("unexpected /metrics response: %d", rr.Code)
	}
}

func TestAdminReadyWhileServing(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Server().Serve(ctx, ln)
	}()
	waitFor(t, "listening", svc.Server().Ready)

	rr := httptest.NewRecorder()
	svc.AdminRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), ln.Addr().String()) {
		t.Fatalf("expected bound addr in body, got %s", rr.Body.String())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve exit err: %v", err)
	}
}

func TestAdminTokenGuardsCounters(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.AdminToken = "s3cret"
	router := NewServiceWithConfig(cfg).AdminRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected open /health, got %d", rr.Code)
	}

	for _, path := range []string{"/stats", "/metrics"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, rr.Code)
		}

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s with token: expected 200, got %d", path, rr.Code)
		}
	}
}
