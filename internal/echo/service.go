package echo

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/lineecho/internal/logging"
	"github.com/rs/zerolog/log"
)

// Service runs the echo server lifecycle as a standalone process.
type Service struct {
	cfg     ServiceConfig
	server  *Server
	started time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{
		cfg:     cfg,
		started: time.Now(),
		server: NewServer(ServerConfig{
			Addr:          cfg.ListenAddr,
			Handler:       cfg.HandlerConfig(),
			ShutdownGrace: cfg.ShutdownGrace,
			AcceptBackoff: cfg.AcceptBackoff,
		}),
	}
}

func (s *Service) Server() *Server {
	return s.server
}

// Run blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext validates config, binds the echo listener and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	ln, err := s.server.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if raw := strings.TrimSpace(s.cfg.LogLevel); raw != "" {
		lvl, ok := logging.ParseLevel(raw)
		if !ok {
			return fmt.Errorf("echo: unknown log level %q", raw)
		}
		logging.SetLevel(lvl)
	}
	tlsCfg, err := s.cfg.TLS.ServerTLSConfig()
	if err != nil {
		return err
	}
	s.server.cfg.TLS = tlsCfg
	log.Info().
		Str("listen_addr", s.cfg.ListenAddr).
		Str("admin_addr", s.cfg.AdminListenAddr).
		Bool("tls", tlsCfg != nil).
		Int("max_frame_bytes", s.cfg.MaxFrameBytes).
		Msg("echo.Service.bootstrap ready")
	return nil
}

// Serve runs the echo server on ln plus the optional admin endpoint and
// heartbeat, returning when ctx is cancelled or either server fails.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultServiceConfig().HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	echoErr := make(chan error, 1)
	adminErr := make(chan error, 1)
	go func() {
		echoErr <- s.server.Serve(ctx, ln)
	}()
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			<-echoErr
			return fmt.Errorf("echo: bind admin %s: %w", addr, err)
		}
		go func() {
			adminErr <- s.serveAdmin(ctx, adminLn)
		}()
	}

	for {
		select {
		case err := <-echoErr:
			cancel()
			log.Info().Msg("echo.Service.serve shutdown")
			return err
		case err := <-adminErr:
			if err != nil {
				cancel()
				<-echoErr
				return err
			}
		case <-ticker.C:
			st := s.server.Stats()
			log.Info().
				Str("addr", st.Addr).
				Int64("active_clients", st.Active).
				Uint64("accepted", st.Accepted).
				Uint64("frames", st.Frames).
				Uint64("stalled", st.Stalled).
				Uint64("accept_errors", st.AcceptErrors).
				Msg("echo.Service.heartbeat")
		}
	}
}
