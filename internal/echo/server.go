package echo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/lineecho/internal/observability"
	"github.com/danmuck/lineecho/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBind           = errors.New("echo: could not bind listener")
	ErrListenerClosed = errors.New("echo: listener closed")
)

// ServerConfig configures the accept loop.
type ServerConfig struct {
	Addr          string
	Handler       HandlerConfig
	ShutdownGrace time.Duration
	AcceptBackoff BackoffConfig
	TLS           *tls.Config
}

// Stats is a point-in-time view of the accept loop and finished connections.
type Stats struct {
	Addr         string `json:"addr"`
	Listening    bool   `json:"listening"`
	Active       int64  `json:"active"`
	Accepted     uint64 `json:"accepted"`
	Closed       uint64 `json:"closed"`
	Stalled      uint64 `json:"stalled"`
	AcceptErrors uint64 `json:"accept_errors"`
	Frames       uint64 `json:"frames"`
	BytesEchoed  uint64 `json:"bytes_echoed"`
}

// Server accepts connections and runs each one through its own Handler
// goroutine. Connections share nothing but the counters below.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	rng     *rand.Rand

	mu   sync.RWMutex
	addr net.Addr

	listening    atomic.Bool
	active       atomic.Int64
	accepted     atomic.Uint64
	closed       atomic.Uint64
	stalled      atomic.Uint64
	acceptErrors atomic.Uint64
	frames       atomic.Uint64
	bytesEchoed  atomic.Uint64

	wg sync.WaitGroup
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:     cfg,
		handler: NewHandler(cfg.Handler),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Listen binds the configured address, wrapping it in TLS when configured.
func (s *Server) Listen() (net.Listener, error) {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		return nil, ErrListenAddrRequired
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w %s (is it already in use?): %w", ErrBind, addr, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	return ln, nil
}

// ListenAndServe binds and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on ln until ctx is cancelled. Failed accepts are
// logged and retried with backoff. On return every connection goroutine has
// exited: handlers get ShutdownGrace to finish, then their connections are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	connCtx, closeConns := context.WithCancel(context.WithoutCancel(ctx))
	defer closeConns()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	s.listening.Store(true)
	defer s.listening.Store(false)
	log.Info().Str("addr", ln.Addr().String()).Msg("echo.Server.Serve listening")

	err := s.acceptLoop(ctx, connCtx, ln)
	s.drain(closeConns)
	log.Info().Str("addr", ln.Addr().String()).Msg("echo.Server.Serve stopped")
	return err
}

func (s *Server) acceptLoop(ctx, connCtx context.Context, ln net.Listener) error {
	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: %w", ErrListenerClosed, err)
			}
			attempt++
			s.acceptErrors.Add(1)
			observability.RecordAcceptError()
			delay := NextBackoffDelay(s.cfg.AcceptBackoff, attempt, s.rng)
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("echo.Server accept failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		s.wg.Add(1)
		go s.handleConn(connCtx, conn)
	}
}

func (s *Server) drain(closeConns context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	if s.cfg.ShutdownGrace > 0 {
		select {
		case <-done:
			return
		case <-time.After(s.cfg.ShutdownGrace):
		}
	}
	if n := s.active.Load(); n > 0 {
		log.Warn().Int64("active_clients", n).Msg("echo.Server closing remaining connections")
	}
	closeConns()
	<-done
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	logger := log.With().Str("remote", remote).Logger()
	active := s.active.Add(1)
	s.accepted.Add(1)
	observability.RecordConnectionOpened()
	logger.Info().Int64("active_clients", active).Msg("connection opened")

	st, err := s.handler.Serve(logger.WithContext(ctx), conn)

	reason := closeReason(ctx, err)
	remaining := s.active.Add(-1)
	s.closed.Add(1)
	s.frames.Add(uint64(st.Frames))
	s.bytesEchoed.Add(uint64(st.BytesEchoed))
	if reason == observability.ReasonStalled {
		s.stalled.Add(1)
	}
	observability.RecordConnectionClosed(reason)

	var event *zerolog.Event
	if reason == observability.ReasonIOError {
		event = logger.Warn().Err(err)
	} else {
		event = logger.Info()
	}
	event.
		Str("reason", reason).
		Int("frames", st.Frames).
		Int("bytes_read", st.BytesRead).
		Int("pending", st.Pending).
		Int64("active_clients", remaining).
		Msg("connection closed")
}

func closeReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrStalled):
		return observability.ReasonStalled
	case errors.Is(err, frame.ErrFrameTooLarge):
		return observability.ReasonFrameTooLarge
	case err != nil:
		return observability.ReasonIOError
	case ctx.Err() != nil:
		return observability.ReasonShutdown
	default:
		return observability.ReasonEOF
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) Ready() bool {
	return s.listening.Load()
}

func (s *Server) Stats() Stats {
	st := Stats{
		Listening:    s.listening.Load(),
		Active:       s.active.Load(),
		Accepted:     s.accepted.Load(),
		Closed:       s.closed.Load(),
		Stalled:      s.stalled.Load(),
		AcceptErrors: s.acceptErrors.Load(),
		Frames:       s.frames.Load(),
		BytesEchoed:  s.bytesEchoed.Load(),
	}
	if addr := s.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}
