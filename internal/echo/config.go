package echo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lineecho/internal/protocol/frame"
)

var (
	ErrListenAddrRequired       = errors.New("echo: listen address required")
	ErrInvalidHeartbeatInterval = errors.New("echo: invalid heartbeat interval")
	ErrInvalidReadBufferSize    = errors.New("echo: invalid read buffer size")
	ErrInvalidTimeout           = errors.New("echo: invalid timeout")
)

// DefaultListenAddr is the loopback address on the conventional echo port.
const DefaultListenAddr = "127.0.0.1:8888"

// DefaultReadBufferSize is the per-read scratch size.
const DefaultReadBufferSize = 1024

// BackoffConfig defines retry backoff behavior for failed accepts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// HandlerConfig tunes one connection's read/frame/write loop.
type HandlerConfig struct {
	Limits         frame.Limits
	ReadBufferSize int
	IdleTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ServiceConfig configures the standalone echo runtime.
type ServiceConfig struct {
	ListenAddr        string
	AdminListenAddr   string
	AdminToken        string
	CorsOrigins       []string
	LogLevel          string
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownGrace     time.Duration
	MaxFrameBytes     int
	ReadBufferSize    int
	AcceptBackoff     BackoffConfig
	TLS               TLSConfig
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 5 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:        DefaultListenAddr,
		AdminListenAddr:   "",
		CorsOrigins:       []string{"http://localhost:3000"},
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		WriteTimeout:      15 * time.Second,
		ShutdownGrace:     5 * time.Second,
		MaxFrameBytes:     frame.DefaultLimits().MaxFrameBytes,
		ReadBufferSize:    DefaultReadBufferSize,
		AcceptBackoff:     DefaultBackoffConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddrRequired
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReadBufferSize, c.ReadBufferSize)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout=%s", ErrInvalidTimeout, c.IdleTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write_timeout=%s", ErrInvalidTimeout, c.WriteTimeout)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: shutdown_grace=%s", ErrInvalidTimeout, c.ShutdownGrace)
	}
	return c.TLS.Validate()
}

// HandlerConfig derives the per-connection settings.
func (c ServiceConfig) HandlerConfig() HandlerConfig {
	return HandlerConfig{
		Limits:         frame.Limits{MaxFrameBytes: c.MaxFrameBytes},
		ReadBufferSize: c.ReadBufferSize,
		IdleTimeout:    c.IdleTimeout,
		WriteTimeout:   c.WriteTimeout,
	}
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}
