package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/lineecho/internal/echo"
	"github.com/danmuck/lineecho/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk echoctl configuration. Durations are Go duration strings.
type File struct {
	ListenAddr      string   `toml:"listen_addr"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	AdminToken      string   `toml:"admin_token"`
	CorsOrigins     []string `toml:"cors_origins"`
	LogLevel        string   `toml:"log_level"`
	Heartbeat       string   `toml:"heartbeat"`
	IdleTimeout     string   `toml:"idle_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	ShutdownGrace   string   `toml:"shutdown_grace"`
	MaxFrameBytes   int      `toml:"max_frame_bytes"`
	ReadBufferSize  int      `toml:"read_buffer_size"`
	TLS             TLSFile  `toml:"tls"`
}

type TLSFile struct {
	Enabled  bool   `toml:"enabled"`
	Mutual   bool   `toml:"mutual"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	CAFile   string `toml:"ca_file"`
}

// Default renders the runtime defaults in file form.
func Default() File {
	cfg := echo.DefaultServiceConfig()
	return File{
		ListenAddr:      cfg.ListenAddr,
		AdminListenAddr: "127.0.0.1:9888",
		CorsOrigins:     cfg.CorsOrigins,
		LogLevel:        "info",
		Heartbeat:       cfg.HeartbeatInterval.String(),
		IdleTimeout:     cfg.IdleTimeout.String(),
		WriteTimeout:    cfg.WriteTimeout.String(),
		ShutdownGrace:   cfg.ShutdownGrace.String(),
		MaxFrameBytes:   cfg.MaxFrameBytes,
		ReadBufferSize:  cfg.ReadBufferSize,
	}
}

// Load strictly decodes path; unknown keys are rejected.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(f); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return f, nil
}

// Validate checks the fields that cannot be checked by decoding alone.
func Validate(f File) error {
	durations := map[string]string{
		"heartbeat":      f.Heartbeat,
		"idle_timeout":   f.IdleTimeout,
		"write_timeout":  f.WriteTimeout,
		"shutdown_grace": f.ShutdownGrace,
	}
	for key, raw := range durations {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if raw := strings.TrimSpace(f.LogLevel); raw != "" {
		if _, ok := logging.ParseLevel(raw); !ok {
			return fmt.Errorf("unknown log_level %q", raw)
		}
	}
	if f.MaxFrameBytes < 0 {
		return fmt.Errorf("max_frame_bytes must not be negative")
	}
	if f.ReadBufferSize < 0 {
		return fmt.Errorf("read_buffer_size must not be negative")
	}
	tls := echo.TLSConfig{
		Enabled:  f.TLS.Enabled,
		Mutual:   f.TLS.Mutual,
		CertFile: f.TLS.CertFile,
		KeyFile:  f.TLS.KeyFile,
		CAFile:   f.TLS.CAFile,
	}
	return tls.Validate()
}
