package main

import (
	"flag"
	"os"
	"strings"

	"github.com/danmuck/lineecho/internal/echo"
	"github.com/danmuck/lineecho/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to echoctl config.toml")
	addr := flag.String("addr", "", "echo listen address (overrides config)")
	admin := flag.String("admin", "", "admin HTTP listen address (overrides config)")
	quiet := flag.Bool("quiet", false, "only log warnings and errors")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := echo.DefaultServiceConfig()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("echoctl: config")
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(*admin); v != "" {
		cfg.AdminListenAddr = v
	}
	if *quiet {
		cfg.LogLevel = "warn"
	}

	svc := echo.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		log.Error().Err(err).Msg("echoctl: exit")
		os.Exit(1)
	}
}
