package echo

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/lineecho/internal/auth"
	"github.com/danmuck/lineecho/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// AdminRouter exposes health, readiness, counters and prometheus metrics.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog("echo", observability.InitLogger("lineecho.admin")))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.server.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   s.server.Ready(),
			"addr":    s.server.Stats().Addr,
			"version": Version,
		})
	})

	// Health and readiness stay open for probes; counters need the token when set.
	guarded := r.Group("/")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		guarded.Use(auth.RequireBearer(auth.StaticToken{Token: token}))
	}
	guarded.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.server.Stats())
	})
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// serveAdmin runs the admin HTTP endpoint on ln until ctx is cancelled.
func (s *Service) serveAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("echo.admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
