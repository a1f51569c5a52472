package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusConfig wires the status surface to whatever it reports on.
type StatusConfig struct {
	Node        string
	CORSOrigins []string
	// Status is rendered as JSON by GET /status.
	Status func() any
	// Healthy gates GET /healthz; nil means always healthy.
	Healthy func() bool
}

// NewStatusRouter serves /healthz, /status and /metrics.
func NewStatusRouter(cfg StatusConfig) *gin.Engine {
	RegisterMetrics()
	logger := Logger("status")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(cfg.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Healthy != nil && !cfg.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "node": cfg.Node})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": cfg.Node})
	})
	r.GET("/status", func(c *gin.Context) {
		if cfg.Status == nil {
			c.JSON(http.StatusOK, gin.H{"node": cfg.Node})
			return
		}
		c.JSON(http.StatusOK, cfg.Status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeStatus runs the status surface on addr until ctx is done.
func ServeStatus(ctx context.Context, addr string, cfg StatusConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewStatusRouter(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger := Logger("status")
	logger.Info().Str("addr", addr).Msg("status surface listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
