// Package api serves Herald's management HTTP API on echo.
//
// Every /v1 route acts on behalf of the owner named by the X-Owner-ID
// header, which an upstream gateway sets after authenticating the caller.
// Records belonging to another owner answer 404.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/herald"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
)

// HeaderOwnerID carries the authenticated owner.
const HeaderOwnerID = "X-Owner-ID"

// Config configures the API server.
type Config struct {
	// TestLimit and TestWindow bound manual test triggers per caller.
	TestLimit  int
	TestWindow time.Duration

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// LogLevel sets echo's internal logger level.
	LogLevel log.Lvl
}

// DefaultConfig returns 100 test triggers per minute.
func DefaultConfig() Config {
	return Config{
		TestLimit:  100,
		TestWindow: time.Minute,
		LogLevel:   log.INFO,
	}
}

// Server is the management API.
type Server struct {
	herald  *herald.Herald
	limiter ratelimit.Limiter
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	echo    *echo.Echo
}

// New builds the server and its routes. limiter and metrics may be nil; a
// nil limiter disables limiting of test triggers.
func New(h *herald.Herald, limiter ratelimit.Limiter, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(cfg.LogLevel)
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		herald:  h,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		echo:    e,
	}

	e.Use(echomw.Recover(), requestID(), requestLogger(logger))

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1", ownerAuth())

	v1.POST("/subscriptions", s.createSubscription)
	v1.GET("/subscriptions", s.listSubscriptions)
	v1.GET("/subscriptions/:id", s.getSubscription)
	v1.PATCH("/subscriptions/:id", s.updateSubscription)
	v1.DELETE("/subscriptions/:id", s.deleteSubscription)
	v1.POST("/subscriptions/:id/rotate-secret", s.rotateSecret)
	v1.POST("/subscriptions/:id/test", s.testSubscription, s.rateLimit("test"))
	v1.GET("/subscriptions/:id/deliveries", s.listDeliveries)

	v1.GET("/deliveries/:id", s.getDelivery)
	v1.GET("/deliveries/:id/attempts", s.listAttempts)
	v1.POST("/deliveries/:id/replay", s.replayDelivery)

	v1.GET("/stats", s.stats)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("api listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// SetLogLevel changes echo's internal logger level.
func (s *Server) SetLogLevel(lvl log.Lvl) {
	s.echo.Logger.SetLevel(lvl)
}

func (s *Server) health(c echo.Context) error {
	if err := s.herald.Store().Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
