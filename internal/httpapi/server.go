// Package httpapi serves the operational endpoints: health, ingest
// statistics, recent runs and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/conch/internal/db"
	"horse.fit/conch/internal/globaltime"
	"horse.fit/conch/internal/metrics"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 200
	checkTimeout    = 3 * time.Second
)

// StatsSource is the read model behind /api/v1/stats and /api/v1/runs.
type StatsSource interface {
	QueryIngestStats(ctx context.Context, runLimit int) (*db.IngestStats, error)
	RecentIngestRuns(ctx context.Context, limit int) ([]db.RunSummary, error)
}

// Check is one dependency probed by /api/v1/health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Options struct {
	Addr            string
	AllowOrigins    []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	stats   StatsSource
	checks  []Check
	metrics *metrics.Metrics
	logger  zerolog.Logger
	opts    Options
}

func NewServer(stats StatsSource, checks []Check, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Addr) == "" {
		opts.Addr = ":8080"
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		stats:   stats,
		checks:  checks,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}
}

// Handler builds the echo router.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/runs", s.handleRuns)
	return e
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.stats == nil {
		return fmt.Errorf("server is not initialized")
	}

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("conch ops server started")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("conch ops server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}
	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	healthy := true
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			healthy = false
			results[check.Name] = err.Error()
			s.logger.Warn().Err(err).Str("dependency", check.Name).Msg("health check failed")
			continue
		}
		results[check.Name] = "ok"
	}

	data := map[string]any{
		"service": "conch",
		"time":    globaltime.UTC(),
		"checks":  results,
	}
	if !healthy {
		return unavailable(c, "Dependency check failed", data)
	}
	return success(c, data)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.stats.QueryIngestStats(c.Request().Context(), defaultRunLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := defaultRunLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunLimit {
			return failValidation(c, map[string]string{
				"limit": fmt.Sprintf("must be an integer between 1 and %d", maxRunLimit),
			})
		}
		limit = parsed
	}

	runs, err := s.stats.RecentIngestRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query runs failed")
		return internalError(c, "Failed to load runs")
	}
	return success(c, map[string]any{
		"items": runs,
	})
}
