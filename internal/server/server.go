// Package server exposes the coordinator over HTTP so the spreadsheet's
// macro page and the CLI can trigger uploads and read status.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"formdeploy/internal/browser"
	"formdeploy/internal/config"
	"formdeploy/internal/logging"
	"formdeploy/internal/message"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Relay delivers messages to the coordinator.
type Relay interface {
	SendToBackground(ctx context.Context, from message.Sender, msg message.Message) (message.Response, error)
}

// OptionsStore reads and writes the persisted options.
type OptionsStore interface {
	Current() config.Options
	Update(config.Options) (config.Options, error)
	Reset() (config.Options, error)
}

// Browser reports the state of the controlled browser.
type Browser interface {
	IsConnected() bool
	List() []browser.Tab
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	cfg     config.ServerConfig
	relay   Relay
	options OptionsStore
	browser Browser
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the access logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBrowser exposes browser state on /health and /api/tabs.
func WithBrowser(b Browser) Option {
	return func(s *Server) { s.browser = b }
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, r Relay, options OptionsStore, opts ...Option) *Server {
	s := &Server{
		echo:    echo.New(),
		cfg:     cfg,
		relay:   r,
		options: options,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupMiddleware()
	s.routes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("type", "http"),
				zap.String("remote_ip", c.RealIP()),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api")

	limit := s.cfg.BodyLimit
	if limit == "" {
		limit = "50M"
	}
	trigger := []echo.MiddlewareFunc{middleware.BodyLimit(limit)}
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		trigger = append(trigger, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(s.cfg.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				logging.ServerWarn("Rate limit exceeded for %s", identifier)
				return c.JSON(http.StatusTooManyRequests, message.Fail("too many requests"))
			},
		}))
	}
	api.POST("/messages", s.postMessage, trigger...)

	api.GET("/deployment", s.deployment)
	api.GET("/tabs", s.tabs)
	api.GET("/options", s.getOptions)
	api.PUT("/options", s.putOptions)
	api.DELETE("/options", s.resetOptions)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the configured address until Shutdown.
func (s *Server) Start() error {
	logging.Server("Listening on %s", s.cfg.Listen)
	if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
