package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MarketLens/pkg/http/middleware"
	applogger "MarketLens/pkg/logger"
)

// ServerOption configures Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	host          string
	port          int
	readTimeout   time.Duration
	writeTimeout  time.Duration
	slowThreshold time.Duration
	corsOrigins   []string
}

// Server is the Echo instance serving the API, /metrics and the stream.
type Server struct {
	echo *echo.Echo
	cfg  serverConfig
	log  *applogger.Logger
	ln   net.Listener
	done chan struct{}
}

// NewServer builds the router: request id, recovery, access log and metrics
// run before any handler routes.
func NewServer(log *applogger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		host:          "0.0.0.0",
		port:          8080,
		readTimeout:   10 * time.Second,
		writeTimeout:  10 * time.Second,
		slowThreshold: time.Second,
		corsOrigins:   []string{"*"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.readTimeout
	e.Server.WriteTimeout = cfg.writeTimeout
	e.Validator = NewValidator()
	e.HTTPErrorHandler = envelopeErrors(log)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover(log))
	e.Use(middleware.RequestLogging(log, "/metrics"))
	e.Use(middleware.Metrics(log, cfg.slowThreshold))
	if len(cfg.corsOrigins) > 0 {
		e.Use(middleware.CORS(cfg.corsOrigins))
	}

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, cfg: cfg, log: log, done: make(chan struct{})}
}

// envelopeErrors renders errors that escape handlers, such as unknown routes
// or wrong methods, in the response envelope.
func envelopeErrors(log *applogger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		} else {
			log.Error("unhandled http error", applogger.String("path", c.Path()), applogger.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, APIResponse{Status: code, Message: http.StatusText(code)})
		}
		if err != nil {
			log.Warn("write error response", applogger.Error(err))
		}
	}
}

// Start binds the listen address and serves in the background. Bind errors
// are returned; later serve errors are logged.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.host, fmt.Sprint(s.cfg.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.echo.Listener = ln

	go func() {
		defer close(s.done)
		s.log.Info("http server listening", applogger.String("addr", ln.Addr().String()))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", applogger.Error(err))
		}
	}()
	return nil
}

// Addr reports the bound address; nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func WithHost(host string) ServerOption {
	return func(c *serverConfig) {
		if host != "" {
			c.host = host
		}
	}
}

// WithPort sets the listen port; 0 picks a free one.
func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

// WithTimeouts sets the read and write timeouts; zero keeps the default.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(c *serverConfig) {
		if read > 0 {
			c.readTimeout = read
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

// WithSlowThreshold sets the latency above which requests are logged as slow.
// Zero disables the slow log.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.slowThreshold = d }
}

// WithCORS sets the allowed origins. No origins disables CORS.
func WithCORS(origins ...string) ServerOption {
	return func(c *serverConfig) { c.corsOrigins = origins }
}
