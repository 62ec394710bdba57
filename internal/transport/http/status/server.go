// Package statushttp serves the runner's health, status and metrics over HTTP
// and lets an operator trigger a cycle by hand.
package statushttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mtfsignal/internal/live"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/pkg/symbol"
)

// StatusProvider is the slice of live.Runner the server needs.
type StatusProvider interface {
	Status() live.Status
	Symbols() []string
	Trigger(ctx context.Context, symbol string) error
	ResetBreaker(ctx context.Context) error
}

type ServerConfig struct {
	Addr    string
	Runner  StatusProvider
	Metrics http.Handler
	// TriggerTimeout bounds a manual cycle; zero means 2m.
	TriggerTimeout time.Duration
}

type Server struct {
	addr    string
	router  *gin.Engine
	runner  StatusProvider
	timeout time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("status server requires a runner")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 2 * time.Minute
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, runner: cfg.Runner, timeout: cfg.TriggerTimeout}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/cycle/:symbol", s.handleCycle)
	api.POST("/breaker/reset", s.handleBreakerReset)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return s, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Status())
}

func (s *Server) handleCycle(c *gin.Context) {
	sym, ok := s.resolve(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol " + c.Param("symbol")})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	started := time.Now()
	err := s.runner.Trigger(ctx, sym)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"symbol": sym, "took": time.Since(started).String()})
	case errors.Is(err, live.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, live.ErrUnknownSymbol):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	if err := s.runner.ResetBreaker(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	st := s.runner.Status()
	c.JSON(http.StatusOK, gin.H{"breaker": st.Breaker, "peak_equity": st.Peak, "drawdown": st.Drawdown})
}

// resolve maps a path segment such as "EURUSD", "eur_usd" or "BTCUSDT" onto
// a configured symbol. Slashes cannot appear in a path parameter.
func (s *Server) resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	want := symbol.Normalize(raw)
	for _, sym := range s.runner.Symbols() {
		if strings.EqualFold(sym, raw) || (want != "" && symbol.Normalize(sym) == want) {
			return sym, true
		}
	}
	return "", false
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down with a 5s grace.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] status server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
