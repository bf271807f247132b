// Package ops serves the process health and metrics endpoints.
package ops

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/observability"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server is the ops HTTP server.
type Server struct {
	addr    string
	log     *logrus.Entry
	started time.Time

	mu     sync.RWMutex
	checks map[string]Check
	queues map[string]int // queue -> concurrency

	engine *gin.Engine
}

// NewServer creates an ops server listening on addr.
func NewServer(addr string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:    addr,
		log:     log.WithField("component", "ops"),
		started: time.Now(),
		checks:  make(map[string]Check),
		queues:  make(map[string]int),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logger())
	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	s.engine = r

	return s
}

// AddCheck registers a named readiness check run by /healthz.
func (s *Server) AddCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// AddQueue records a consumed queue for /status.
func (s *Server) AddQueue(name string, concurrency int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[name] = concurrency
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   string            `json:"time"`
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	checks := make(map[string]Check, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)}
	code := http.StatusOK
	for name, check := range checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string)
		}
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(code, resp)
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status  string         `json:"status"`
	Uptime  string         `json:"uptime"`
	Started time.Time      `json:"started"`
	Queues  map[string]int `json:"queues"`
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	queues := make(map[string]int, len(s.queues))
	for q, n := range s.queues {
		queues[q] = n
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Started: s.started.UTC(),
		Queues:  queues,
	})
}

// logger logs failed requests.
func (s *Server) logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := s.log.WithFields(logrus.Fields{
			"status":  status,
			"latency": time.Since(start),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
		})
		if status >= 500 {
			entry.Error("server error")
		} else if status >= 400 {
			entry.Warn("client error")
		}
	}
}
