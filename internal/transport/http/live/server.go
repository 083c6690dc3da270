package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"phinance/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server is the control and status surface.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig lists the services the routes delegate to.
type ServerConfig struct {
	Addr   string
	Engine EngineService
	Queue  QueueService
	Risk   RiskService
	Prices PriceFeed
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Queue == nil || cfg.Risk == nil {
		return nil, errors.New("live http server requires engine, queue and risk services")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "halted": cfg.Engine.Halted()})
	})
	NewRouter(cfg.Engine, cfg.Queue, cfg.Risk, cfg.Prices).Register(router.Group("/api"))
	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// requestLogger logs every call so operator actions can be traced.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
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
	logger.Infof("control surface listening on %s", s.addr)

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
