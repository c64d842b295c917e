// Package api exposes series, stop references and position plans over
// HTTP and streams series updates over WebSocket.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"risk-desk/internal/engine"
	"risk-desk/internal/events"
	"risk-desk/internal/monitor"
	"risk-desk/pkg/logger"
)

// Server wires HTTP endpoints around the desk engine and the event bus.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Limiter *IPLimiter
	Log     *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// Options configures NewServer.
type Options struct {
	RateLimit      float64 // requests per second per IP, <= 0 disables
	RateBurst      int
	RequestTimeout time.Duration // default 30s
	Log            *zap.Logger
}

func NewServer(eng engine.Service, bus *events.Bus, metrics *monitor.SystemMetrics, opts Options) *Server {
	log := logger.OrNop(opts.Log).With(zap.String("component", "api"))
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	var limiter *IPLimiter
	if opts.RateLimit > 0 {
		limiter = NewIPLimiter(opts.RateLimit, opts.RateBurst)
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                    // Panic recovery (first)
	r.Use(RequestIDMiddleware())             // Request ID tracking
	r.Use(RequestLogger(metrics, log))       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiter, log)) // Rate limiting
	r.Use(CORSMiddleware())                  // CORS (last before routes)

	s := &Server{
		Router:  r,
		Engine:  eng,
		Bus:     bus,
		Metrics: metrics,
		Limiter: limiter,
		Log:     log,
	}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/profiles", s.getProfiles)

		api.GET("/series", s.listSeries)
		one := api.Group("/series/:exchange/:symbol/:timeframe")
		{
			one.GET("", s.getSeries)
			one.POST("/more", s.loadMore)
			one.POST("/reset", s.resetSeries)
			one.DELETE("", s.releaseSeries)
			one.GET("/stop", s.getStop)
		}

		api.POST("/plan", s.createPlan)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
