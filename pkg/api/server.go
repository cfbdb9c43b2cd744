// Package api provides the HTTP REST API of a proto-z node
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/node"
)

// Server represents the HTTP API server of a node
type Server struct {
	link       node.Link
	ledger     *ledger.Ledger
	router     *gin.Engine
	registry   *prometheus.Registry
	port       int
	httpServer *http.Server
	startTime  time.Time
	limiter    *RateLimiter
	transport  string
	timeouts   [2]time.Duration
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Transport    string // Transport description reported by /node/info
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP API server for link. l must be the ledger
// link's endpoint records into.
func NewServer(link node.Link, l *ledger.Ledger, config *Config) (*Server, error) {
	if link == nil || l == nil {
		return nil, fmt.Errorf("api: link and ledger are required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	if err := registry.Register(ledger.NewCollector(l)); err != nil {
		return nil, fmt.Errorf("failed to register ledger collector: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}

	server := &Server{
		link:      link,
		ledger:    l,
		router:    gin.New(),
		registry:  registry,
		port:      config.Port,
		startTime: time.Now(),
		transport: config.Transport,
		timeouts:  [2]time.Duration{config.ReadTimeout, config.WriteTimeout},
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server, nil
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Registry returns the Prometheus registry served on /metrics
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}

	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/send", s.handleSend)

		ledgerGroup := v1.Group("/ledger")
		{
			ledgerGroup.GET("", s.handleLedger)
			ledgerGroup.GET("/:location/:field1/:field2/:field3", s.handleLedgerEntry)
		}

		nodeGroup := v1.Group("/node")
		{
			nodeGroup.GET("/info", s.handleNodeInfo)
		}
	}

	// Outside versioning
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// Start serves HTTP until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  s.timeouts[0],
		WriteTimeout: s.timeouts[1],
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API server starting on port %d...", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.stopLimiter()
		return err
	}

	log.Println("Shutting down HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.stopLimiter()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	s.stopLimiter()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) stopLimiter() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
