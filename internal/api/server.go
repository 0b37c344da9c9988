// Package api exposes the read-only ops endpoints: health, pipeline
// status, and recently dispatched signals.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bybit-funding-bot/internal/bybit"
	"bybit-funding-bot/internal/database"
	"bybit-funding-bot/internal/dispatch"
	"bybit-funding-bot/internal/engine"
	"bybit-funding-bot/internal/signals"
)

// StatusSource is the set of components the status endpoint reads.
type StatusSource interface {
	Stats() engine.Stats
	RecentSignals() []*signals.Signal
}

// SignalStore reads persisted signals and snapshots; nil when persistence
// is disabled.
type SignalStore interface {
	RecentSignals(ctx context.Context, limit int) ([]*signals.Signal, error)
	FundingHistory(ctx context.Context, symbol string, limit int) ([]*database.FundingSnapshot, error)
	HealthCheck(ctx context.Context) error
}

// ServerConfig holds API server settings
type ServerConfig struct {
	Port int
}

// Server is the ops HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	eng      StatusSource
	governor *dispatch.Governor
	stream   *bybit.PublicStream
	store    SignalStore
	universe func() []string
	started  time.Time
}

// NewServer creates a new API server. store may be nil.
func NewServer(config ServerConfig, eng StatusSource, governor *dispatch.Governor,
	stream *bybit.PublicStream, store SignalStore, universe func() []string) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8090"}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:   router,
		config:   config,
		eng:      eng,
		governor: governor,
		stream:   stream,
		store:    store,
		universe: universe,
		started:  time.Now(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/status", s.handleStatus)
	s.router.GET("/api/signals/recent", s.handleRecentSignals)
	s.router.GET("/api/funding/:symbol", s.handleFundingHistory)
}

// Start runs the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.store != nil {
		dbStatus = "healthy"
		if err := s.store.HealthCheck(ctx); err != nil {
			dbStatus = "unhealthy"
		}
	}

	streamStats := s.stream.Stats()

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbStatus,
		"stream":   streamStats.State,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus returns pipeline counters from every component.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":        s.eng.Stats(),
		"governor":      s.governor.Stats(),
		"stream":        s.stream.Stats(),
		"universe_size": len(s.universe()),
	})
}

// handleRecentSignals returns the latest dispatched signals. Reads from
// the database when available, otherwise the in-memory ring.
func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		recent, err := s.store.RecentSignals(ctx, limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"signals": recent, "source": "database"})
			return
		}
		log.Printf("recent signals query failed, falling back to memory: %v", err)
	}

	recent := s.eng.RecentSignals()
	if len(recent) > limit {
		recent = recent[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"signals": recent, "source": "memory"})
}

// handleFundingHistory returns persisted funding snapshots for a symbol,
// newest first. Requires the database.
func (s *Server) handleFundingHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence is not configured"})
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	history, err := s.store.FundingHistory(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "funding history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "snapshots": history})
}
