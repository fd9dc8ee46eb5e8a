// Package restapi implements the read-only HTTP surface over the store
// described in spec.md §4.6: a health probe and three nested views over the
// per-(protocol, network) chains blockhead has collected.
package restapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blockheadhq/blockhead/internal/chain"
	"github.com/blockheadhq/blockhead/internal/config"
	"github.com/blockheadhq/blockhead/internal/store"
)

// Server wraps a gin.Engine bound to a single store. It never writes to the
// store; all mutation happens from the collector side (spec.md §4.6:
// "read-only").
type Server struct {
	engine *gin.Engine
	http   *http.Server
	store  *store.Store
	logger *zap.Logger

	// configuredProtocols is the set of protocols present in the running
	// configuration, used to tell "unknown" apart from "valid enum but not
	// configured" on GET /protocols/:protocol.
	configuredProtocols map[chain.Protocol]bool
}

// New builds a Server listening on addr. cfg supplies the set of protocols
// the running configuration actually enables. limit/burst configure a
// golang.org/x/time/rate ingress limiter shared across all callers; pass 0
// for limit to disable it.
func New(addr string, st *store.Store, cfg *config.Config, logger *zap.Logger, limit rate.Limit, burst int) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	configured := make(map[chain.Protocol]bool, len(cfg.Protocols))
	for protocol := range cfg.Protocols {
		configured[protocol] = true
	}

	s := &Server{
		engine:              engine,
		http:                &http.Server{Addr: addr, Handler: engine},
		store:               st,
		logger:              logger,
		configuredProtocols: configured,
	}

	engine.Use(s.accessLog())
	if limit > 0 {
		engine.Use(s.rateLimit(rate.NewLimiter(limit, burst)))
	}

	engine.GET("/ping", s.handlePing)
	engine.GET("/protocols", s.handleAllProtocols)
	engine.GET("/protocols/:protocol", s.handleProtocol)
	engine.GET("/protocols/:protocol/:network", s.handleProtocolNetwork)

	return s
}

// Start runs ListenAndServe in a background goroutine. Errors other than a
// clean shutdown are logged, matching the registry metrics server's pattern.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("rest api server stopped unexpectedly", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down within the given timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// handleProtocolNetwork serves GET /protocols/:protocol/:network. spec.md §6
// maps both "store uninitialized" and "no stored record" to 500: this view
// never returns 404.
func (s *Server) handleProtocolNetwork(c *gin.Context) {
	protocol := chain.Protocol(c.Param("protocol"))
	network := chain.Network(c.Param("network"))

	bc, err := s.store.Get(protocol, network)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no stored chain for " + string(protocol) + "/" + string(network)})
		return
	}
	c.JSON(http.StatusOK, bc)
}

// handleProtocol serves GET /protocols/:protocol, returning every network
// known for that protocol. spec.md §6 requires 400 for both an unknown
// protocol (fails chain.Protocol.Valid()) and a valid-but-unconfigured one
// (not present in the running configuration), hence the configuredProtocols
// membership check alongside Valid().
func (s *Server) handleProtocol(c *gin.Context) {
	protocol := chain.Protocol(c.Param("protocol"))
	if !protocol.Valid() || !s.configuredProtocols[protocol] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown protocol " + string(protocol)})
		return
	}

	all, err := s.store.AllKnown()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, all[protocol])
}

// handleAllProtocols serves GET /protocols, returning everything the store
// currently holds.
func (s *Server) handleAllProtocols(c *gin.Context) {
	all, err := s.store.AllKnown()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, all)
}
