// Package dashboard serves a small JSON status API over the unified
// data layer: backend health, request statistics, recent logs and host
// resource usage, plus ad-hoc kline and funding queries.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketflow/config"
	"marketflow/internal/unified"
	"marketflow/logger"
)

// Server hosts the status HTTP API.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	data       *unified.Service
	logStore   *logStore
	sampler    *resourceSampler
	httpServer *http.Server
}

// NewServer constructs the status server when the dashboard is enabled.
// When disabled the returned server is nil, and a nil server is safe to
// Run.
func NewServer(cfg config.DashboardConfig, data *unified.Service, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:      cfg,
		log:      log,
		data:     data,
		logStore: logStore,
		sampler:  newResourceSampler(cfg.ResourceHistory, cfg.RefreshInterval, "/", log),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	s.logStore.close()
	s.sampler.stop()
}

// Address reports the listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/api/stats", s.handleStats)
	router.GET("/api/klines", s.handleKlines)
	router.GET("/api/funding", s.handleFunding)
	router.GET("/api/logs", s.handleLogs)
	router.GET("/api/resources", s.handleResources)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	reports := s.data.HealthCheck(c.Request.Context())
	healthy := false
	for _, r := range reports {
		if r.Healthy {
			healthy = true
			break
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "exchanges": reports})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.data.Stats())
}

func (s *Server) handleKlines(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if symbol == "" || timeframe == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	req := unified.DataRequest{
		Symbol:    symbol,
		Timeframe: timeframe,
		Limit:     limit,
		Source:    unified.Source(strings.ToLower(c.DefaultQuery("source", string(unified.SourceAuto)))),
		UseCache:  c.DefaultQuery("cache", "true") != "false",
	}

	res, err := s.data.Get(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleFunding(c *gin.Context) {
	var symbols []string
	for _, raw := range strings.Split(c.Query("symbols"), ",") {
		if sym := strings.TrimSpace(raw); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols query parameter is required"})
		return
	}

	rates, errs := s.data.FundingRates(c.Request.Context(), symbols)
	payload := gin.H{"rates": rates}
	if len(errs) > 0 {
		failed := make(map[string]string, len(errs))
		for sym, err := range errs {
			failed[sym] = err.Error()
		}
		payload["errors"] = failed
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot()})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.sampler.snapshot()})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.HasPrefix(addr, ":") {
		return "0.0.0.0" + addr
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, port)
	}
	// bare host, default port
	return net.JoinHostPort(addr, "8080")
}
