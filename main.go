package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketflow/config"
	"marketflow/internal/cache"
	"marketflow/internal/dashboard"
	"marketflow/internal/exchange"
	binanceex "marketflow/internal/exchange/binance"
	okxex "marketflow/internal/exchange/okx"
	"marketflow/internal/market"
	"marketflow/internal/retry"
	"marketflow/internal/stream"
	"marketflow/internal/unified"
	"marketflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Marketflow.Name,
		"version": cfg.Marketflow.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting marketflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.InitCloudWatch("", "", cfg.Logging.DashboardName)
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	store := cache.New(cache.Config{
		Dir:           cfg.Cache.Dir,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		MemoryBudget:  cfg.Cache.MemoryBudget,
		SweepInterval: cfg.Cache.SweepInterval,
		Compress:      cfg.Cache.Compress,
	})

	freshness := exchange.DefaultFreshness()
	if cfg.Unified.FreshnessTicker > 0 {
		freshness.Ticker = cfg.Unified.FreshnessTicker
	}
	if cfg.Unified.FreshnessFunding > 0 {
		freshness.Funding = cfg.Unified.FreshnessFunding
	}

	policy := retry.TunedPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)

	var services []exchange.Service

	if cfg.Source.Okx.Enabled {
		src := cfg.Source.Okx
		svc := okxex.NewService(ctx, okxex.ServiceConfig{
			Client: okxex.ClientConfig{
				BaseURL:         src.RestURL,
				Timeout:         src.ConnectionPool.RequestTimeout,
				RequestsPerSec:  src.RateLimit.RequestsPerSecond,
				Burst:           src.RateLimit.BurstSize,
				MaxIdleConns:    src.ConnectionPool.MaxIdleConns,
				MaxConnsPerHost: src.ConnectionPool.MaxConnsPerHost,
			},
			Credentials: okxex.Credentials{
				APIKey:     src.APIKey,
				SecretKey:  src.SecretKey,
				Passphrase: src.Passphrase,
				Simulated:  src.Simulated,
			},
			Stream:          streamConfig(cfg, policy, src.ProxyURL, src.LocalIP),
			Retry:           policy,
			Freshness:       freshness,
			WatchSymbols:    cfg.Unified.WatchSymbols,
			EnableWebsocket: src.Websocket,
		})
		services = append(services, svc)
	}

	if cfg.Source.Binance.Enabled {
		src := cfg.Source.Binance
		svc := binanceex.NewService(ctx, binanceex.ServiceConfig{
			Client: binanceex.ClientConfig{
				BaseURL:         src.RestURL,
				Timeout:         src.ConnectionPool.RequestTimeout,
				RequestsPerSec:  src.RateLimit.RequestsPerSecond,
				Burst:           src.RateLimit.BurstSize,
				MaxIdleConns:    src.ConnectionPool.MaxIdleConns,
				MaxConnsPerHost: src.ConnectionPool.MaxConnsPerHost,
			},
			Credentials: binanceex.Credentials{
				APIKey:    src.APIKey,
				SecretKey: src.SecretKey,
			},
			Stream:          streamConfig(cfg, policy, src.ProxyURL, src.LocalIP),
			Retry:           policy,
			Freshness:       freshness,
			WatchSymbols:    cfg.Unified.WatchSymbols,
			EnableWebsocket: src.Websocket,
		})
		services = append(services, svc)
	}

	priority := make([]market.Exchange, 0, len(cfg.Unified.Priority))
	for _, name := range cfg.Unified.Priority {
		priority = append(priority, market.Exchange(name))
	}

	data := unified.New(services, store, unified.Config{
		Priority:         priority,
		WatchSymbols:     cfg.Unified.WatchSymbols,
		WatchTimeframes:  cfg.Unified.WatchTimeframes,
		CacheTTL:         cfg.Unified.CacheTTL,
		HotTTL:           cfg.Unified.HotTTL,
		BatchConcurrency: cfg.Unified.BatchConcurrency,
	})

	go statsLoop(ctx, data, log)

	if status := dashboard.NewServer(cfg.Dashboard, data, log); status != nil {
		go func() {
			if err := status.Run(ctx); err != nil {
				log.WithError(err).Error("status server exited")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		data.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("marketflow stopped")
}

// streamConfig feeds the websocket-kind delay schedule from the retry
// policy into the stream reconnect loop.
func streamConfig(cfg *config.Config, policy retry.Policy, proxyURL, localIP string) stream.Config {
	return stream.Config{
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
		PingInterval:      cfg.Stream.PingInterval,
		ReconnectAttempts: uint(cfg.Stream.ReconnectAttempts),
		ReconnectBackoff:  policy.Delays[retry.KindWebSocket],
		ReconnectMaxDelay: policy.MaxDelay,
		ProxyURL:          proxyURL,
		LocalIP:           localIP,
	}
}

// statsLoop periodically logs the unified service counters and backend
// health.
func statsLoop(ctx context.Context, data *unified.Service, log *logger.Log) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := data.Stats()
			log.WithComponent("main").WithFields(logger.Fields{
				"requests":   st.Requests,
				"cache_hits": st.CacheHits,
				"hit_rate":   st.HitRate,
				"mem_bytes":  st.Cache.MemoryBytes,
			}).Info("unified stats")

			for ex, report := range data.HealthCheck(ctx) {
				log.WithComponent("main").WithFields(logger.Fields{
					"exchange": string(ex),
					"healthy":  report.Healthy,
					"errors":   report.Errors,
					"ws":       report.Status.WebsocketEnabled,
				}).Info("exchange health")
			}
		}
	}
}
