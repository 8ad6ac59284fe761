// Package binance implements the Binance USD-M futures backend on top of
// the go-binance SDK: a rate-limited REST wrapper, a websocket stream
// adapter and the hybrid service composing them.
package binance

import (
	"context"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"marketflow/logger"
)

// Credentials for the signed futures endpoints. Empty means public-only.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// ClientConfig controls the REST transport.
type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxIdleConns    int
	MaxConnsPerHost int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 32
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 64
	}
	return c
}

// Client wraps the futures SDK client with a shared rate limiter.
type Client struct {
	fut     *futures.Client
	creds   Credentials
	limiter *rate.Limiter
	log     *logger.Entry
}

func NewClient(cfg ClientConfig, creds Credentials) *Client {
	cfg = cfg.withDefaults()
	fut := futures.NewClient(creds.APIKey, creds.SecretKey)
	fut.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.BaseURL != "" {
		fut.SetApiEndpoint(cfg.BaseURL)
	}
	return &Client{
		fut:     fut,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		log:     logger.GetLogger().WithComponent("binance-rest"),
	}
}

// HasCredentials reports whether signed endpoints can be used.
func (c *Client) HasCredentials() bool {
	return c.creds.APIKey != "" && c.creds.SecretKey != ""
}

// wait blocks on the limiter and counts the request.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	logger.IncrementRestRequest(0)
	return nil
}

func (c *Client) FetchStats(ctx context.Context, symbol string) (*futures.PriceChangeStats, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	stats, err := c.fut.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, errNotFound(symbol)
	}
	return stats[0], nil
}

// errNotFound mirrors the invalid symbol rejection so empty responses
// classify the same way as the API error.
func errNotFound(symbol string) error {
	return &common.APIError{Code: -1121, Message: "Invalid symbol: " + symbol}
}

func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.fut.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	return svc.Do(ctx)
}

func (c *Client) FetchPremiumIndex(ctx context.Context, symbol string) (*futures.PremiumIndex, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	idx, err := c.fut.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, errNotFound(symbol)
	}
	return idx[0], nil
}

func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (*futures.OpenInterest, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.fut.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
}

func (c *Client) FetchDepth(ctx context.Context, symbol string, limit int) (*futures.DepthResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.fut.NewDepthService().Symbol(symbol)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	return svc.Do(ctx)
}

func (c *Client) FetchAggTrades(ctx context.Context, symbol string, limit int) ([]*futures.AggTrade, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.fut.NewAggTradesService().Symbol(symbol)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	return svc.Do(ctx)
}

func (c *Client) FetchExchangeInfo(ctx context.Context) (*futures.ExchangeInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.fut.NewExchangeInfoService().Do(ctx)
}

func (c *Client) FetchBalances(ctx context.Context) ([]*futures.Balance, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.fut.NewGetBalanceService().Do(ctx)
}

func (c *Client) FetchPositions(ctx context.Context) ([]*futures.PositionRisk, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.fut.NewGetPositionRiskService().Do(ctx)
}
