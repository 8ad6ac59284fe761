// Package exchange defines the venue-neutral service surface implemented
// by each hybrid (websocket + REST) exchange backend.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"marketflow/internal/market"
	"marketflow/internal/realtime"
)

// Freshness bounds how old a websocket value may be before a read falls
// back to REST.
type Freshness struct {
	Ticker  time.Duration
	Funding time.Duration
}

// DefaultFreshness mirrors the production thresholds.
func DefaultFreshness() Freshness {
	return Freshness{Ticker: 10 * time.Second, Funding: 30 * time.Second}
}

// Status describes one exchange backend.
type Status struct {
	Exchange         market.Exchange `json:"exchange"`
	WebsocketEnabled bool            `json:"websocket_enabled"`
	Realtime         realtime.Status `json:"realtime"`
}

// Service is one exchange's unified market data and trading surface.
// Market reads prefer fresh websocket data and fall back to REST; batch
// funding queries and account/order operations always use REST.
type Service interface {
	Name() market.Exchange

	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, market.Origin, error)
	Ticker(ctx context.Context, symbol string) (*market.Ticker, error)
	Klines(ctx context.Context, symbol, timeframe string, limit int) ([]market.Kline, error)
	FundingRate(ctx context.Context, symbol string) (*market.FundingRate, error)
	FundingRates(ctx context.Context, symbols []string) (map[string]*market.FundingRate, map[string]error)
	OpenInterest(ctx context.Context, symbol string) (*market.OpenInterest, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error)
	OrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error)
	Instruments(ctx context.Context) ([]market.Instrument, error)

	AccountBalance(ctx context.Context) ([]market.Balance, error)
	Positions(ctx context.Context) ([]market.Position, error)
	PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OrderStatus(ctx context.Context, symbol, orderID string) (*market.Order, error)

	// SubscribeSymbols opens realtime streams for symbols, returning the
	// ones that could not be subscribed.
	SubscribeSymbols(ctx context.Context, symbols []string) []string

	Status() Status
	Close()
}
