package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the account equity for one currency.
type Balance struct {
	Currency  string          `json:"currency"`
	Exchange  Exchange        `json:"exchange"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Frozen    decimal.Decimal `json:"frozen"`
}

// Position is an open derivatives position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Exchange      Exchange        `json:"exchange"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	Leverage      decimal.Decimal `json:"leverage"`
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderSide and OrderType mirror the exchange order surfaces.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderRequest is a venue-neutral order submission.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	ReduceOnly bool            `json:"reduce_only"`
	ClientID   string          `json:"client_id"`
}

// Order is the exchange's view of a submitted order.
type Order struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Exchange   Exchange        `json:"exchange"`
	Side       OrderSide       `json:"side"`
	Type       OrderType       `json:"type"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	FilledSize decimal.Decimal `json:"filled_size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	State      string          `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
