// Package market defines the exchange-neutral data model shared by every
// converter, cache and service in marketflow. All numeric market values are
// fixed-precision decimals so that converted data survives round-trips
// without float drift.
package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies a supported venue.
type Exchange string

const (
	ExchangeOKX     Exchange = "okx"
	ExchangeBinance Exchange = "binance"
)

// Origin records which path produced a value.
type Origin string

const (
	OriginWebsocket Origin = "websocket"
	OriginRest      Origin = "rest"
	OriginCache     Origin = "cache"
)

// Channel names the realtime data channels.
type Channel string

const (
	ChannelTicker      Channel = "ticker"
	ChannelKline       Channel = "kline"
	ChannelTrade       Channel = "trade"
	ChannelFundingRate Channel = "funding_rate"
	ChannelOrderBook   Channel = "orderbook"
)

// Canonical timeframes. Minute frames are lower-case, hour and above are
// upper-case, matching the notation used across the service boundary.
const (
	Timeframe1m  = "1m"
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe30m = "30m"
	Timeframe1H  = "1H"
	Timeframe4H  = "4H"
	Timeframe1D  = "1D"
	Timeframe1W  = "1W"
)

// Ticker is a point-in-time market snapshot for one symbol.
type Ticker struct {
	Symbol           string          `json:"symbol"`
	Exchange         Exchange        `json:"exchange"`
	Price            decimal.Decimal `json:"price"`
	Change24h        decimal.Decimal `json:"change_24h"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
	High24h          decimal.Decimal `json:"high_24h"`
	Low24h           decimal.Decimal `json:"low_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	QuoteVolume24h   decimal.Decimal `json:"quote_volume_24h"`
	BidPrice         decimal.Decimal `json:"bid_price"`
	BidSize          decimal.Decimal `json:"bid_size"`
	AskPrice         decimal.Decimal `json:"ask_price"`
	AskSize          decimal.Decimal `json:"ask_size"`
	Timestamp        time.Time       `json:"timestamp"`
	Origin           Origin          `json:"origin"`
}

// Clone returns an independent copy.
func (t *Ticker) Clone() *Ticker {
	c := *t
	return &c
}

// Kline is one OHLCV candle. OpenTime identifies the candle.
type Kline struct {
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Timeframe   string          `json:"timeframe"`
	OpenTime    time.Time       `json:"open_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Closed      bool            `json:"closed"`
	Origin      Origin          `json:"origin"`
}

// Validate checks the candle's internal price ordering.
func (k *Kline) Validate() error {
	if k.High.LessThan(k.Open) || k.High.LessThan(k.Close) {
		return fmt.Errorf("kline %s %s: high %s below open/close", k.Symbol, k.OpenTime.Format(time.RFC3339), k.High)
	}
	if k.Low.GreaterThan(k.Open) || k.Low.GreaterThan(k.Close) {
		return fmt.Errorf("kline %s %s: low %s above open/close", k.Symbol, k.OpenTime.Format(time.RFC3339), k.Low)
	}
	if k.Volume.IsNegative() {
		return fmt.Errorf("kline %s %s: negative volume %s", k.Symbol, k.OpenTime.Format(time.RFC3339), k.Volume)
	}
	return nil
}

// FundingRate is the current or predicted funding for a perpetual contract.
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	Exchange        Exchange        `json:"exchange"`
	Rate            decimal.Decimal `json:"rate"`
	NextRate        decimal.Decimal `json:"next_rate"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	IndexPrice      decimal.Decimal `json:"index_price"`
	IntervalHours   int             `json:"interval_hours"`
	NextFundingTime time.Time       `json:"next_funding_time"`
	Timestamp       time.Time       `json:"timestamp"`
	Origin          Origin          `json:"origin"`
}

// OpenInterest is the outstanding contract volume for a symbol.
type OpenInterest struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Contracts decimal.Decimal `json:"contracts"`
	Currency  decimal.Decimal `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    Origin          `json:"origin"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a depth snapshot. Bids are sorted descending by price,
// asks ascending.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Exchange  Exchange    `json:"exchange"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
	Origin    Origin      `json:"origin"`
}

// BestBid returns the top bid level, or false when the side is empty.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false when the side is empty.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Spread returns ask minus bid at the top of book.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice returns the midpoint of the top of book.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Price.Add(bid.Price).Div(decimal.NewFromInt(2)), true
}

// TradeSide is the taker side of an executed trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is a single executed trade.
type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      TradeSide       `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    Origin          `json:"origin"`
}

// Instrument describes a tradable contract.
type Instrument struct {
	Symbol        string          `json:"symbol"`
	Exchange      Exchange        `json:"exchange"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	ContractType  string          `json:"contract_type"`
	State         string          `json:"state"`
	MinSize       decimal.Decimal `json:"min_size"`
	TickSize      decimal.Decimal `json:"tick_size"`
	LotSize       decimal.Decimal `json:"lot_size"`
	ContractValue decimal.Decimal `json:"contract_value"`
}

// Active reports whether the instrument is currently tradable.
func (i *Instrument) Active() bool {
	return i.State == "live" || i.State == "TRADING"
}

// CloneKlines deep-copies a candle slice so callers cannot mutate shared
// cache state.
func CloneKlines(ks []Kline) []Kline {
	if ks == nil {
		return nil
	}
	out := make([]Kline, len(ks))
	copy(out, ks)
	return out
}
