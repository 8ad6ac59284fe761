// Package binance converts Binance USD-M futures payloads into the
// canonical market model. REST responses arrive as go-binance SDK types,
// websocket events as the structs in payload.go.
package binance

import (
	"sort"
	"strconv"
	"strings"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"marketflow/internal/convert"
	"marketflow/internal/market"
	"marketflow/logger"
)

// DefaultInterval is used when a requested timeframe has no Binance mapping.
const DefaultInterval = "1h"

// FundingIntervalHours is fixed for Binance USD-M perpetuals.
const FundingIntervalHours = 8

var intervals = map[string]string{
	market.Timeframe1m:  "1m",
	market.Timeframe5m:  "5m",
	market.Timeframe15m: "15m",
	market.Timeframe30m: "30m",
	market.Timeframe1H:  "1h",
	market.Timeframe4H:  "4h",
	market.Timeframe1D:  "1d",
	market.Timeframe1W:  "1w",
}

// quote assets recognized when mapping Binance symbols back to canonical
// form, longest first.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}

// Converter translates Binance payloads and identifiers.
type Converter struct {
	log *logger.Entry
}

func NewConverter() *Converter {
	return &Converter{log: logger.GetLogger().WithComponent("binance-converter")}
}

// Symbol maps a canonical symbol (BTC-USDT-SWAP) to Binance notation
// (BTCUSDT).
func (c *Converter) Symbol(canonical string) string {
	parts := strings.Split(strings.ToUpper(canonical), "-")
	if len(parts) >= 2 {
		return parts[0] + parts[1]
	}
	return strings.ToUpper(canonical)
}

// CanonicalSymbol maps a Binance symbol back to canonical perpetual form.
func (c *Converter) CanonicalSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "-" + quote + "-SWAP"
		}
	}
	return s
}

// Interval maps a canonical timeframe to a Binance kline interval. Unknown
// frames fall back to DefaultInterval with a warning.
func (c *Converter) Interval(canonical string) string {
	if iv, ok := intervals[canonical]; ok {
		return iv
	}
	norm := normalizeFrame(canonical)
	if iv, ok := intervals[norm]; ok {
		return iv
	}
	c.log.WithFields(logger.Fields{"timeframe": canonical, "fallback": DefaultInterval}).
		Warn("unsupported timeframe, using default")
	return DefaultInterval
}

func normalizeFrame(tf string) string {
	if tf == "" {
		return tf
	}
	unit := tf[len(tf)-1]
	switch unit {
	case 'h', 'H', 'd', 'D', 'w', 'W':
		return tf[:len(tf)-1] + strings.ToUpper(string(unit))
	default:
		return strings.ToLower(tf)
	}
}

// TickerFromStats converts a REST 24hr price change statistic.
func (c *Converter) TickerFromStats(raw *futures.PriceChangeStats, origin market.Origin) (*market.Ticker, error) {
	last, err := convert.Dec("lastPrice", raw.LastPrice)
	if err != nil {
		return nil, err
	}
	change, err := convert.Dec("priceChange", raw.PriceChange)
	if err != nil {
		return nil, err
	}
	pct, err := convert.Dec("priceChangePercent", raw.PriceChangePercent)
	if err != nil {
		return nil, err
	}
	high, err := convert.OptDec("highPrice", raw.HighPrice)
	if err != nil {
		return nil, err
	}
	low, err := convert.OptDec("lowPrice", raw.LowPrice)
	if err != nil {
		return nil, err
	}
	vol, err := convert.OptDec("volume", raw.Volume)
	if err != nil {
		return nil, err
	}
	quoteVol, err := convert.OptDec("quoteVolume", raw.QuoteVolume)
	if err != nil {
		return nil, err
	}
	return &market.Ticker{
		Symbol:           c.CanonicalSymbol(raw.Symbol),
		Exchange:         market.ExchangeBinance,
		Price:            last,
		Change24h:        change,
		ChangePercent24h: pct,
		High24h:          high,
		Low24h:           low,
		Volume24h:        vol,
		QuoteVolume24h:   quoteVol,
		Timestamp:        convert.MillisTimeInt(raw.CloseTime),
		Origin:           origin,
	}, nil
}

// TickerFromEvent converts a 24hrTicker stream event.
func (c *Converter) TickerFromEvent(ev *WsTickerEvent) (*market.Ticker, error) {
	last, err := convert.Dec("c", ev.LastPrice)
	if err != nil {
		return nil, err
	}
	change, err := convert.Dec("p", ev.PriceChange)
	if err != nil {
		return nil, err
	}
	pct, err := convert.Dec("P", ev.PricePercent)
	if err != nil {
		return nil, err
	}
	high, err := convert.OptDec("h", ev.HighPrice)
	if err != nil {
		return nil, err
	}
	low, err := convert.OptDec("l", ev.LowPrice)
	if err != nil {
		return nil, err
	}
	vol, err := convert.OptDec("v", ev.Volume)
	if err != nil {
		return nil, err
	}
	quoteVol, err := convert.OptDec("q", ev.QuoteVolume)
	if err != nil {
		return nil, err
	}
	return &market.Ticker{
		Symbol:           c.CanonicalSymbol(ev.Symbol),
		Exchange:         market.ExchangeBinance,
		Price:            last,
		Change24h:        change,
		ChangePercent24h: pct,
		High24h:          high,
		Low24h:           low,
		Volume24h:        vol,
		QuoteVolume24h:   quoteVol,
		Timestamp:        convert.MillisTimeInt(ev.Time),
		Origin:           market.OriginWebsocket,
	}, nil
}

// Kline converts one REST candle.
func (c *Converter) Kline(symbol, timeframe string, raw *futures.Kline, origin market.Origin) (*market.Kline, error) {
	open, err := convert.Dec("open", raw.Open)
	if err != nil {
		return nil, err
	}
	high, err := convert.Dec("high", raw.High)
	if err != nil {
		return nil, err
	}
	low, err := convert.Dec("low", raw.Low)
	if err != nil {
		return nil, err
	}
	cl, err := convert.Dec("close", raw.Close)
	if err != nil {
		return nil, err
	}
	vol, err := convert.Dec("volume", raw.Volume)
	if err != nil {
		return nil, err
	}
	quoteVol, err := convert.OptDec("quoteAssetVolume", raw.QuoteAssetVolume)
	if err != nil {
		return nil, err
	}
	return &market.Kline{
		Symbol:      c.CanonicalSymbol(symbol),
		Exchange:    market.ExchangeBinance,
		Timeframe:   timeframe,
		OpenTime:    convert.MillisTimeInt(raw.OpenTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cl,
		Volume:      vol,
		QuoteVolume: quoteVol,
		Closed:      raw.CloseTime < time.Now().UnixMilli(),
		Origin:      origin,
	}, nil
}

// Klines converts a REST candle list, which Binance already returns in
// ascending order.
func (c *Converter) Klines(symbol, timeframe string, rows []*futures.Kline, origin market.Origin) ([]market.Kline, error) {
	out := make([]market.Kline, 0, len(rows))
	for _, row := range rows {
		k, err := c.Kline(symbol, timeframe, row, origin)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// KlineFromEvent converts a kline stream event.
func (c *Converter) KlineFromEvent(timeframe string, ev *WsKlineEvent) (*market.Kline, error) {
	open, err := convert.Dec("k.o", ev.Kline.Open)
	if err != nil {
		return nil, err
	}
	high, err := convert.Dec("k.h", ev.Kline.High)
	if err != nil {
		return nil, err
	}
	low, err := convert.Dec("k.l", ev.Kline.Low)
	if err != nil {
		return nil, err
	}
	cl, err := convert.Dec("k.c", ev.Kline.Close)
	if err != nil {
		return nil, err
	}
	vol, err := convert.Dec("k.v", ev.Kline.Volume)
	if err != nil {
		return nil, err
	}
	quoteVol, err := convert.OptDec("k.q", ev.Kline.QuoteVolume)
	if err != nil {
		return nil, err
	}
	return &market.Kline{
		Symbol:      c.CanonicalSymbol(ev.Symbol),
		Exchange:    market.ExchangeBinance,
		Timeframe:   timeframe,
		OpenTime:    convert.MillisTimeInt(ev.Kline.StartTime),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cl,
		Volume:      vol,
		QuoteVolume: quoteVol,
		Closed:      ev.Kline.Closed,
		Origin:      market.OriginWebsocket,
	}, nil
}

// FundingRate converts a REST premium index entry.
func (c *Converter) FundingRate(raw *futures.PremiumIndex, origin market.Origin) (*market.FundingRate, error) {
	rate, err := convert.Dec("lastFundingRate", raw.LastFundingRate)
	if err != nil {
		return nil, err
	}
	mark, err := convert.OptDec("markPrice", raw.MarkPrice)
	if err != nil {
		return nil, err
	}
	index, err := convert.OptDec("indexPrice", raw.IndexPrice)
	if err != nil {
		return nil, err
	}
	return &market.FundingRate{
		Symbol:          c.CanonicalSymbol(raw.Symbol),
		Exchange:        market.ExchangeBinance,
		Rate:            rate,
		MarkPrice:       mark,
		IndexPrice:      index,
		IntervalHours:   FundingIntervalHours,
		NextFundingTime: convert.MillisTimeInt(raw.NextFundingTime),
		Timestamp:       convert.MillisTimeInt(raw.Time),
		Origin:          origin,
	}, nil
}

// FundingRateFromEvent converts a markPrice stream event.
func (c *Converter) FundingRateFromEvent(ev *WsMarkPriceEvent) (*market.FundingRate, error) {
	rate, err := convert.Dec("r", ev.FundingRate)
	if err != nil {
		return nil, err
	}
	mark, err := convert.OptDec("p", ev.MarkPrice)
	if err != nil {
		return nil, err
	}
	index, err := convert.OptDec("i", ev.IndexPrice)
	if err != nil {
		return nil, err
	}
	return &market.FundingRate{
		Symbol:          c.CanonicalSymbol(ev.Symbol),
		Exchange:        market.ExchangeBinance,
		Rate:            rate,
		MarkPrice:       mark,
		IndexPrice:      index,
		IntervalHours:   FundingIntervalHours,
		NextFundingTime: convert.MillisTimeInt(ev.NextFundingTime),
		Timestamp:       convert.MillisTimeInt(ev.Time),
		Origin:          market.OriginWebsocket,
	}, nil
}

// OpenInterest converts a REST open interest response.
func (c *Converter) OpenInterest(raw *futures.OpenInterest, origin market.Origin) (*market.OpenInterest, error) {
	oi, err := convert.Dec("openInterest", raw.OpenInterest)
	if err != nil {
		return nil, err
	}
	return &market.OpenInterest{
		Symbol:    c.CanonicalSymbol(raw.Symbol),
		Exchange:  market.ExchangeBinance,
		Contracts: oi,
		Timestamp: convert.MillisTimeInt(raw.Time),
		Origin:    origin,
	}, nil
}

// OrderBook converts a REST depth response.
func (c *Converter) OrderBook(symbol string, raw *futures.DepthResponse, origin market.Origin) (*market.OrderBook, error) {
	bids := make([]market.BookLevel, 0, len(raw.Bids))
	for _, lvl := range raw.Bids {
		px, err := convert.Dec("bids.price", lvl.Price)
		if err != nil {
			return nil, err
		}
		sz, err := convert.Dec("bids.size", lvl.Quantity)
		if err != nil {
			return nil, err
		}
		bids = append(bids, market.BookLevel{Price: px, Size: sz})
	}
	asks := make([]market.BookLevel, 0, len(raw.Asks))
	for _, lvl := range raw.Asks {
		px, err := convert.Dec("asks.price", lvl.Price)
		if err != nil {
			return nil, err
		}
		sz, err := convert.Dec("asks.size", lvl.Quantity)
		if err != nil {
			return nil, err
		}
		asks = append(asks, market.BookLevel{Price: px, Size: sz})
	}
	return &market.OrderBook{
		Symbol:    c.CanonicalSymbol(symbol),
		Exchange:  market.ExchangeBinance,
		Bids:      bids,
		Asks:      asks,
		Timestamp: convert.MillisTimeInt(raw.Time),
		Origin:    origin,
	}, nil
}

// TradeFromAgg converts a REST aggregated trade.
func (c *Converter) TradeFromAgg(symbol string, raw *futures.AggTrade, origin market.Origin) (*market.Trade, error) {
	px, err := convert.Dec("price", raw.Price)
	if err != nil {
		return nil, err
	}
	sz, err := convert.Dec("quantity", raw.Quantity)
	if err != nil {
		return nil, err
	}
	side := market.TradeBuy
	if raw.IsBuyerMaker {
		side = market.TradeSell
	}
	return &market.Trade{
		ID:        strconv.FormatInt(raw.AggTradeID, 10),
		Symbol:    c.CanonicalSymbol(symbol),
		Exchange:  market.ExchangeBinance,
		Price:     px,
		Size:      sz,
		Side:      side,
		Timestamp: convert.MillisTimeInt(raw.Timestamp),
		Origin:    origin,
	}, nil
}

// TradeFromEvent converts an aggTrade stream event.
func (c *Converter) TradeFromEvent(ev *WsAggTradeEvent) (*market.Trade, error) {
	px, err := convert.Dec("p", ev.Price)
	if err != nil {
		return nil, err
	}
	sz, err := convert.Dec("q", ev.Quantity)
	if err != nil {
		return nil, err
	}
	side := market.TradeBuy
	if ev.IsBuyerMaker {
		side = market.TradeSell
	}
	return &market.Trade{
		ID:        strconv.FormatInt(ev.AggTradeID, 10),
		Symbol:    c.CanonicalSymbol(ev.Symbol),
		Exchange:  market.ExchangeBinance,
		Price:     px,
		Size:      sz,
		Side:      side,
		Timestamp: convert.MillisTimeInt(ev.TradeTime),
		Origin:    market.OriginWebsocket,
	}, nil
}

// Instrument converts one exchangeInfo symbol definition.
func (c *Converter) Instrument(raw *futures.Symbol) (*market.Instrument, error) {
	inst := &market.Instrument{
		Symbol:        c.CanonicalSymbol(raw.Symbol),
		Exchange:      market.ExchangeBinance,
		BaseCurrency:  raw.BaseAsset,
		QuoteCurrency: raw.QuoteAsset,
		ContractType:  string(raw.ContractType),
		State:         raw.Status,
	}
	if f := raw.LotSizeFilter(); f != nil {
		if v, err := convert.OptDec("lotSize.minQty", f.MinQuantity); err == nil {
			inst.MinSize = v
		}
		if v, err := convert.OptDec("lotSize.stepSize", f.StepSize); err == nil {
			inst.LotSize = v
		}
	}
	if f := raw.PriceFilter(); f != nil {
		if v, err := convert.OptDec("priceFilter.tickSize", f.TickSize); err == nil {
			inst.TickSize = v
		}
	}
	return inst, nil
}
