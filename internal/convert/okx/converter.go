// Package okx converts raw OKX v5 payloads into the canonical market model.
package okx

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketflow/internal/convert"
	"marketflow/internal/market"
	"marketflow/logger"
)

// DefaultTimeframe is used when a requested timeframe has no OKX mapping.
const DefaultTimeframe = "1H"

// timeframes maps canonical timeframes to OKX bar values. OKX uses the
// canonical notation, so the table is the identity over supported frames.
var timeframes = map[string]string{
	market.Timeframe1m:  "1m",
	market.Timeframe5m:  "5m",
	market.Timeframe15m: "15m",
	market.Timeframe30m: "30m",
	market.Timeframe1H:  "1H",
	market.Timeframe4H:  "4H",
	market.Timeframe1D:  "1D",
	market.Timeframe1W:  "1W",
}

// FundingIntervalHours is fixed for OKX perpetual swaps.
const FundingIntervalHours = 8

// Converter translates OKX payloads and identifiers.
type Converter struct {
	log *logger.Entry
}

func NewConverter() *Converter {
	return &Converter{log: logger.GetLogger().WithComponent("okx-converter")}
}

// Symbol returns the OKX instrument id for a canonical symbol. Canonical
// symbols already use OKX notation (BTC-USDT-SWAP).
func (c *Converter) Symbol(canonical string) string {
	return strings.ToUpper(canonical)
}

// CanonicalSymbol maps an OKX instrument id back to canonical form.
func (c *Converter) CanonicalSymbol(instID string) string {
	return strings.ToUpper(instID)
}

// Timeframe maps a canonical timeframe to the OKX bar parameter. Unknown
// frames fall back to DefaultTimeframe with a warning.
func (c *Converter) Timeframe(canonical string) string {
	if bar, ok := timeframes[canonical]; ok {
		return bar
	}
	if bar, ok := timeframes[normalizeFrame(canonical)]; ok {
		return bar
	}
	c.log.WithFields(logger.Fields{"timeframe": canonical, "fallback": DefaultTimeframe}).
		Warn("unsupported timeframe, using default")
	return DefaultTimeframe
}

// normalizeFrame folds case: hour and above upper, minutes lower.
func normalizeFrame(tf string) string {
	if tf == "" {
		return tf
	}
	unit := tf[len(tf)-1]
	switch unit {
	case 'h', 'H', 'd', 'D', 'w', 'W', 'M':
		return tf[:len(tf)-1] + strings.ToUpper(string(unit))
	default:
		return strings.ToLower(tf)
	}
}

// Ticker converts a raw ticker. The 24h change is derived from last and
// open24h since OKX does not send it.
func (c *Converter) Ticker(raw *RawTicker, origin market.Origin) (*market.Ticker, error) {
	last, err := convert.Dec("last", raw.Last)
	if err != nil {
		return nil, err
	}
	open24h, err := convert.Dec("open24h", raw.Open24h)
	if err != nil {
		return nil, err
	}
	high, err := convert.OptDec("high24h", raw.High24h)
	if err != nil {
		return nil, err
	}
	low, err := convert.OptDec("low24h", raw.Low24h)
	if err != nil {
		return nil, err
	}
	vol, err := convert.OptDec("vol24h", raw.Vol24h)
	if err != nil {
		return nil, err
	}
	volCcy, err := convert.OptDec("volCcy24h", raw.VolCcy24h)
	if err != nil {
		return nil, err
	}
	bidPx, err := convert.OptDec("bidPx", raw.BidPx)
	if err != nil {
		return nil, err
	}
	bidSz, err := convert.OptDec("bidSz", raw.BidSz)
	if err != nil {
		return nil, err
	}
	askPx, err := convert.OptDec("askPx", raw.AskPx)
	if err != nil {
		return nil, err
	}
	askSz, err := convert.OptDec("askSz", raw.AskSz)
	if err != nil {
		return nil, err
	}
	ts, err := convert.MillisTime("ts", raw.TS)
	if err != nil {
		return nil, err
	}

	change, pct := convert.ChangeFromOpen(last, open24h)
	return &market.Ticker{
		Symbol:           c.CanonicalSymbol(raw.InstID),
		Exchange:         market.ExchangeOKX,
		Price:            last,
		Change24h:        change,
		ChangePercent24h: pct,
		High24h:          high,
		Low24h:           low,
		Volume24h:        vol,
		QuoteVolume24h:   volCcy,
		BidPrice:         bidPx,
		BidSize:          bidSz,
		AskPrice:         askPx,
		AskSize:          askSz,
		Timestamp:        ts,
		Origin:           origin,
	}, nil
}

// Klines converts candle rows and returns them in ascending open-time
// order. OKX returns the newest candle first.
func (c *Converter) Klines(symbol, timeframe string, rows []RawKline, origin market.Origin) ([]market.Kline, error) {
	out := make([]market.Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, &convert.DataValidationError{
				Field: fmt.Sprintf("candle[%d]", i), Value: strings.Join(row, ","),
				Err: fmt.Errorf("want at least 6 columns, got %d", len(row)),
			}
		}
		ts, err := convert.MillisTime("candle.ts", row[0])
		if err != nil {
			return nil, err
		}
		open, err := convert.Dec("candle.open", row[1])
		if err != nil {
			return nil, err
		}
		high, err := convert.Dec("candle.high", row[2])
		if err != nil {
			return nil, err
		}
		low, err := convert.Dec("candle.low", row[3])
		if err != nil {
			return nil, err
		}
		cl, err := convert.Dec("candle.close", row[4])
		if err != nil {
			return nil, err
		}
		vol, err := convert.Dec("candle.volume", row[5])
		if err != nil {
			return nil, err
		}
		k := market.Kline{
			Symbol:    c.CanonicalSymbol(symbol),
			Exchange:  market.ExchangeOKX,
			Timeframe: timeframe,
			OpenTime:  ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cl,
			Volume:    vol,
			Origin:    origin,
		}
		if len(row) > 7 {
			if qv, err := convert.OptDec("candle.volCcyQuote", row[7]); err == nil {
				k.QuoteVolume = qv
			}
		}
		if len(row) > 8 {
			k.Closed = row[8] == "1"
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// FundingRate converts a funding payload. OKX swaps fund every 8 hours.
func (c *Converter) FundingRate(raw *RawFundingRate, origin market.Origin) (*market.FundingRate, error) {
	rate, err := convert.Dec("fundingRate", raw.FundingRate)
	if err != nil {
		return nil, err
	}
	next, err := convert.OptDec("nextFundingRate", raw.NextFundingRate)
	if err != nil {
		return nil, err
	}
	var nextTime time.Time
	if raw.FundingTime != "" {
		if nextTime, err = convert.MillisTime("fundingTime", raw.FundingTime); err != nil {
			return nil, err
		}
	}
	ts := time.Now()
	if raw.TS != "" {
		if ts, err = convert.MillisTime("ts", raw.TS); err != nil {
			return nil, err
		}
	}
	return &market.FundingRate{
		Symbol:          c.CanonicalSymbol(raw.InstID),
		Exchange:        market.ExchangeOKX,
		Rate:            rate,
		NextRate:        next,
		IntervalHours:   FundingIntervalHours,
		NextFundingTime: nextTime,
		Timestamp:       ts,
		Origin:          origin,
	}, nil
}

// MarkPrice parses a mark-price payload into a price value.
func (c *Converter) MarkPrice(raw *RawMarkPrice) (decimal.Decimal, error) {
	return convert.Dec("markPx", raw.MarkPx)
}

// OpenInterest converts an open-interest payload.
func (c *Converter) OpenInterest(raw *RawOpenInterest, origin market.Origin) (*market.OpenInterest, error) {
	oi, err := convert.Dec("oi", raw.Oi)
	if err != nil {
		return nil, err
	}
	oiCcy, err := convert.OptDec("oiCcy", raw.OiCcy)
	if err != nil {
		return nil, err
	}
	ts, err := convert.MillisTime("ts", raw.TS)
	if err != nil {
		return nil, err
	}
	return &market.OpenInterest{
		Symbol:    c.CanonicalSymbol(raw.InstID),
		Exchange:  market.ExchangeOKX,
		Contracts: oi,
		Currency:  oiCcy,
		Timestamp: ts,
		Origin:    origin,
	}, nil
}

// OrderBook converts a depth snapshot. Bids stay descending, asks ascending,
// as delivered by OKX.
func (c *Converter) OrderBook(symbol string, raw *RawOrderBook, origin market.Origin) (*market.OrderBook, error) {
	ts, err := convert.MillisTime("ts", raw.TS)
	if err != nil {
		return nil, err
	}
	bids, err := levels("bids", raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := levels("asks", raw.Asks)
	if err != nil {
		return nil, err
	}
	return &market.OrderBook{
		Symbol:    c.CanonicalSymbol(symbol),
		Exchange:  market.ExchangeOKX,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
		Origin:    origin,
	}, nil
}

func levels(side string, rows [][]string) ([]market.BookLevel, error) {
	out := make([]market.BookLevel, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, &convert.DataValidationError{
				Field: fmt.Sprintf("%s[%d]", side, i), Value: strings.Join(row, ","),
				Err: fmt.Errorf("want price and size"),
			}
		}
		px, err := convert.Dec(side+".price", row[0])
		if err != nil {
			return nil, err
		}
		sz, err := convert.Dec(side+".size", row[1])
		if err != nil {
			return nil, err
		}
		out = append(out, market.BookLevel{Price: px, Size: sz})
	}
	return out, nil
}

// Trade converts one executed trade.
func (c *Converter) Trade(raw *RawTrade, origin market.Origin) (*market.Trade, error) {
	px, err := convert.Dec("px", raw.Px)
	if err != nil {
		return nil, err
	}
	sz, err := convert.Dec("sz", raw.Sz)
	if err != nil {
		return nil, err
	}
	ts, err := convert.MillisTime("ts", raw.TS)
	if err != nil {
		return nil, err
	}
	side := market.TradeBuy
	if raw.Side == "sell" {
		side = market.TradeSell
	}
	return &market.Trade{
		ID:        raw.TradeID,
		Symbol:    c.CanonicalSymbol(raw.InstID),
		Exchange:  market.ExchangeOKX,
		Price:     px,
		Size:      sz,
		Side:      side,
		Timestamp: ts,
		Origin:    origin,
	}, nil
}

// Instrument converts a contract definition.
func (c *Converter) Instrument(raw *RawInstrument) (*market.Instrument, error) {
	minSz, err := convert.OptDec("minSz", raw.MinSz)
	if err != nil {
		return nil, err
	}
	tickSz, err := convert.OptDec("tickSz", raw.TickSz)
	if err != nil {
		return nil, err
	}
	lotSz, err := convert.OptDec("lotSz", raw.LotSz)
	if err != nil {
		return nil, err
	}
	ctVal, err := convert.OptDec("ctVal", raw.CtVal)
	if err != nil {
		return nil, err
	}
	base := raw.BaseCcy
	if base == "" {
		base = raw.CtValCcy
	}
	quote := raw.QuoteCcy
	if quote == "" {
		quote = raw.SettleCcy
	}
	return &market.Instrument{
		Symbol:        c.CanonicalSymbol(raw.InstID),
		Exchange:      market.ExchangeOKX,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		ContractType:  raw.CtType,
		State:         raw.State,
		MinSize:       minSz,
		TickSize:      tickSz,
		LotSize:       lotSz,
		ContractValue: ctVal,
	}, nil
}
