package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	convbin "marketflow/internal/convert/binance"
	"marketflow/internal/market"
	"marketflow/internal/realtime"
)

const wsBaseURL = "wss://fstream.binance.com/ws"

// Adapter maps canonical channels onto Binance futures stream names. All
// subscriptions share the raw /ws endpoint and are added with SUBSCRIBE
// frames.
type Adapter struct {
	conv   *convbin.Converter
	wsURL  string
	nextID atomic.Int64
}

func NewAdapter(conv *convbin.Converter) *Adapter {
	return &Adapter{conv: conv, wsURL: wsBaseURL}
}

func (a *Adapter) Exchange() market.Exchange { return market.ExchangeBinance }

type wsSubRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (a *Adapter) streamName(channel market.Channel, symbol, timeframe string) (string, error) {
	base := strings.ToLower(a.conv.Symbol(symbol))
	switch channel {
	case market.ChannelTicker:
		return base + "@ticker", nil
	case market.ChannelKline:
		return base + "@kline_" + a.conv.Interval(timeframe), nil
	case market.ChannelTrade:
		return base + "@aggTrade", nil
	case market.ChannelFundingRate:
		return base + "@markPrice", nil
	default:
		return "", fmt.Errorf("binance: unsupported channel %q", channel)
	}
}

// Stream builds the endpoint and subscribe frame for one subscription.
func (a *Adapter) Stream(channel market.Channel, symbol, timeframe string) (string, []byte, error) {
	name, err := a.streamName(channel, symbol, timeframe)
	if err != nil {
		return "", nil, err
	}
	frame, err := json.Marshal(wsSubRequest{
		Method: "SUBSCRIBE",
		Params: []string{name},
		ID:     a.nextID.Add(1),
	})
	if err != nil {
		return "", nil, err
	}
	return a.wsURL, frame, nil
}

// wsAck is the SUBSCRIBE acknowledgement ({"result":null,"id":1}).
type wsAck struct {
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Event  string          `json:"e"`
}

// Decode translates one raw frame. Subscribe acks produce no updates.
func (a *Adapter) Decode(channel market.Channel, timeframe string, message []byte) ([]realtime.Update, error) {
	var probe wsAck
	if err := json.Unmarshal(message, &probe); err != nil {
		return nil, fmt.Errorf("binance: decode frame: %w", err)
	}
	if probe.ID != nil && probe.Event == "" {
		return nil, nil
	}

	switch probe.Event {
	case "24hrTicker":
		var ev convbin.WsTickerEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			return nil, err
		}
		tk, err := a.conv.TickerFromEvent(&ev)
		if err != nil {
			return nil, err
		}
		return []realtime.Update{{
			Channel: market.ChannelTicker, Symbol: tk.Symbol, Timestamp: tk.Timestamp, Ticker: tk,
		}}, nil

	case "kline":
		var ev convbin.WsKlineEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			return nil, err
		}
		k, err := a.conv.KlineFromEvent(timeframe, &ev)
		if err != nil {
			return nil, err
		}
		return []realtime.Update{{
			Channel: market.ChannelKline, Symbol: k.Symbol, Timestamp: k.OpenTime, Kline: k,
		}}, nil

	case "aggTrade":
		var ev convbin.WsAggTradeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			return nil, err
		}
		tr, err := a.conv.TradeFromEvent(&ev)
		if err != nil {
			return nil, err
		}
		return []realtime.Update{{
			Channel: market.ChannelTrade, Symbol: tr.Symbol, Timestamp: tr.Timestamp, Trade: tr,
		}}, nil

	case "markPriceUpdate":
		var ev convbin.WsMarkPriceEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			return nil, err
		}
		fr, err := a.conv.FundingRateFromEvent(&ev)
		if err != nil {
			return nil, err
		}
		return []realtime.Update{{
			Channel: market.ChannelFundingRate, Symbol: fr.Symbol, Timestamp: fr.Timestamp, Funding: fr,
		}}, nil
	}
	return nil, nil
}
