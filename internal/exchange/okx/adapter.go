package okx

import (
	"encoding/json"
	"fmt"

	convokx "marketflow/internal/convert/okx"
	"marketflow/internal/market"
	"marketflow/internal/realtime"
)

const (
	publicWsURL   = "wss://ws.okx.com:8443/ws/v5/public"
	businessWsURL = "wss://ws.okx.com:8443/ws/v5/business"
)

// Adapter maps canonical channels onto OKX v5 websocket topics. Candle
// channels live on the business endpoint, everything else on public.
type Adapter struct {
	conv      *convokx.Converter
	publicURL string
	bizURL    string
}

func NewAdapter(conv *convokx.Converter) *Adapter {
	return &Adapter{conv: conv, publicURL: publicWsURL, bizURL: businessWsURL}
}

func (a *Adapter) Exchange() market.Exchange { return market.ExchangeOKX }

type wsSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsSubRequest struct {
	Op   string     `json:"op"`
	Args []wsSubArg `json:"args"`
}

func (a *Adapter) topic(channel market.Channel, timeframe string) (string, string, error) {
	switch channel {
	case market.ChannelTicker:
		return "tickers", a.publicURL, nil
	case market.ChannelTrade:
		return "trades", a.publicURL, nil
	case market.ChannelFundingRate:
		return "funding-rate", a.publicURL, nil
	case market.ChannelKline:
		return "candle" + a.conv.Timeframe(timeframe), a.bizURL, nil
	default:
		return "", "", fmt.Errorf("okx: unsupported channel %q", channel)
	}
}

// Stream builds the endpoint and subscribe frame for one subscription.
func (a *Adapter) Stream(channel market.Channel, symbol, timeframe string) (string, []byte, error) {
	topic, url, err := a.topic(channel, timeframe)
	if err != nil {
		return "", nil, err
	}
	frame, err := json.Marshal(wsSubRequest{
		Op:   "subscribe",
		Args: []wsSubArg{{Channel: topic, InstID: a.conv.Symbol(symbol)}},
	})
	if err != nil {
		return "", nil, err
	}
	return url, frame, nil
}

// wsEnvelope is the common push-message wrapper. Event frames (subscribe
// acks, errors) carry Event instead of Data.
type wsEnvelope struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   wsSubArg        `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

// Decode translates one raw frame. Ack and pong frames produce no updates.
func (a *Adapter) Decode(channel market.Channel, timeframe string, message []byte) ([]realtime.Update, error) {
	if string(message) == "pong" {
		return nil, nil
	}
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil, fmt.Errorf("okx: decode frame: %w", err)
	}
	if env.Event == "error" {
		return nil, &APIError{Code: env.Code, Message: env.Msg, Path: "ws"}
	}
	if env.Event != "" || len(env.Data) == 0 {
		return nil, nil
	}

	symbol := a.conv.CanonicalSymbol(env.Arg.InstID)
	switch channel {
	case market.ChannelTicker:
		var raws []convokx.RawTicker
		if err := json.Unmarshal(env.Data, &raws); err != nil {
			return nil, err
		}
		updates := make([]realtime.Update, 0, len(raws))
		for i := range raws {
			tk, err := a.conv.Ticker(&raws[i], market.OriginWebsocket)
			if err != nil {
				return nil, err
			}
			updates = append(updates, realtime.Update{
				Channel: channel, Symbol: tk.Symbol, Timestamp: tk.Timestamp, Ticker: tk,
			})
		}
		return updates, nil

	case market.ChannelKline:
		var rows []convokx.RawKline
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return nil, err
		}
		ks, err := a.conv.Klines(symbol, timeframe, rows, market.OriginWebsocket)
		if err != nil {
			return nil, err
		}
		updates := make([]realtime.Update, 0, len(ks))
		for i := range ks {
			k := ks[i]
			updates = append(updates, realtime.Update{
				Channel: channel, Symbol: k.Symbol, Timestamp: k.OpenTime, Kline: &k,
			})
		}
		return updates, nil

	case market.ChannelTrade:
		var raws []convokx.RawTrade
		if err := json.Unmarshal(env.Data, &raws); err != nil {
			return nil, err
		}
		updates := make([]realtime.Update, 0, len(raws))
		for i := range raws {
			tr, err := a.conv.Trade(&raws[i], market.OriginWebsocket)
			if err != nil {
				return nil, err
			}
			updates = append(updates, realtime.Update{
				Channel: channel, Symbol: tr.Symbol, Timestamp: tr.Timestamp, Trade: tr,
			})
		}
		return updates, nil

	case market.ChannelFundingRate:
		var raws []convokx.RawFundingRate
		if err := json.Unmarshal(env.Data, &raws); err != nil {
			return nil, err
		}
		updates := make([]realtime.Update, 0, len(raws))
		for i := range raws {
			fr, err := a.conv.FundingRate(&raws[i], market.OriginWebsocket)
			if err != nil {
				return nil, err
			}
			updates = append(updates, realtime.Update{
				Channel: channel, Symbol: fr.Symbol, Timestamp: fr.Timestamp, Funding: fr,
			})
		}
		return updates, nil
	}
	return nil, nil
}
