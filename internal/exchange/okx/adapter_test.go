package okx

import (
	"encoding/json"
	"errors"
	"testing"

	convokx "marketflow/internal/convert/okx"
	"marketflow/internal/market"
)

func TestStreamBuildsSubscribeFrame(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())

	url, frame, err := a.Stream(market.ChannelTicker, "btc-usdt-swap", "")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if url != publicWsURL {
		t.Errorf("url = %s", url)
	}
	var req wsSubRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 1 {
		t.Fatalf("frame = %s", frame)
	}
	if req.Args[0].Channel != "tickers" || req.Args[0].InstID != "BTC-USDT-SWAP" {
		t.Errorf("args = %+v", req.Args[0])
	}
}

func TestStreamCandleUsesBusinessEndpoint(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())

	url, frame, err := a.Stream(market.ChannelKline, "BTC-USDT-SWAP", "1h")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if url != businessWsURL {
		t.Errorf("url = %s", url)
	}
	var req wsSubRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if req.Args[0].Channel != "candle1H" {
		t.Errorf("channel = %s", req.Args[0].Channel)
	}
}

func TestDecodeTickerFrame(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())
	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"43250.1","open24h":"42800.0","high24h":"43500.0","low24h":"42000.0","vol24h":"1000","volCcy24h":"43000000","bidPx":"43250.0","bidSz":"2","askPx":"43250.2","askSz":"3","ts":"1718000000000"}]}`)

	updates, err := a.Decode(market.ChannelTicker, "", frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("updates = %d", len(updates))
	}
	u := updates[0]
	if u.Channel != market.ChannelTicker || u.Ticker == nil {
		t.Fatalf("update = %+v", u)
	}
	if u.Ticker.Price.String() != "43250.1" {
		t.Errorf("price = %s", u.Ticker.Price)
	}
	if u.Ticker.Origin != market.OriginWebsocket {
		t.Errorf("origin = %s", u.Ticker.Origin)
	}
}

func TestDecodeSkipsAcksAndPong(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())

	for _, frame := range []string{
		"pong",
		`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`,
	} {
		updates, err := a.Decode(market.ChannelTicker, "", []byte(frame))
		if err != nil {
			t.Fatalf("Decode(%s): %v", frame, err)
		}
		if len(updates) != 0 {
			t.Errorf("Decode(%s) = %d updates", frame, len(updates))
		}
	}
}

func TestDecodeErrorEvent(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())
	frame := []byte(`{"event":"error","code":"60012","msg":"Invalid request"}`)

	_, err := a.Decode(market.ChannelTicker, "", frame)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != "60012" {
		t.Errorf("code = %s", apiErr.Code)
	}
}

func TestDecodeFundingFrame(t *testing.T) {
	a := NewAdapter(convokx.NewConverter())
	frame := []byte(`{"arg":{"channel":"funding-rate","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","fundingRate":"0.0001","nextFundingRate":"0.0002","fundingTime":"1718028800000","ts":"1718000000000"}]}`)

	updates, err := a.Decode(market.ChannelFundingRate, "", frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 1 || updates[0].Funding == nil {
		t.Fatalf("updates = %+v", updates)
	}
	if updates[0].Funding.Rate.String() != "0.0001" {
		t.Errorf("rate = %s", updates[0].Funding.Rate)
	}
}
