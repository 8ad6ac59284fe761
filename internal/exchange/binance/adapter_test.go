package binance

import (
	"encoding/json"
	"testing"

	convbin "marketflow/internal/convert/binance"
	"marketflow/internal/market"
)

func TestStreamNames(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())

	cases := []struct {
		channel   market.Channel
		timeframe string
		want      string
	}{
		{market.ChannelTicker, "", "btcusdt@ticker"},
		{market.ChannelKline, "1H", "btcusdt@kline_1h"},
		{market.ChannelTrade, "", "btcusdt@aggTrade"},
		{market.ChannelFundingRate, "", "btcusdt@markPrice"},
	}
	for _, tc := range cases {
		url, frame, err := a.Stream(tc.channel, "BTC-USDT-SWAP", tc.timeframe)
		if err != nil {
			t.Fatalf("Stream(%s): %v", tc.channel, err)
		}
		if url != wsBaseURL {
			t.Errorf("url = %s", url)
		}
		var req wsSubRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if req.Method != "SUBSCRIBE" || len(req.Params) != 1 || req.Params[0] != tc.want {
			t.Errorf("%s: frame = %s", tc.channel, frame)
		}
		if req.ID == 0 {
			t.Errorf("%s: missing id", tc.channel)
		}
	}
}

func TestSubscribeIDsIncrease(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())

	_, first, _ := a.Stream(market.ChannelTicker, "BTC-USDT-SWAP", "")
	_, second, _ := a.Stream(market.ChannelTicker, "ETH-USDT-SWAP", "")
	var r1, r2 wsSubRequest
	json.Unmarshal(first, &r1)
	json.Unmarshal(second, &r2)
	if r2.ID <= r1.ID {
		t.Fatalf("ids = %d, %d", r1.ID, r2.ID)
	}
}

func TestDecodeTickerEvent(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())
	frame := []byte(`{"e":"24hrTicker","E":1718000000000,"s":"BTCUSDT","p":"450.1","P":"1.05","c":"43250.1","o":"42800.0","h":"43500.0","l":"42000.0","v":"1000","q":"43000000"}`)

	updates, err := a.Decode(market.ChannelTicker, "", frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 1 || updates[0].Ticker == nil {
		t.Fatalf("updates = %+v", updates)
	}
	tk := updates[0].Ticker
	if tk.Symbol != "BTC-USDT-SWAP" {
		t.Errorf("symbol = %s", tk.Symbol)
	}
	if tk.Price.String() != "43250.1" {
		t.Errorf("price = %s", tk.Price)
	}
	if tk.Origin != market.OriginWebsocket {
		t.Errorf("origin = %s", tk.Origin)
	}
}

func TestDecodeSkipsSubscribeAck(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())

	updates, err := a.Decode(market.ChannelTicker, "", []byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("updates = %d", len(updates))
	}
}

func TestDecodeMarkPriceEvent(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())
	frame := []byte(`{"e":"markPriceUpdate","E":1718000000000,"s":"BTCUSDT","p":"43251.0","i":"43249.5","r":"0.0001","T":1718028800000}`)

	updates, err := a.Decode(market.ChannelFundingRate, "", frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 1 || updates[0].Funding == nil {
		t.Fatalf("updates = %+v", updates)
	}
	fr := updates[0].Funding
	if fr.Rate.String() != "0.0001" {
		t.Errorf("rate = %s", fr.Rate)
	}
	if fr.MarkPrice.String() != "43251" {
		t.Errorf("mark = %s", fr.MarkPrice)
	}
}

func TestDecodeKlineEvent(t *testing.T) {
	a := NewAdapter(convbin.NewConverter())
	frame := []byte(`{"e":"kline","E":1718000000000,"s":"BTCUSDT","k":{"t":1717996800000,"T":1718000399999,"s":"BTCUSDT","i":"1h","o":"42800.0","c":"43250.1","h":"43500.0","l":"42000.0","v":"1000","q":"43000000","x":false}}`)

	updates, err := a.Decode(market.ChannelKline, "1H", frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(updates) != 1 || updates[0].Kline == nil {
		t.Fatalf("updates = %+v", updates)
	}
	k := updates[0].Kline
	if k.Timeframe != "1H" {
		t.Errorf("timeframe = %s", k.Timeframe)
	}
	if k.Closed {
		t.Error("forming candle marked closed")
	}
	if !updates[0].Timestamp.Equal(k.OpenTime) {
		t.Error("update timestamp is not the open time")
	}
}
