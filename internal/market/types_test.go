package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestKlineValidate(t *testing.T) {
	base := Kline{
		Symbol:    "BTC-USDT-SWAP",
		Exchange:  ExchangeOKX,
		Timeframe: Timeframe1H,
		OpenTime:  time.Unix(1700000000, 0),
		Open:      d("100"),
		High:      d("110"),
		Low:       d("95"),
		Close:     d("105"),
		Volume:    d("12.5"),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid kline rejected: %v", err)
	}

	bad := base
	bad.High = d("99")
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for high below close")
	}

	bad = base
	bad.Low = d("101")
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for low above open")
	}

	bad = base
	bad.Volume = d("-1")
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for negative volume")
	}
}

func TestOrderBookDerived(t *testing.T) {
	book := OrderBook{
		Symbol: "BTC-USDT-SWAP",
		Bids:   []BookLevel{{Price: d("100"), Size: d("2")}, {Price: d("99.5"), Size: d("1")}},
		Asks:   []BookLevel{{Price: d("100.5"), Size: d("3")}},
	}

	spread, ok := book.Spread()
	if !ok || !spread.Equal(d("0.5")) {
		t.Fatalf("spread = %s ok=%v, want 0.5", spread, ok)
	}

	mid, ok := book.MidPrice()
	if !ok || !mid.Equal(d("100.25")) {
		t.Fatalf("mid = %s ok=%v, want 100.25", mid, ok)
	}

	empty := OrderBook{}
	if _, ok := empty.Spread(); ok {
		t.Fatalf("empty book should have no spread")
	}
}

func TestCloneKlinesIndependent(t *testing.T) {
	in := []Kline{{Symbol: "ETH-USDT-SWAP", Close: d("2000")}}
	out := CloneKlines(in)
	out[0].Close = d("1")
	if !in[0].Close.Equal(d("2000")) {
		t.Fatalf("clone aliases source slice")
	}
	if CloneKlines(nil) != nil {
		t.Fatalf("nil input should stay nil")
	}
}

func TestTickerClone(t *testing.T) {
	tk := &Ticker{Symbol: "BTC-USDT-SWAP", Price: d("43250.1")}
	c := tk.Clone()
	c.Price = d("0")
	if !tk.Price.Equal(d("43250.1")) {
		t.Fatalf("clone aliases source ticker")
	}
}

func TestInstrumentActive(t *testing.T) {
	okx := Instrument{State: "live"}
	bin := Instrument{State: "TRADING"}
	dead := Instrument{State: "suspend"}
	if !okx.Active() || !bin.Active() {
		t.Fatalf("live states should be active")
	}
	if dead.Active() {
		t.Fatalf("suspended state should not be active")
	}
}
