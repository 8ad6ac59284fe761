package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"

	convbin "marketflow/internal/convert/binance"
	"marketflow/internal/market"
)

func TestBalanceFromSDK(t *testing.T) {
	b, err := balanceFromSDK(&futures.Balance{
		Asset:            "USDT",
		Balance:          "1000.5",
		AvailableBalance: "900.5",
	})
	if err != nil {
		t.Fatalf("balanceFromSDK: %v", err)
	}
	if b.Currency != "USDT" || b.Exchange != market.ExchangeBinance {
		t.Errorf("balance = %+v", b)
	}
	if b.Frozen.String() != "100" {
		t.Errorf("frozen = %s", b.Frozen)
	}
}

func TestBalanceRejectsMalformedTotal(t *testing.T) {
	if _, err := balanceFromSDK(&futures.Balance{Asset: "USDT", Balance: "abc"}); err == nil {
		t.Fatal("want error for malformed balance")
	}
}

func TestPositionFromSDKDerivesSideFromSign(t *testing.T) {
	conv := convbin.NewConverter()
	p, err := positionFromSDK(conv, &futures.PositionRisk{
		Symbol:           "BTCUSDT",
		PositionAmt:      "-2.5",
		EntryPrice:       "43000",
		MarkPrice:        "43250.1",
		UnRealizedProfit: "-625.25",
		Leverage:         "10",
		PositionSide:     "BOTH",
		UpdateTime:       1718000000000,
	})
	if err != nil {
		t.Fatalf("positionFromSDK: %v", err)
	}
	if p.Symbol != "BTC-USDT-SWAP" {
		t.Errorf("symbol = %s", p.Symbol)
	}
	if p.Side != "short" {
		t.Errorf("side = %s", p.Side)
	}
	if p.Size.String() != "2.5" {
		t.Errorf("size = %s", p.Size)
	}
}

func TestOrderFromSDK(t *testing.T) {
	conv := convbin.NewConverter()
	o, err := orderFromSDK(conv, &futures.Order{
		OrderID:          123456,
		ClientOrderID:    "mf-1",
		Symbol:           "ETHUSDT",
		Price:            "3500",
		OrigQuantity:     "1.5",
		ExecutedQuantity: "1.5",
		AvgPrice:         "3499.9",
		Status:           futures.OrderStatusTypeFilled,
		Side:             futures.SideTypeBuy,
		Type:             futures.OrderTypeLimit,
		Time:             1718000000000,
		UpdateTime:       1718000001000,
	})
	if err != nil {
		t.Fatalf("orderFromSDK: %v", err)
	}
	if o.ID != "123456" || o.Symbol != "ETH-USDT-SWAP" {
		t.Errorf("order = %+v", o)
	}
	if o.Side != market.OrderBuy || o.Type != market.OrderLimit {
		t.Errorf("side/type = %s/%s", o.Side, o.Type)
	}
	if o.State != "filled" {
		t.Errorf("state = %s", o.State)
	}
	if o.CreatedAt.UnixMilli() != 1718000000000 {
		t.Errorf("created = %v", o.CreatedAt)
	}
}
