package binance

import (
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"marketflow/internal/convert"
	convbin "marketflow/internal/convert/binance"
	"marketflow/internal/market"
)

func balanceFromSDK(raw *futures.Balance) (*market.Balance, error) {
	total, err := convert.Dec("balance", raw.Balance)
	if err != nil {
		return nil, err
	}
	available, err := convert.OptDec("availableBalance", raw.AvailableBalance)
	if err != nil {
		return nil, err
	}
	frozen := total.Sub(available)
	if frozen.IsNegative() {
		frozen = decimal.Zero
	}
	return &market.Balance{
		Currency:  raw.Asset,
		Exchange:  market.ExchangeBinance,
		Total:     total,
		Available: available,
		Frozen:    frozen,
	}, nil
}

func positionFromSDK(conv *convbin.Converter, raw *futures.PositionRisk) (*market.Position, error) {
	size, err := convert.Dec("positionAmt", raw.PositionAmt)
	if err != nil {
		return nil, err
	}
	entry, err := convert.OptDec("entryPrice", raw.EntryPrice)
	if err != nil {
		return nil, err
	}
	mark, err := convert.OptDec("markPrice", raw.MarkPrice)
	if err != nil {
		return nil, err
	}
	upl, err := convert.OptDec("unRealizedProfit", raw.UnRealizedProfit)
	if err != nil {
		return nil, err
	}
	lever, err := convert.OptDec("leverage", raw.Leverage)
	if err != nil {
		return nil, err
	}
	side := strings.ToLower(string(raw.PositionSide))
	if side == "both" || side == "" {
		if size.IsNegative() {
			side = "short"
		} else {
			side = "long"
		}
	}
	return &market.Position{
		Symbol:        conv.CanonicalSymbol(raw.Symbol),
		Exchange:      market.ExchangeBinance,
		Side:          side,
		Size:          size.Abs(),
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnl: upl,
		Leverage:      lever,
		Timestamp:     convert.MillisTimeInt(raw.UpdateTime),
	}, nil
}

func orderFromSDK(conv *convbin.Converter, raw *futures.Order) (*market.Order, error) {
	size, err := convert.Dec("origQty", raw.OrigQuantity)
	if err != nil {
		return nil, err
	}
	price, err := convert.OptDec("price", raw.Price)
	if err != nil {
		return nil, err
	}
	filled, err := convert.OptDec("executedQty", raw.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	avg, err := convert.OptDec("avgPrice", raw.AvgPrice)
	if err != nil {
		return nil, err
	}
	return &market.Order{
		ID:         strconv.FormatInt(raw.OrderID, 10),
		ClientID:   raw.ClientOrderID,
		Symbol:     conv.CanonicalSymbol(raw.Symbol),
		Exchange:   market.ExchangeBinance,
		Side:       market.OrderSide(strings.ToLower(string(raw.Side))),
		Type:       market.OrderType(strings.ToLower(string(raw.Type))),
		Size:       size,
		Price:      price,
		FilledSize: filled,
		AvgPrice:   avg,
		State:      strings.ToLower(string(raw.Status)),
		CreatedAt:  convert.MillisTimeInt(raw.Time),
		UpdatedAt:  convert.MillisTimeInt(raw.UpdateTime),
	}, nil
}
