package okx

import (
	"marketflow/internal/convert"
	convokx "marketflow/internal/convert/okx"
	"marketflow/internal/market"
)

func balanceFromRaw(raw *rawBalanceDetail) (*market.Balance, error) {
	total, err := convert.Dec("eq", raw.Eq)
	if err != nil {
		return nil, err
	}
	avail := raw.AvailBal
	if avail == "" {
		avail = raw.AvailEq
	}
	available, err := convert.OptDec("availBal", avail)
	if err != nil {
		return nil, err
	}
	frozen, err := convert.OptDec("frozenBal", raw.FrozenBal)
	if err != nil {
		return nil, err
	}
	return &market.Balance{
		Currency:  raw.Ccy,
		Exchange:  market.ExchangeOKX,
		Total:     total,
		Available: available,
		Frozen:    frozen,
	}, nil
}

func positionFromRaw(conv *convokx.Converter, raw *rawPosition) (*market.Position, error) {
	size, err := convert.Dec("pos", raw.Pos)
	if err != nil {
		return nil, err
	}
	entry, err := convert.OptDec("avgPx", raw.AvgPx)
	if err != nil {
		return nil, err
	}
	mark, err := convert.OptDec("markPx", raw.MarkPx)
	if err != nil {
		return nil, err
	}
	upl, err := convert.OptDec("upl", raw.Upl)
	if err != nil {
		return nil, err
	}
	lever, err := convert.OptDec("lever", raw.Lever)
	if err != nil {
		return nil, err
	}
	ts, err := convert.MillisTime("uTime", raw.UTime)
	if err != nil {
		return nil, err
	}
	side := raw.PosSide
	// net mode reports posSide "net"; derive the direction from the sign
	if side == "net" || side == "" {
		if size.IsNegative() {
			side = "short"
		} else {
			side = "long"
		}
	}
	return &market.Position{
		Symbol:        conv.CanonicalSymbol(raw.InstID),
		Exchange:      market.ExchangeOKX,
		Side:          side,
		Size:          size.Abs(),
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnl: upl,
		Leverage:      lever,
		Timestamp:     ts,
	}, nil
}

func orderFromRaw(conv *convokx.Converter, raw *rawOrder) (*market.Order, error) {
	size, err := convert.Dec("sz", raw.Sz)
	if err != nil {
		return nil, err
	}
	price, err := convert.OptDec("px", raw.Px)
	if err != nil {
		return nil, err
	}
	filled, err := convert.OptDec("accFillSz", raw.AccFillSz)
	if err != nil {
		return nil, err
	}
	avg, err := convert.OptDec("avgPx", raw.AvgPx)
	if err != nil {
		return nil, err
	}
	created, err := convert.MillisTime("cTime", raw.CTime)
	if err != nil {
		return nil, err
	}
	updated, err := convert.MillisTime("uTime", raw.UTime)
	if err != nil {
		return nil, err
	}
	return &market.Order{
		ID:         raw.OrdID,
		ClientID:   raw.ClOrdID,
		Symbol:     conv.CanonicalSymbol(raw.InstID),
		Exchange:   market.ExchangeOKX,
		Side:       market.OrderSide(raw.Side),
		Type:       market.OrderType(raw.OrdType),
		Size:       size,
		Price:      price,
		FilledSize: filled,
		AvgPrice:   avg,
		State:      raw.State,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}
