package okx

import (
	"context"
	"net/url"
	"strconv"

	convokx "marketflow/internal/convert/okx"
)

// Public market data endpoints. Each returns the raw payload for the
// converter.

func (c *Client) FetchTicker(ctx context.Context, instID string) (*convokx.RawTicker, error) {
	q := url.Values{"instId": {instID}}
	var data []convokx.RawTicker
	if err := c.get(ctx, "/api/v5/market/ticker", q, false, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51001", Message: "instrument not found: " + instID, Path: "/api/v5/market/ticker"}
	}
	return &data[0], nil
}

func (c *Client) FetchKlines(ctx context.Context, instID, bar string, limit int) ([]convokx.RawKline, error) {
	q := limitQuery(url.Values{"instId": {instID}, "bar": {bar}}, limit)
	var data []convokx.RawKline
	if err := c.get(ctx, "/api/v5/market/candles", q, false, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) FetchFundingRate(ctx context.Context, instID string) (*convokx.RawFundingRate, error) {
	q := url.Values{"instId": {instID}}
	var data []convokx.RawFundingRate
	if err := c.get(ctx, "/api/v5/public/funding-rate", q, false, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51001", Message: "instrument not found: " + instID, Path: "/api/v5/public/funding-rate"}
	}
	return &data[0], nil
}

func (c *Client) FetchOpenInterest(ctx context.Context, instID string) (*convokx.RawOpenInterest, error) {
	q := url.Values{"instId": {instID}, "instType": {"SWAP"}}
	var data []convokx.RawOpenInterest
	if err := c.get(ctx, "/api/v5/public/open-interest", q, false, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51001", Message: "instrument not found: " + instID, Path: "/api/v5/public/open-interest"}
	}
	return &data[0], nil
}

func (c *Client) FetchOrderBook(ctx context.Context, instID string, depth int) (*convokx.RawOrderBook, error) {
	q := url.Values{"instId": {instID}}
	if depth > 0 {
		q.Set("sz", strconv.Itoa(depth))
	}
	var data []convokx.RawOrderBook
	if err := c.get(ctx, "/api/v5/market/books", q, false, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51001", Message: "instrument not found: " + instID, Path: "/api/v5/market/books"}
	}
	return &data[0], nil
}

func (c *Client) FetchTrades(ctx context.Context, instID string, limit int) ([]convokx.RawTrade, error) {
	q := limitQuery(url.Values{"instId": {instID}}, limit)
	var data []convokx.RawTrade
	if err := c.get(ctx, "/api/v5/market/trades", q, false, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) FetchMarkPrice(ctx context.Context, instID string) (*convokx.RawMarkPrice, error) {
	q := url.Values{"instId": {instID}, "instType": {"SWAP"}}
	var data []convokx.RawMarkPrice
	if err := c.get(ctx, "/api/v5/public/mark-price", q, false, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51001", Message: "instrument not found: " + instID, Path: "/api/v5/public/mark-price"}
	}
	return &data[0], nil
}

func (c *Client) FetchInstruments(ctx context.Context) ([]convokx.RawInstrument, error) {
	q := url.Values{"instType": {"SWAP"}}
	var data []convokx.RawInstrument
	if err := c.get(ctx, "/api/v5/public/instruments", q, false, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Private endpoint payloads.

type rawBalanceDetail struct {
	Ccy       string `json:"ccy"`
	Eq        string `json:"eq"`
	AvailBal  string `json:"availBal"`
	AvailEq   string `json:"availEq"`
	FrozenBal string `json:"frozenBal"`
}

type rawBalance struct {
	Details []rawBalanceDetail `json:"details"`
}

type rawPosition struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	MarkPx  string `json:"markPx"`
	Upl     string `json:"upl"`
	Lever   string `json:"lever"`
	UTime   string `json:"uTime"`
}

type rawOrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type rawOrder struct {
	InstID    string `json:"instId"`
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	State     string `json:"state"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	CTime     string `json:"cTime"`
	UTime     string `json:"uTime"`
}

func (c *Client) fetchBalances(ctx context.Context) ([]rawBalanceDetail, error) {
	var data []rawBalance
	if err := c.get(ctx, "/api/v5/account/balance", nil, true, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data[0].Details, nil
}

func (c *Client) fetchPositions(ctx context.Context) ([]rawPosition, error) {
	q := url.Values{"instType": {"SWAP"}}
	var data []rawPosition
	if err := c.get(ctx, "/api/v5/account/positions", q, true, &data); err != nil {
		return nil, err
	}
	return data, nil
}

type orderRequestBody struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}

func (c *Client) placeOrder(ctx context.Context, body orderRequestBody) (*rawOrderAck, error) {
	var data []rawOrderAck
	if err := c.post(ctx, "/api/v5/trade/order", body, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51000", Message: "empty order response", Path: "/api/v5/trade/order"}
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return nil, &APIError{Code: data[0].SCode, Message: data[0].SMsg, Path: "/api/v5/trade/order"}
	}
	return &data[0], nil
}

func (c *Client) cancelOrder(ctx context.Context, instID, ordID string) error {
	body := map[string]string{"instId": instID, "ordId": ordID}
	var data []rawOrderAck
	if err := c.post(ctx, "/api/v5/trade/cancel-order", body, &data); err != nil {
		return err
	}
	if len(data) > 0 && data[0].SCode != "" && data[0].SCode != "0" {
		return &APIError{Code: data[0].SCode, Message: data[0].SMsg, Path: "/api/v5/trade/cancel-order"}
	}
	return nil
}

func (c *Client) fetchOrder(ctx context.Context, instID, ordID string) (*rawOrder, error) {
	q := url.Values{"instId": {instID}, "ordId": {ordID}}
	var data []rawOrder
	if err := c.get(ctx, "/api/v5/trade/order", q, true, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{Code: "51603", Message: "order not found: " + ordID, Path: "/api/v5/trade/order"}
	}
	return &data[0], nil
}
