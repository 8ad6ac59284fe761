package okx

// Raw REST/websocket payload shapes for the OKX v5 API. Numeric values
// arrive as strings and are converted with validation in converter.go.

// RawTicker mirrors one element of /api/v5/market/ticker data and the
// "tickers" websocket channel.
type RawTicker struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	LastSz    string `json:"lastSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	TS        string `json:"ts"`
}

// RawKline is one candle row: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
type RawKline []string

// RawFundingRate mirrors /api/v5/public/funding-rate data and the
// "funding-rate" websocket channel.
type RawFundingRate struct {
	InstID          string `json:"instId"`
	InstType        string `json:"instType"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
	FundingTime     string `json:"fundingTime"`
	TS              string `json:"ts"`
}

// RawOpenInterest mirrors /api/v5/public/open-interest data.
type RawOpenInterest struct {
	InstID string `json:"instId"`
	Oi     string `json:"oi"`
	OiCcy  string `json:"oiCcy"`
	TS     string `json:"ts"`
}

// RawOrderBook mirrors /api/v5/market/books data. Levels are
// [price, size, liquidatedOrders, orderCount].
type RawOrderBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

// RawTrade mirrors /api/v5/market/trades data and the "trades" channel.
type RawTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TS      string `json:"ts"`
}

// RawMarkPrice mirrors /api/v5/public/mark-price data.
type RawMarkPrice struct {
	InstID string `json:"instId"`
	MarkPx string `json:"markPx"`
	TS     string `json:"ts"`
}

// RawInstrument mirrors /api/v5/public/instruments data.
type RawInstrument struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	CtType    string `json:"ctType"`
	CtVal     string `json:"ctVal"`
	CtValCcy  string `json:"ctValCcy"`
	SettleCcy string `json:"settleCcy"`
	State     string `json:"state"`
	MinSz     string `json:"minSz"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
}
