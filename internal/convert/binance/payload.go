package binance

// Websocket event payloads for Binance USD-M futures streams. REST
// responses come through the go-binance SDK types and are converted in
// converter.go.

// StreamEnvelope wraps combined-stream messages
// ({"stream":"btcusdt@ticker","data":{...}}).
type StreamEnvelope struct {
	Stream string `json:"stream"`
	Data   []byte `json:"-"`
}

// WsTickerEvent is the 24hrTicker stream event.
type WsTickerEvent struct {
	Event        string `json:"e"`
	Time         int64  `json:"E"`
	Symbol       string `json:"s"`
	PriceChange  string `json:"p"`
	PricePercent string `json:"P"`
	LastPrice    string `json:"c"`
	OpenPrice    string `json:"o"`
	HighPrice    string `json:"h"`
	LowPrice     string `json:"l"`
	Volume       string `json:"v"`
	QuoteVolume  string `json:"q"`
}

// WsKlineEvent is the kline stream event.
type WsKlineEvent struct {
	Event  string  `json:"e"`
	Time   int64   `json:"E"`
	Symbol string  `json:"s"`
	Kline  WsKline `json:"k"`
}

type WsKline struct {
	StartTime   int64  `json:"t"`
	EndTime     int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
	Closed      bool   `json:"x"`
}

// WsAggTradeEvent is the aggTrade stream event.
type WsAggTradeEvent struct {
	Event        string `json:"e"`
	Time         int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// WsMarkPriceEvent is the markPrice stream event, which also carries the
// current funding rate.
type WsMarkPriceEvent struct {
	Event           string `json:"e"`
	Time            int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// WsDepthEvent is the partial book depth stream event.
type WsDepthEvent struct {
	Event  string     `json:"e"`
	Time   int64      `json:"E"`
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}
