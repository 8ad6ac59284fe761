package unified

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketflow/internal/cache"
	"marketflow/internal/exchange"
	"marketflow/internal/market"
)

// fakeService is a scriptable exchange backend.
type fakeService struct {
	name market.Exchange

	mu          sync.Mutex
	klineCalls  int
	failKlines  int
	klinePrice  int
	fundingErrs map[string]error
	closed      bool
}

func newFake(name market.Exchange) *fakeService {
	return &fakeService{name: name, klinePrice: 100}
}

func (f *fakeService) Name() market.Exchange { return f.name }

func (f *fakeService) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]market.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineCalls++
	if f.failKlines > 0 {
		f.failKlines--
		return nil, fmt.Errorf("%s: kline fetch failed", f.name)
	}
	return []market.Kline{{
		Symbol:    symbol,
		Exchange:  f.name,
		Timeframe: timeframe,
		OpenTime:  time.UnixMilli(1718000000000),
		Open:      decimal.NewFromInt(int64(f.klinePrice)),
		High:      decimal.NewFromInt(int64(f.klinePrice) + 10),
		Low:       decimal.NewFromInt(int64(f.klinePrice) - 10),
		Close:     decimal.NewFromInt(int64(f.klinePrice) + 5),
		Origin:    market.OriginRest,
	}}, nil
}

func (f *fakeService) FundingRates(ctx context.Context, symbols []string) (map[string]*market.FundingRate, map[string]error) {
	out := make(map[string]*market.FundingRate)
	errs := make(map[string]error)
	for _, sym := range symbols {
		if err, ok := f.fundingErrs[sym]; ok {
			errs[sym] = err
			continue
		}
		out[sym] = &market.FundingRate{Symbol: sym, Exchange: f.name, Rate: decimal.New(1, -4)}
	}
	return out, errs
}

func (f *fakeService) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, market.Origin, error) {
	return decimal.NewFromInt(int64(f.klinePrice)), market.OriginRest, nil
}

func (f *fakeService) Ticker(ctx context.Context, symbol string) (*market.Ticker, error) {
	return &market.Ticker{Symbol: symbol, Exchange: f.name}, nil
}

func (f *fakeService) FundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	return &market.FundingRate{Symbol: symbol, Exchange: f.name}, nil
}

func (f *fakeService) OpenInterest(ctx context.Context, symbol string) (*market.OpenInterest, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	return nil, nil
}

func (f *fakeService) OrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) Instruments(ctx context.Context) ([]market.Instrument, error) {
	return []market.Instrument{{Symbol: "BTC-USDT-SWAP", Exchange: f.name, State: "live"}}, nil
}

func (f *fakeService) AccountBalance(ctx context.Context) ([]market.Balance, error) { return nil, nil }
func (f *fakeService) Positions(ctx context.Context) ([]market.Position, error)     { return nil, nil }

func (f *fakeService) PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.Order, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeService) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeService) OrderStatus(ctx context.Context, symbol, orderID string) (*market.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeService) SubscribeSymbols(ctx context.Context, symbols []string) []string { return nil }
func (f *fakeService) Status() exchange.Status {
	return exchange.Status{Exchange: f.name}
}
func (f *fakeService) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func newService(t *testing.T, cfg Config, fakes ...*fakeService) *Service {
	t.Helper()
	services := make([]exchange.Service, len(fakes))
	for i, f := range fakes {
		services[i] = f
	}
	return New(services, nil, cfg)
}

func TestGetPrefersFirstPrioritySource(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	res, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H", Limit: 10})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Source != market.ExchangeOKX {
		t.Errorf("source = %s", res.Source)
	}
	if bin.klineCalls != 0 {
		t.Errorf("binance called %d times", bin.klineCalls)
	}
}

func TestGetFallsBackOnFailure(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	okx.failKlines = 1
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	res, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Source != market.ExchangeBinance {
		t.Errorf("source = %s", res.Source)
	}
	if st := s.Stats(); st.Errors[market.ExchangeOKX] != 1 {
		t.Errorf("okx errors = %d", st.Errors[market.ExchangeOKX])
	}
}

func TestUnhealthySourceSkipped(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	okx.failKlines = 100
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	for i := 0; i < 3; i++ {
		if _, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"}); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
	}
	calls := okx.klineCalls
	if _, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if okx.klineCalls != calls {
		t.Errorf("unhealthy okx still called")
	}
}

func TestExplicitSourceWins(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	res, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H", Source: SourceBinance})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Source != market.ExchangeBinance {
		t.Errorf("source = %s", res.Source)
	}
}

func TestAllUnhealthyUsesLeastErrors(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	okx.failKlines = 100
	bin := newFake(market.ExchangeBinance)
	bin.failKlines = 100
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	for i := 0; i < 4; i++ {
		s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"})
	}
	bin.mu.Lock()
	bin.failKlines = 0
	bin.mu.Unlock()

	res, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Source != market.ExchangeBinance {
		t.Errorf("source = %s", res.Source)
	}
}

func TestGetUsesTieredCache(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	store := cache.New(cache.Config{})
	services := []exchange.Service{okx}
	s := New(services, store, Config{})
	defer s.Close()

	req := DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H", Limit: 10, UseCache: true}
	if _, err := s.Get(context.Background(), req); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	res, err := s.Get(context.Background(), req)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !res.Cached {
		t.Error("second read not cached")
	}
	if okx.klineCalls != 1 {
		t.Errorf("klineCalls = %d", okx.klineCalls)
	}
	if st := s.Stats(); st.CacheHits != 1 || st.Requests != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCacheKeyedByRequestedSource(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	binance := newFake(market.ExchangeBinance)
	store := cache.New(cache.Config{})
	s := New([]exchange.Service{okx, binance}, store, Config{})
	defer s.Close()

	if _, err := s.Get(context.Background(), DataRequest{
		Symbol: "BTC-USDT-SWAP", Timeframe: "1H", Limit: 10,
		Source: SourceOKX, UseCache: true,
	}); err != nil {
		t.Fatalf("okx Get: %v", err)
	}

	res, err := s.Get(context.Background(), DataRequest{
		Symbol: "BTC-USDT-SWAP", Timeframe: "1H", Limit: 10,
		Source: SourceBinance, UseCache: true,
	})
	if err != nil {
		t.Fatalf("binance Get: %v", err)
	}
	if res.Cached {
		t.Error("explicit binance request served from the okx cache entry")
	}
	if res.Source != market.ExchangeBinance {
		t.Errorf("Source = %s, want binance", res.Source)
	}
	if binance.klineCalls != 1 {
		t.Errorf("binance klineCalls = %d, want 1", binance.klineCalls)
	}
}

func TestBatchGetIsolatesFailures(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	s := newService(t, Config{}, okx)
	defer s.Close()

	reqs := []DataRequest{
		{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"},
		{Symbol: "", Timeframe: "1H"},
		{Symbol: "ETH-USDT-SWAP", Timeframe: "4H"},
	}
	results, errs := s.BatchGet(context.Background(), reqs)
	if len(errs) != 1 || errs[1] == nil {
		t.Fatalf("errs = %v", errs)
	}
	if results[0] == nil || results[2] == nil || results[1] != nil {
		t.Fatalf("results = %v", results)
	}
}

func TestKlinesMulti(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	s := newService(t, Config{}, okx)
	defer s.Close()

	out, errs := s.KlinesMulti(context.Background(), "BTC-USDT-SWAP", []string{"1H", "4H", "1D"}, 50)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(out) != 3 || out["4H"] == nil {
		t.Fatalf("out = %v", out)
	}
	if out["4H"].Klines[0].Timeframe != "4H" {
		t.Errorf("timeframe = %s", out["4H"].Klines[0].Timeframe)
	}
}

func TestFundingRatesFillsGapsFromFallback(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	okx.fundingErrs = map[string]error{"ETH-USDT-SWAP": errors.New("okx down for eth")}
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	rates, errs := s.FundingRates(context.Background(), []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"})
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if rates["BTC-USDT-SWAP"].Exchange != market.ExchangeOKX {
		t.Errorf("btc from %s", rates["BTC-USDT-SWAP"].Exchange)
	}
	if rates["ETH-USDT-SWAP"].Exchange != market.ExchangeBinance {
		t.Errorf("eth from %s", rates["ETH-USDT-SWAP"].Exchange)
	}
}

func TestSharedKlinesDeepCopies(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	cfg := Config{WatchSymbols: []string{"BTC-USDT-SWAP"}, WatchTimeframes: []string{"1H"}}
	s := newService(t, cfg, okx)
	defer s.Close()

	if _, ok := s.SharedKlines("BTC-USDT-SWAP", "1H"); ok {
		t.Fatal("hot cache should start empty")
	}
	if _, err := s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"}); err != nil {
		t.Fatalf("Get: %v", err)
	}
	first, ok := s.SharedKlines("BTC-USDT-SWAP", "1H")
	if !ok || len(first) != 1 {
		t.Fatalf("hot cache miss after fetch")
	}
	first[0].Close = decimal.NewFromInt(-1)
	second, _ := s.SharedKlines("BTC-USDT-SWAP", "1H")
	if second[0].Close.Equal(first[0].Close) {
		t.Error("hot cache aliases caller slice")
	}

	if _, ok := s.SharedKlines("ETH-USDT-SWAP", "1H"); ok {
		t.Error("non-watch pair must not populate the hot cache")
	}
}

func TestCloseShutsBackends(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)

	s.Close()
	s.Close()
	if !okx.closed || !bin.closed {
		t.Error("backends not closed")
	}
}

func TestHealthCheckRecovers(t *testing.T) {
	okx := newFake(market.ExchangeOKX)
	okx.failKlines = 3
	bin := newFake(market.ExchangeBinance)
	s := newService(t, Config{}, okx, bin)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.Get(context.Background(), DataRequest{Symbol: "BTC-USDT-SWAP", Timeframe: "1H"})
	}
	reports := s.HealthCheck(context.Background())
	if !reports[market.ExchangeBinance].Healthy {
		t.Error("binance should be healthy")
	}
	if !reports[market.ExchangeOKX].Healthy {
		t.Error("okx probe should count down the errors")
	}
}
