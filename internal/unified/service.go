// Package unified fronts the per-exchange backends with a single data
// surface: source selection with health-based fallback, a tiered kline
// cache and a hot cache for the configured watch-list pairs.
package unified

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"marketflow/internal/cache"
	"marketflow/internal/exchange"
	"marketflow/internal/market"
	"marketflow/logger"
)

// Source selects which exchange serves a request.
type Source string

const (
	SourceAuto    Source = "auto"
	SourceOKX     Source = Source(market.ExchangeOKX)
	SourceBinance Source = Source(market.ExchangeBinance)
)

// unhealthyAt is the rolling error count at which an exchange stops
// being preferred.
const unhealthyAt = 3

// DataRequest asks for klines from one symbol and timeframe.
type DataRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
	Source    Source `json:"source"`
	UseCache  bool   `json:"use_cache"`
}

// Result carries the klines and where they came from.
type Result struct {
	Klines    []market.Kline  `json:"klines"`
	Source    market.Exchange `json:"source"`
	Cached    bool            `json:"cached"`
	Timestamp time.Time       `json:"timestamp"`
}

// Config tunes the unified service.
type Config struct {
	Priority         []market.Exchange
	WatchSymbols     []string
	WatchTimeframes  []string
	CacheTTL         time.Duration
	HotTTL           time.Duration
	BatchConcurrency int
}

func (c Config) withDefaults() Config {
	if len(c.Priority) == 0 {
		c.Priority = []market.Exchange{market.ExchangeOKX, market.ExchangeBinance}
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.HotTTL <= 0 {
		c.HotTTL = 5 * time.Minute
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	return c
}

type hotEntry struct {
	klines []market.Kline
	at     time.Time
}

// Service is the unified data access layer. Instances are constructed in
// main and passed by reference.
type Service struct {
	cfg      Config
	services map[market.Exchange]exchange.Service
	cache    *cache.Cache
	log      *logger.Entry

	mu     sync.RWMutex
	errors map[market.Exchange]int
	hot    map[string]hotEntry
	watch  map[string]bool
	closed bool

	requests  atomic.Int64
	cacheHits atomic.Int64
}

// New wires the exchange backends behind one service. The cache may be
// nil to disable caching entirely.
func New(services []exchange.Service, store *cache.Cache, cfg Config) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		services: make(map[market.Exchange]exchange.Service, len(services)),
		cache:    store,
		log:      logger.GetLogger().WithComponent("unified"),
		errors:   make(map[market.Exchange]int),
		hot:      make(map[string]hotEntry),
		watch:    make(map[string]bool),
	}
	for _, svc := range services {
		s.services[svc.Name()] = svc
	}
	for _, sym := range cfg.WatchSymbols {
		for _, tf := range cfg.WatchTimeframes {
			s.watch[hotKey(sym, tf)] = true
		}
	}
	return s
}

func hotKey(symbol, timeframe string) string { return symbol + "|" + timeframe }

func (s *Service) recordFailure(ex market.Exchange) {
	s.mu.Lock()
	s.errors[ex]++
	s.mu.Unlock()
}

func (s *Service) recordSuccess(ex market.Exchange) {
	s.mu.Lock()
	if s.errors[ex] > 0 {
		s.errors[ex]--
	}
	s.mu.Unlock()
}

func (s *Service) healthy(ex market.Exchange) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[ex] < unhealthyAt
}

// pick orders the candidate exchanges for a request: the explicit source
// first when healthy, then the priority list, then the least-error
// exchange when everything is unhealthy.
func (s *Service) pick(src Source) []market.Exchange {
	var order []market.Exchange
	seen := make(map[market.Exchange]bool)
	add := func(ex market.Exchange) {
		if _, ok := s.services[ex]; ok && !seen[ex] {
			order = append(order, ex)
			seen[ex] = true
		}
	}

	if src != "" && src != SourceAuto {
		if ex := market.Exchange(src); s.healthy(ex) {
			add(ex)
		}
	}
	for _, ex := range s.cfg.Priority {
		if s.healthy(ex) {
			add(ex)
		}
	}
	if len(order) == 0 {
		fallback := make([]market.Exchange, 0, len(s.services))
		for _, ex := range s.cfg.Priority {
			if _, ok := s.services[ex]; ok {
				fallback = append(fallback, ex)
			}
		}
		s.mu.RLock()
		sort.SliceStable(fallback, func(i, j int) bool {
			return s.errors[fallback[i]] < s.errors[fallback[j]]
		})
		s.mu.RUnlock()
		for _, ex := range fallback {
			add(ex)
		}
	}
	return order
}

// Get serves one kline request: hot cache, tiered cache, then the
// selected exchange with fallback down the priority list.
func (s *Service) Get(ctx context.Context, req DataRequest) (*Result, error) {
	s.requests.Add(1)
	if req.Symbol == "" || req.Timeframe == "" {
		return nil, fmt.Errorf("unified: symbol and timeframe are required")
	}

	src := req.Source
	if src == "" {
		src = SourceAuto
	}

	// The key carries the requested source so an explicit preference
	// never reads another exchange's cached payload.
	key := cache.Key(req.Symbol, req.Timeframe, string(src), req.Limit, time.Time{})
	if req.UseCache && s.cache != nil {
		if data, ok := s.cache.Get(key); ok {
			var res Result
			if err := json.Unmarshal(data, &res); err == nil {
				s.cacheHits.Add(1)
				res.Cached = true
				return &res, nil
			}
			s.cache.Invalidate(&cache.Scope{Symbol: req.Symbol, Timeframe: req.Timeframe})
		}
	}

	var lastErr error
	for _, ex := range s.pick(src) {
		svc := s.services[ex]
		klines, err := svc.Klines(ctx, req.Symbol, req.Timeframe, req.Limit)
		if err != nil {
			s.recordFailure(ex)
			lastErr = err
			s.log.WithError(err).WithFields(logger.Fields{
				"exchange": string(ex),
				"symbol":   req.Symbol,
			}).Warn("kline fetch failed, trying next source")
			continue
		}
		s.recordSuccess(ex)

		res := &Result{Klines: klines, Source: ex, Timestamp: time.Now()}
		if req.UseCache && s.cache != nil {
			if data, err := json.Marshal(res); err == nil {
				s.cache.Set(key, data, s.cfg.CacheTTL, cache.Meta{
					Symbol:    req.Symbol,
					Timeframe: req.Timeframe,
					Source:    string(ex),
				})
			}
		}
		s.updateHot(req.Symbol, req.Timeframe, klines)
		return res, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("unified: no exchange available for %s", req.Symbol)
	}
	return nil, lastErr
}

// BatchGet fans requests out with bounded concurrency. Failures are
// isolated per request; the slice keeps request order with nil holes for
// failures reported in the error map by index.
func (s *Service) BatchGet(ctx context.Context, reqs []DataRequest) ([]*Result, map[int]error) {
	results := make([]*Result, len(reqs))
	errs := make(map[int]error)
	var errMu sync.Mutex

	sem := make(chan struct{}, s.cfg.BatchConcurrency)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := s.Get(ctx, reqs[i])
			if err != nil {
				errMu.Lock()
				errs[i] = err
				errMu.Unlock()
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()
	return results, errs
}

// KlinesMulti fetches several timeframes of one symbol in a single call.
func (s *Service) KlinesMulti(ctx context.Context, symbol string, timeframes []string, limit int) (map[string]*Result, map[string]error) {
	reqs := make([]DataRequest, len(timeframes))
	for i, tf := range timeframes {
		reqs[i] = DataRequest{Symbol: symbol, Timeframe: tf, Limit: limit, Source: SourceAuto, UseCache: true}
	}
	results, errsByIdx := s.BatchGet(ctx, reqs)

	out := make(map[string]*Result, len(timeframes))
	errs := make(map[string]error)
	for i, tf := range timeframes {
		if err, ok := errsByIdx[i]; ok {
			errs[tf] = err
			continue
		}
		out[tf] = results[i]
	}
	return out, errs
}

// FundingRates batches funding queries through the first healthy source,
// filling gaps from the remaining exchanges per symbol.
func (s *Service) FundingRates(ctx context.Context, symbols []string) (map[string]*market.FundingRate, map[string]error) {
	results := make(map[string]*market.FundingRate, len(symbols))
	errs := make(map[string]error)
	remaining := symbols

	for _, ex := range s.pick(SourceAuto) {
		if len(remaining) == 0 {
			break
		}
		svc := s.services[ex]
		got, failed := svc.FundingRates(ctx, remaining)
		for sym, fr := range got {
			results[sym] = fr
		}
		if len(failed) == 0 {
			s.recordSuccess(ex)
			remaining = nil
			break
		}
		next := make([]string, 0, len(failed))
		for sym, err := range failed {
			errs[sym] = err
			next = append(next, sym)
		}
		s.recordFailure(ex)
		remaining = next
	}
	for _, sym := range symbols {
		if _, ok := results[sym]; ok {
			delete(errs, sym)
		}
	}
	return results, errs
}

// updateHot refreshes the watch-list hot cache.
func (s *Service) updateHot(symbol, timeframe string, klines []market.Kline) {
	key := hotKey(symbol, timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watch[key] {
		return
	}
	s.hot[key] = hotEntry{klines: market.CloneKlines(klines), at: time.Now()}
}

// SharedKlines reads the hot cache for a watch-list pair. The returned
// slice is an independent copy.
func (s *Service) SharedKlines(symbol, timeframe string) ([]market.Kline, bool) {
	s.mu.RLock()
	e, ok := s.hot[hotKey(symbol, timeframe)]
	s.mu.RUnlock()
	if !ok || time.Since(e.at) > s.cfg.HotTTL {
		return nil, false
	}
	return market.CloneKlines(e.klines), true
}

// HealthReport summarizes one exchange backend.
type HealthReport struct {
	Healthy bool            `json:"healthy"`
	Errors  int             `json:"errors"`
	Status  exchange.Status `json:"status"`
}

// HealthCheck probes each backend with a lightweight instruments call
// when its error count is already elevated, and reports the counters.
func (s *Service) HealthCheck(ctx context.Context) map[market.Exchange]HealthReport {
	out := make(map[market.Exchange]HealthReport, len(s.services))
	for ex, svc := range s.services {
		s.mu.RLock()
		errors := s.errors[ex]
		s.mu.RUnlock()
		if errors >= unhealthyAt {
			if _, err := svc.Instruments(ctx); err == nil {
				s.recordSuccess(ex)
				errors--
			}
		}
		out[ex] = HealthReport{
			Healthy: errors < unhealthyAt,
			Errors:  errors,
			Status:  svc.Status(),
		}
	}
	return out
}

// Stats snapshots the request counters and cache state.
type Stats struct {
	Requests  int64                   `json:"requests"`
	CacheHits int64                   `json:"cache_hits"`
	HitRate   float64                 `json:"hit_rate"`
	Errors    map[market.Exchange]int `json:"errors"`
	Cache     cache.Stats             `json:"cache"`
}

func (s *Service) Stats() Stats {
	st := Stats{
		Requests:  s.requests.Load(),
		CacheHits: s.cacheHits.Load(),
		Errors:    make(map[market.Exchange]int),
	}
	if st.Requests > 0 {
		st.HitRate = float64(st.CacheHits) / float64(st.Requests)
	}
	s.mu.RLock()
	for ex, n := range s.errors {
		st.Errors[ex] = n
	}
	s.mu.RUnlock()
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}
	return st
}

// Close shuts the backends and the cache down. Idempotent.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, svc := range s.services {
		svc.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	s.log.Info("unified service closed")
}
