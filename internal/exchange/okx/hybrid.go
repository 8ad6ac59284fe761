package okx

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	convokx "marketflow/internal/convert/okx"
	"marketflow/internal/exchange"
	"marketflow/internal/market"
	"marketflow/internal/realtime"
	"marketflow/internal/retry"
	"marketflow/internal/stream"
	"marketflow/logger"
)

// ServiceConfig assembles the OKX backend.
type ServiceConfig struct {
	Client          ClientConfig
	Credentials     Credentials
	Stream          stream.Config
	Retry           *retry.Policy
	Freshness       exchange.Freshness
	WatchSymbols    []string
	EnableWebsocket bool
}

// Service is the OKX hybrid backend: websocket-fresh reads with REST
// fallback under the retry policy. If realtime startup fails the service
// stays REST-only.
type Service struct {
	client *Client
	conv   *convokx.Converter
	exec   *retry.Executor
	fresh  exchange.Freshness
	log    *logger.Entry

	mu        sync.RWMutex
	rt        *realtime.Manager
	wsEnabled bool
}

// NewService builds the backend and, when websocket support is enabled,
// pre-subscribes the watch-list symbols to ticker and funding streams.
func NewService(ctx context.Context, cfg ServiceConfig) *Service {
	if cfg.Freshness.Ticker <= 0 {
		cfg.Freshness = exchange.DefaultFreshness()
	}
	conv := convokx.NewConverter()
	s := &Service{
		client: NewClient(cfg.Client, cfg.Credentials),
		conv:   conv,
		exec:   retry.NewExecutor(cfg.Retry),
		fresh:  cfg.Freshness,
		log:    logger.GetLogger().WithComponent("okx-exchange"),
	}

	if cfg.EnableWebsocket {
		streams := stream.NewManager(cfg.Stream)
		s.rt = realtime.NewManager(NewAdapter(conv), streams)
		s.wsEnabled = true

		if len(cfg.WatchSymbols) > 0 {
			failedTickers := s.rt.SubscribeTickers(ctx, cfg.WatchSymbols)
			failedFunding := s.rt.SubscribeFundingRates(ctx, cfg.WatchSymbols)
			if len(failedTickers) == len(cfg.WatchSymbols) && len(failedFunding) == len(cfg.WatchSymbols) {
				s.log.Warn("realtime startup failed for every watch symbol, running REST-only")
				s.rt.Close()
				s.mu.Lock()
				s.rt = nil
				s.wsEnabled = false
				s.mu.Unlock()
			} else if len(failedTickers) > 0 {
				s.log.WithFields(logger.Fields{"symbols": failedTickers}).Warn("some ticker subscriptions failed")
			}
		}
	}
	return s
}

func (s *Service) Name() market.Exchange { return market.ExchangeOKX }

func (s *Service) realtimeManager() *realtime.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.wsEnabled {
		return nil
	}
	return s.rt
}

// Realtime exposes the realtime manager for callback registration. Nil in
// REST-only mode.
func (s *Service) Realtime() *realtime.Manager { return s.realtimeManager() }

// CurrentPrice serves the websocket price when fresh enough, otherwise a
// REST ticker under retry.
func (s *Service) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, market.Origin, error) {
	if rt := s.realtimeManager(); rt != nil {
		if tk, age, ok := rt.LatestTicker(symbol); ok && age <= s.fresh.Ticker {
			return tk.Price, market.OriginWebsocket, nil
		}
	}
	tk, err := s.restTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, "", err
	}
	return tk.Price, market.OriginRest, nil
}

// Ticker serves the websocket ticker when fresh, otherwise REST.
func (s *Service) Ticker(ctx context.Context, symbol string) (*market.Ticker, error) {
	if rt := s.realtimeManager(); rt != nil {
		if tk, age, ok := rt.LatestTicker(symbol); ok && age <= s.fresh.Ticker {
			return tk, nil
		}
	}
	return s.restTicker(ctx, symbol)
}

func (s *Service) restTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	var out *market.Ticker
	err := s.exec.Do(ctx, "okx.ticker", func(ctx context.Context) error {
		raw, err := s.client.FetchTicker(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.Ticker(raw, market.OriginRest)
		return err
	})
	return out, err
}

// Klines always uses REST; the realtime buffers only hold the subscribed
// timeframes and are served by the unified layer.
func (s *Service) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]market.Kline, error) {
	bar := s.conv.Timeframe(timeframe)
	var out []market.Kline
	err := s.exec.Do(ctx, "okx.klines", func(ctx context.Context) error {
		rows, err := s.client.FetchKlines(ctx, s.conv.Symbol(symbol), bar, limit)
		if err != nil {
			return err
		}
		out, err = s.conv.Klines(symbol, timeframe, rows, market.OriginRest)
		return err
	})
	return out, err
}

// FundingRate serves the websocket rate when fresh, otherwise REST.
func (s *Service) FundingRate(ctx context.Context, symbol string) (*market.FundingRate, error) {
	if rt := s.realtimeManager(); rt != nil {
		if fr, age, ok := rt.LatestFundingRate(symbol); ok && age <= s.fresh.Funding {
			return fr, nil
		}
	}
	var out *market.FundingRate
	err := s.exec.Do(ctx, "okx.funding_rate", func(ctx context.Context) error {
		raw, err := s.client.FetchFundingRate(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.FundingRate(raw, market.OriginRest)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.fillMarkPrice(ctx, out)
	return out, nil
}

// fillMarkPrice adds the mark price to a funding rate. The funding
// endpoint does not carry it, so a miss only costs the extra field.
func (s *Service) fillMarkPrice(ctx context.Context, fr *market.FundingRate) {
	raw, err := s.client.FetchMarkPrice(ctx, s.conv.Symbol(fr.Symbol))
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"symbol": fr.Symbol}).Debug("mark price fetch failed")
		return
	}
	px, err := s.conv.MarkPrice(raw)
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"symbol": fr.Symbol}).Debug("mark price parse failed")
		return
	}
	fr.MarkPrice = px
}

// FundingRates batches symbol queries over REST only. Failures are
// isolated per symbol.
func (s *Service) FundingRates(ctx context.Context, symbols []string) (map[string]*market.FundingRate, map[string]error) {
	results := make(map[string]*market.FundingRate, len(symbols))
	errs := make(map[string]error)
	for _, symbol := range symbols {
		var out *market.FundingRate
		err := s.exec.Do(ctx, "okx.funding_rates", func(ctx context.Context) error {
			raw, err := s.client.FetchFundingRate(ctx, s.conv.Symbol(symbol))
			if err != nil {
				return err
			}
			out, err = s.conv.FundingRate(raw, market.OriginRest)
			return err
		})
		if err != nil {
			errs[symbol] = err
			continue
		}
		results[symbol] = out
	}
	return results, errs
}

func (s *Service) OpenInterest(ctx context.Context, symbol string) (*market.OpenInterest, error) {
	var out *market.OpenInterest
	err := s.exec.Do(ctx, "okx.open_interest", func(ctx context.Context) error {
		raw, err := s.client.FetchOpenInterest(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.OpenInterest(raw, market.OriginRest)
		return err
	})
	return out, err
}

// RecentTrades prefers the websocket buffer, falling back to REST when it
// is empty.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	if rt := s.realtimeManager(); rt != nil {
		if trades := rt.LatestTrades(symbol, limit); len(trades) > 0 {
			return trades, nil
		}
	}
	var out []market.Trade
	err := s.exec.Do(ctx, "okx.trades", func(ctx context.Context) error {
		raws, err := s.client.FetchTrades(ctx, s.conv.Symbol(symbol), limit)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range raws {
			tr, err := s.conv.Trade(&raws[i], market.OriginRest)
			if err != nil {
				return err
			}
			out = append(out, *tr)
		}
		return nil
	})
	return out, err
}

func (s *Service) OrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	var out *market.OrderBook
	err := s.exec.Do(ctx, "okx.orderbook", func(ctx context.Context) error {
		raw, err := s.client.FetchOrderBook(ctx, s.conv.Symbol(symbol), depth)
		if err != nil {
			return err
		}
		out, err = s.conv.OrderBook(symbol, raw, market.OriginRest)
		return err
	})
	return out, err
}

// Instruments returns the live SWAP contracts.
func (s *Service) Instruments(ctx context.Context) ([]market.Instrument, error) {
	var out []market.Instrument
	err := s.exec.Do(ctx, "okx.instruments", func(ctx context.Context) error {
		raws, err := s.client.FetchInstruments(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range raws {
			inst, err := s.conv.Instrument(&raws[i])
			if err != nil {
				return err
			}
			if inst.Active() {
				out = append(out, *inst)
			}
		}
		return nil
	})
	return out, err
}

// AccountBalance is always REST.
func (s *Service) AccountBalance(ctx context.Context) ([]market.Balance, error) {
	var out []market.Balance
	err := s.exec.Do(ctx, "okx.balance", func(ctx context.Context) error {
		details, err := s.client.fetchBalances(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, d := range details {
			b, err := balanceFromRaw(&d)
			if err != nil {
				return err
			}
			out = append(out, *b)
		}
		return nil
	})
	return out, err
}

// Positions is always REST.
func (s *Service) Positions(ctx context.Context) ([]market.Position, error) {
	var out []market.Position
	err := s.exec.Do(ctx, "okx.positions", func(ctx context.Context) error {
		raws, err := s.client.fetchPositions(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range raws {
			p, err := positionFromRaw(s.conv, &raws[i])
			if err != nil {
				return err
			}
			out = append(out, *p)
		}
		return nil
	})
	return out, err
}

// PlaceOrder submits and then reads back the order. Order errors follow
// the order retry budget.
func (s *Service) PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.Order, error) {
	body := orderRequestBody{
		InstID:     s.conv.Symbol(req.Symbol),
		TdMode:     "cross",
		Side:       string(req.Side),
		OrdType:    string(req.Type),
		Sz:         req.Size.String(),
		ClOrdID:    req.ClientID,
		ReduceOnly: req.ReduceOnly,
	}
	if req.Type == market.OrderLimit {
		body.Px = req.Price.String()
	}

	var ack *rawOrderAck
	err := s.exec.Do(ctx, "okx.place_order", func(ctx context.Context) error {
		var err error
		ack, err = s.client.placeOrder(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.OrderStatus(ctx, req.Symbol, ack.OrdID)
}

func (s *Service) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return s.exec.Do(ctx, "okx.cancel_order", func(ctx context.Context) error {
		return s.client.cancelOrder(ctx, s.conv.Symbol(symbol), orderID)
	})
}

func (s *Service) OrderStatus(ctx context.Context, symbol, orderID string) (*market.Order, error) {
	var out *market.Order
	err := s.exec.Do(ctx, "okx.order_status", func(ctx context.Context) error {
		raw, err := s.client.fetchOrder(ctx, s.conv.Symbol(symbol), orderID)
		if err != nil {
			return err
		}
		out, err = orderFromRaw(s.conv, raw)
		return err
	})
	return out, err
}

// SubscribeSymbols opens ticker and funding streams for symbols.
func (s *Service) SubscribeSymbols(ctx context.Context, symbols []string) []string {
	rt := s.realtimeManager()
	if rt == nil {
		return symbols
	}
	failed := rt.SubscribeTickers(ctx, symbols)
	rt.SubscribeFundingRates(ctx, symbols)
	return failed
}

func (s *Service) Status() exchange.Status {
	st := exchange.Status{Exchange: market.ExchangeOKX}
	if rt := s.realtimeManager(); rt != nil {
		st.WebsocketEnabled = true
		st.Realtime = rt.Status()
	}
	return st
}

// RetryStats exposes the executor counters.
func (s *Service) RetryStats() map[string]retry.OpSnapshot {
	return s.exec.Stats().Snapshot()
}

func (s *Service) Close() {
	if rt := s.realtimeManager(); rt != nil {
		rt.Close()
	}
	s.log.Info("okx service closed")
}
