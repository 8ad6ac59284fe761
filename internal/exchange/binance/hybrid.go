package binance

import (
	"context"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	convbin "marketflow/internal/convert/binance"
	"marketflow/internal/exchange"
	"marketflow/internal/market"
	"marketflow/internal/realtime"
	"marketflow/internal/retry"
	"marketflow/internal/stream"
	"marketflow/logger"
)

// ServiceConfig assembles the Binance backend.
type ServiceConfig struct {
	Client          ClientConfig
	Credentials     Credentials
	Stream          stream.Config
	Retry           *retry.Policy
	Freshness       exchange.Freshness
	WatchSymbols    []string
	EnableWebsocket bool
}

// Service is the Binance hybrid backend: websocket-fresh reads with REST
// fallback under the retry policy. If realtime startup fails the service
// stays REST-only.
type Service struct {
	client *Client
	conv   *convbin.Converter
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
	conv := convbin.NewConverter()
	s := &Service{
		client: NewClient(cfg.Client, cfg.Credentials),
		conv:   conv,
		exec:   retry.NewExecutor(cfg.Retry),
		fresh:  cfg.Freshness,
		log:    logger.GetLogger().WithComponent("binance-exchange"),
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

func (s *Service) Name() market.Exchange { return market.ExchangeBinance }

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
	err := s.exec.Do(ctx, "binance.ticker", func(ctx context.Context) error {
		stats, err := s.client.FetchStats(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.TickerFromStats(stats, market.OriginRest)
		return err
	})
	return out, err
}

// Klines always uses REST.
func (s *Service) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]market.Kline, error) {
	interval := s.conv.Interval(timeframe)
	var out []market.Kline
	err := s.exec.Do(ctx, "binance.klines", func(ctx context.Context) error {
		rows, err := s.client.FetchKlines(ctx, s.conv.Symbol(symbol), interval, limit)
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
	err := s.exec.Do(ctx, "binance.funding_rate", func(ctx context.Context) error {
		idx, err := s.client.FetchPremiumIndex(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.FundingRate(idx, market.OriginRest)
		return err
	})
	return out, err
}

// FundingRates batches symbol queries over REST only. Failures are
// isolated per symbol.
func (s *Service) FundingRates(ctx context.Context, symbols []string) (map[string]*market.FundingRate, map[string]error) {
	results := make(map[string]*market.FundingRate, len(symbols))
	errs := make(map[string]error)
	for _, symbol := range symbols {
		var out *market.FundingRate
		err := s.exec.Do(ctx, "binance.funding_rates", func(ctx context.Context) error {
			idx, err := s.client.FetchPremiumIndex(ctx, s.conv.Symbol(symbol))
			if err != nil {
				return err
			}
			out, err = s.conv.FundingRate(idx, market.OriginRest)
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
	err := s.exec.Do(ctx, "binance.open_interest", func(ctx context.Context) error {
		oi, err := s.client.FetchOpenInterest(ctx, s.conv.Symbol(symbol))
		if err != nil {
			return err
		}
		out, err = s.conv.OpenInterest(oi, market.OriginRest)
		return err
	})
	return out, err
}

// RecentTrades prefers the websocket buffer, falling back to aggregated
// REST trades when it is empty.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	if rt := s.realtimeManager(); rt != nil {
		if trades := rt.LatestTrades(symbol, limit); len(trades) > 0 {
			return trades, nil
		}
	}
	var out []market.Trade
	err := s.exec.Do(ctx, "binance.trades", func(ctx context.Context) error {
		raws, err := s.client.FetchAggTrades(ctx, s.conv.Symbol(symbol), limit)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, raw := range raws {
			tr, err := s.conv.TradeFromAgg(symbol, raw, market.OriginRest)
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
	err := s.exec.Do(ctx, "binance.orderbook", func(ctx context.Context) error {
		book, err := s.client.FetchDepth(ctx, s.conv.Symbol(symbol), depth)
		if err != nil {
			return err
		}
		out, err = s.conv.OrderBook(symbol, book, market.OriginRest)
		return err
	})
	return out, err
}

// Instruments returns the trading perpetual contracts.
func (s *Service) Instruments(ctx context.Context) ([]market.Instrument, error) {
	var out []market.Instrument
	err := s.exec.Do(ctx, "binance.instruments", func(ctx context.Context) error {
		info, err := s.client.FetchExchangeInfo(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range info.Symbols {
			sym := &info.Symbols[i]
			if sym.ContractType != "PERPETUAL" {
				continue
			}
			inst, err := s.conv.Instrument(sym)
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
	err := s.exec.Do(ctx, "binance.balance", func(ctx context.Context) error {
		raws, err := s.client.FetchBalances(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, raw := range raws {
			b, err := balanceFromSDK(raw)
			if err != nil {
				return err
			}
			out = append(out, *b)
		}
		return nil
	})
	return out, err
}

// Positions is always REST. Flat positions are skipped.
func (s *Service) Positions(ctx context.Context) ([]market.Position, error) {
	var out []market.Position
	err := s.exec.Do(ctx, "binance.positions", func(ctx context.Context) error {
		raws, err := s.client.FetchPositions(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, raw := range raws {
			p, err := positionFromSDK(s.conv, raw)
			if err != nil {
				return err
			}
			if p.Size.IsZero() {
				continue
			}
			out = append(out, *p)
		}
		return nil
	})
	return out, err
}

// PlaceOrder submits and then reads back the order.
func (s *Service) PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.Order, error) {
	var resp *futures.CreateOrderResponse
	err := s.exec.Do(ctx, "binance.place_order", func(ctx context.Context) error {
		if err := s.client.wait(ctx); err != nil {
			return err
		}
		svc := s.client.fut.NewCreateOrderService().
			Symbol(s.conv.Symbol(req.Symbol)).
			Side(sideType(req.Side)).
			Type(orderType(req.Type)).
			Quantity(req.Size.String()).
			ReduceOnly(req.ReduceOnly)
		if req.Type == market.OrderLimit {
			svc = svc.Price(req.Price.String()).TimeInForce(futures.TimeInForceTypeGTC)
		}
		if req.ClientID != "" {
			svc = svc.NewClientOrderID(req.ClientID)
		}
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.OrderStatus(ctx, req.Symbol, strconv.FormatInt(resp.OrderID, 10))
}

func (s *Service) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &retry.OperationError{Op: "binance.cancel_order", Kind: retry.KindOrder, Attempts: 1, Err: err}
	}
	return s.exec.Do(ctx, "binance.cancel_order", func(ctx context.Context) error {
		if err := s.client.wait(ctx); err != nil {
			return err
		}
		_, err := s.client.fut.NewCancelOrderService().
			Symbol(s.conv.Symbol(symbol)).OrderID(id).Do(ctx)
		return err
	})
}

func (s *Service) OrderStatus(ctx context.Context, symbol, orderID string) (*market.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, &retry.OperationError{Op: "binance.order_status", Kind: retry.KindOrder, Attempts: 1, Err: err}
	}
	var out *market.Order
	doErr := s.exec.Do(ctx, "binance.order_status", func(ctx context.Context) error {
		if err := s.client.wait(ctx); err != nil {
			return err
		}
		raw, err := s.client.fut.NewGetOrderService().
			Symbol(s.conv.Symbol(symbol)).OrderID(id).Do(ctx)
		if err != nil {
			return err
		}
		out, err = orderFromSDK(s.conv, raw)
		return err
	})
	return out, doErr
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
	st := exchange.Status{Exchange: market.ExchangeBinance}
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
	s.log.Info("binance service closed")
}

func sideType(side market.OrderSide) futures.SideType {
	if side == market.OrderSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func orderType(t market.OrderType) futures.OrderType {
	if t == market.OrderLimit {
		return futures.OrderTypeLimit
	}
	return futures.OrderTypeMarket
}
