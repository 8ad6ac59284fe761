// Package realtime maintains websocket subscriptions for one exchange and
// serves the freshest received values from memory. Updates flow through
// per-stream dispatchers in arrival order; registered callbacks run in
// registration order with panic isolation.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketflow/internal/market"
	"marketflow/internal/stream"
	"marketflow/logger"
)

// Update is one decoded stream event. Exactly one payload pointer is set,
// matching Channel.
type Update struct {
	Channel   market.Channel
	Symbol    string
	Timestamp time.Time
	Ticker    *market.Ticker
	Kline     *market.Kline
	Trade     *market.Trade
	Funding   *market.FundingRate
}

// Adapter supplies the exchange-specific stream topology: endpoint URLs,
// subscribe frames and payload decoding.
type Adapter interface {
	Exchange() market.Exchange
	// Stream returns the websocket URL and subscribe frame for one
	// (channel, symbol, timeframe) subscription.
	Stream(channel market.Channel, symbol, timeframe string) (url string, subscribe []byte, err error)
	// Decode translates one raw frame into zero or more updates.
	// Non-data frames (subscription acks, pings) yield an empty slice.
	Decode(channel market.Channel, timeframe string, message []byte) ([]Update, error)
}

// Streams is the subset of the stream manager the realtime layer uses.
type Streams interface {
	Connect(ctx context.Context, name, url string, subscribe []byte, dispatch stream.Dispatcher) error
	Disconnect(name string)
	IsAlive(name string) bool
	Health(name string) stream.Health
	HealthAll() map[string]stream.Health
	Shutdown()
}

// Callback receives updates for a subscription. Callbacks run on the
// stream's read goroutine and must not block.
type Callback func(Update)

// subscribe retry bounds per symbol.
const (
	subscribeAttempts = 3
	subscribeDelay    = 500 * time.Millisecond
)

// bufferCapacity bounds the per-symbol kline and trade history.
const bufferCapacity = 1000

type subscription struct {
	channel   market.Channel
	symbol    string
	timeframe string
}

type callbackEntry struct {
	id string
	fn Callback
}

type timedTicker struct {
	value *market.Ticker
	at    time.Time
}

type timedFunding struct {
	value *market.FundingRate
	at    time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	adapter Adapter
	streams Streams
	log     *logger.Entry

	mu      sync.RWMutex
	closed  bool
	subs    map[string]subscription // stream name -> subscription
	tickers map[string]timedTicker
	funding map[string]timedFunding
	klines  map[string]*ring[market.Kline] // symbol|timeframe
	trades  map[string]*ring[market.Trade]
	lastTS  map[string]time.Time // symbol|channel ordering guard

	cbMu      sync.RWMutex
	callbacks map[market.Channel][]callbackEntry            // channel-wide
	symbolCbs map[market.Channel]map[string][]callbackEntry // per symbol
}

func NewManager(adapter Adapter, streams Streams) *Manager {
	return &Manager{
		adapter: adapter,
		streams: streams,
		log: logger.GetLogger().WithComponent("realtime").WithFields(logger.Fields{
			"exchange": string(adapter.Exchange()),
		}),
		subs:      make(map[string]subscription),
		tickers:   make(map[string]timedTicker),
		funding:   make(map[string]timedFunding),
		klines:    make(map[string]*ring[market.Kline]),
		trades:    make(map[string]*ring[market.Trade]),
		lastTS:    make(map[string]time.Time),
		callbacks: make(map[market.Channel][]callbackEntry),
		symbolCbs: make(map[market.Channel]map[string][]callbackEntry),
	}
}

func streamName(channel market.Channel, symbol, timeframe string) string {
	if timeframe != "" {
		return fmt.Sprintf("%s@%s:%s", symbol, channel, timeframe)
	}
	return fmt.Sprintf("%s@%s", symbol, channel)
}

// SubscribeTickers opens ticker streams for symbols. Symbols that fail
// after bounded retries are returned; already-subscribed symbols are
// skipped.
func (m *Manager) SubscribeTickers(ctx context.Context, symbols []string) []string {
	return m.subscribe(ctx, market.ChannelTicker, symbols, "")
}

// SubscribeKlines opens candle streams for symbols at one timeframe.
func (m *Manager) SubscribeKlines(ctx context.Context, symbols []string, timeframe string) []string {
	return m.subscribe(ctx, market.ChannelKline, symbols, timeframe)
}

// SubscribeTrades opens trade streams for symbols.
func (m *Manager) SubscribeTrades(ctx context.Context, symbols []string) []string {
	return m.subscribe(ctx, market.ChannelTrade, symbols, "")
}

// SubscribeFundingRates opens funding streams for symbols.
func (m *Manager) SubscribeFundingRates(ctx context.Context, symbols []string) []string {
	return m.subscribe(ctx, market.ChannelFundingRate, symbols, "")
}

func (m *Manager) subscribe(ctx context.Context, channel market.Channel, symbols []string, timeframe string) []string {
	var failed []string
	for _, symbol := range symbols {
		name := streamName(channel, symbol, timeframe)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			failed = append(failed, symbol)
			continue
		}
		if _, exists := m.subs[name]; exists {
			m.mu.Unlock()
			continue
		}
		m.subs[name] = subscription{channel: channel, symbol: symbol, timeframe: timeframe}
		m.mu.Unlock()

		if err := m.connect(ctx, name, channel, symbol, timeframe); err != nil {
			m.mu.Lock()
			delete(m.subs, name)
			m.mu.Unlock()
			m.log.WithError(err).WithFields(logger.Fields{
				"symbol":  symbol,
				"channel": string(channel),
			}).Warn("subscription failed")
			failed = append(failed, symbol)
		}
	}
	return failed
}

func (m *Manager) connect(ctx context.Context, name string, channel market.Channel, symbol, timeframe string) error {
	url, subFrame, err := m.adapter.Stream(channel, symbol, timeframe)
	if err != nil {
		return err
	}

	dispatch := func(message []byte) {
		m.handleFrame(channel, timeframe, message)
	}

	var lastErr error
	for attempt := 0; attempt < subscribeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = m.streams.Connect(ctx, name, url, subFrame, dispatch); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(subscribeDelay):
		}
	}
	return lastErr
}

func (m *Manager) handleFrame(channel market.Channel, timeframe string, message []byte) {
	updates, err := m.adapter.Decode(channel, timeframe, message)
	if err != nil {
		m.log.WithError(err).WithFields(logger.Fields{"channel": string(channel)}).Warn("failed to decode frame")
		return
	}
	for i := range updates {
		m.apply(&updates[i])
	}
}

// apply stores the update and fires callbacks. Stale and duplicate
// timestamps per (symbol, channel) are dropped.
func (m *Manager) apply(u *Update) {
	orderKey := u.Symbol + "|" + string(u.Channel)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	// A forming candle repeats its open time, so kline updates allow an
	// equal timestamp and replace the buffered tail below.
	if !u.Timestamp.IsZero() {
		last, ok := m.lastTS[orderKey]
		stale := ok && !u.Timestamp.After(last)
		if u.Channel == market.ChannelKline {
			stale = ok && u.Timestamp.Before(last)
		}
		if stale {
			m.mu.Unlock()
			return
		}
		m.lastTS[orderKey] = u.Timestamp
	}

	now := time.Now()
	switch u.Channel {
	case market.ChannelTicker:
		if u.Ticker != nil {
			m.tickers[u.Symbol] = timedTicker{value: u.Ticker, at: now}
		}
	case market.ChannelFundingRate:
		if u.Funding != nil {
			m.funding[u.Symbol] = timedFunding{value: u.Funding, at: now}
		}
	case market.ChannelKline:
		if u.Kline != nil {
			key := u.Symbol + "|" + u.Kline.Timeframe
			r, ok := m.klines[key]
			if !ok {
				r = newRing[market.Kline](bufferCapacity)
				m.klines[key] = r
			}
			if tail := r.tail(); tail != nil && tail.OpenTime.Equal(u.Kline.OpenTime) {
				*tail = *u.Kline
			} else {
				r.push(*u.Kline)
			}
		}
	case market.ChannelTrade:
		if u.Trade != nil {
			r, ok := m.trades[u.Symbol]
			if !ok {
				r = newRing[market.Trade](bufferCapacity)
				m.trades[u.Symbol] = r
			}
			r.push(*u.Trade)
		}
	}
	m.mu.Unlock()

	m.fire(u)
}

// fire runs symbol-specific then channel-wide callbacks in registration
// order. A panicking callback is logged and skipped.
func (m *Manager) fire(u *Update) {
	m.cbMu.RLock()
	var entries []callbackEntry
	if bySym, ok := m.symbolCbs[u.Channel]; ok {
		entries = append(entries, bySym[u.Symbol]...)
	}
	entries = append(entries, m.callbacks[u.Channel]...)
	m.cbMu.RUnlock()

	for _, e := range entries {
		m.safeCall(e, u)
	}
}

func (m *Manager) safeCall(e callbackEntry, u *Update) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logger.Fields{
				"callback": e.id,
				"channel":  string(u.Channel),
				"panic":    fmt.Sprint(r),
			}).Error("callback panicked")
		}
	}()
	e.fn(*u)
}

// RegisterCallback subscribes fn to a channel. An empty symbol receives
// every symbol's updates. The returned id can be passed to
// UnregisterCallback.
func (m *Manager) RegisterCallback(channel market.Channel, symbol string, fn Callback) string {
	id := uuid.NewString()
	entry := callbackEntry{id: id, fn: fn}

	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if symbol == "" {
		m.callbacks[channel] = append(m.callbacks[channel], entry)
		return id
	}
	bySym, ok := m.symbolCbs[channel]
	if !ok {
		bySym = make(map[string][]callbackEntry)
		m.symbolCbs[channel] = bySym
	}
	bySym[symbol] = append(bySym[symbol], entry)
	return id
}

// UnregisterCallback removes a callback by id.
func (m *Manager) UnregisterCallback(id string) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	for ch, entries := range m.callbacks {
		m.callbacks[ch] = removeEntry(entries, id)
	}
	for _, bySym := range m.symbolCbs {
		for sym, entries := range bySym {
			bySym[sym] = removeEntry(entries, id)
		}
	}
}

func removeEntry(entries []callbackEntry, id string) []callbackEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// LatestTicker returns the freshest ticker and its age.
func (m *Manager) LatestTicker(symbol string) (*market.Ticker, time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tt, ok := m.tickers[symbol]
	if !ok {
		return nil, 0, false
	}
	return tt.value.Clone(), time.Since(tt.at), true
}

// LatestPrice returns the freshest traded price.
func (m *Manager) LatestPrice(symbol string) (decimal.Decimal, bool) {
	tk, _, ok := m.LatestTicker(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return tk.Price, true
}

// LatestFundingRate returns the freshest funding rate and its age.
func (m *Manager) LatestFundingRate(symbol string) (*market.FundingRate, time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tf, ok := m.funding[symbol]
	if !ok {
		return nil, 0, false
	}
	v := *tf.value
	return &v, time.Since(tf.at), true
}

// LatestKlines returns up to limit buffered candles for symbol and
// timeframe, oldest first.
func (m *Manager) LatestKlines(symbol, timeframe string, limit int) []market.Kline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.klines[symbol+"|"+timeframe]
	if !ok {
		return nil
	}
	return r.last(limit)
}

// LatestTrades returns up to limit buffered trades for symbol, oldest
// first.
func (m *Manager) LatestTrades(symbol string, limit int) []market.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.trades[symbol]
	if !ok {
		return nil
	}
	return r.last(limit)
}

// Status aggregates stream health and the subscribed symbol set.
type Status struct {
	Exchange   market.Exchange          `json:"exchange"`
	Subscribed []string                 `json:"subscribed"`
	Streams    map[string]stream.Health `json:"streams"`
	Connected  int                      `json:"connected"`
	Degraded   int                      `json:"degraded"`
	Unhealthy  int                      `json:"unhealthy"`
}

func (m *Manager) Status() Status {
	health := m.streams.HealthAll()

	m.mu.RLock()
	symbols := make(map[string]struct{}, len(m.subs))
	for _, sub := range m.subs {
		symbols[sub.symbol] = struct{}{}
	}
	m.mu.RUnlock()

	st := Status{
		Exchange: m.adapter.Exchange(),
		Streams:  health,
	}
	for sym := range symbols {
		st.Subscribed = append(st.Subscribed, sym)
	}
	for _, h := range health {
		switch h.Status {
		case stream.StatusHealthy:
			st.Connected++
		case stream.StatusDegraded:
			st.Degraded++
		default:
			st.Unhealthy++
		}
	}
	return st
}

// Close tears down every stream. No callback fires afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.streams.Shutdown()
	m.log.Info("realtime manager closed")
}
