// Package stream owns websocket connections. Each stream gets a dial,
// subscribe, ping and read loop with bounded reconnects; consumers receive
// raw frames through a dispatcher callback.
package stream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	retrygo "github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"marketflow/logger"
)

// Dispatcher receives every raw frame read from a stream, in arrival order.
type Dispatcher func(message []byte)

// Config controls dial and keepalive behavior for all streams.
type Config struct {
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongWait          time.Duration
	ReconnectAttempts uint
	// ReconnectBackoff is the per-attempt delay schedule. Attempts past
	// the end of the schedule double the last entry, capped at
	// ReconnectMaxDelay.
	ReconnectBackoff  []time.Duration
	ReconnectMaxDelay time.Duration
	ProxyURL          string
	LocalIP           string
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 3 * c.PingInterval
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 10
	}
	if len(c.ReconnectBackoff) == 0 {
		c.ReconnectBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = time.Minute
	}
	return c
}

// scheduleDelay walks the backoff schedule by attempt number, then keeps
// doubling the last entry once the schedule is spent. retry-go applies the
// configured MaxDelay cap on top.
func scheduleDelay(sched []time.Duration) retrygo.DelayTypeFunc {
	return func(n uint, _ error, _ *retrygo.Config) time.Duration {
		if int(n) < len(sched) {
			return sched[n]
		}
		d := sched[len(sched)-1]
		for i := len(sched); i <= int(n); i++ {
			d *= 2
		}
		return d
	}
}

// unhealthyErrors is the consecutive-error count at which a stream is
// reported unhealthy.
const unhealthyErrors = 3

// Manager tracks all streams and their health.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Entry

	mu    sync.RWMutex
	conns map[string]*conn

	wg sync.WaitGroup
}

type conn struct {
	name      string
	url       string
	subscribe []byte
	dispatch  Dispatcher

	mu      sync.RWMutex
	ws      *websocket.Conn
	writeMu sync.Mutex
	state   State

	messages    int64
	errors      int64
	consecutive int64
	lastMessage atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager builds the manager and its shared dialer. An invalid proxy URL
// is logged and ignored.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	log := logger.GetLogger().WithComponent("stream")

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.WithError(err).Warn("invalid proxy url, using environment proxy")
		}
	}
	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			netDialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			dialer.NetDialContext = netDialer.DialContext
		}
	}

	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    log,
		conns:  make(map[string]*conn),
	}
}

// Connect dials name's stream, sends the subscribe frame and starts the
// read and ping loops. Connecting an already-known stream is a no-op.
func (m *Manager) Connect(ctx context.Context, name, wsURL string, subscribe []byte, dispatch Dispatcher) error {
	m.mu.Lock()
	if _, exists := m.conns[name]; exists {
		m.mu.Unlock()
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &conn{
		name:      name,
		url:       wsURL,
		subscribe: subscribe,
		dispatch:  dispatch,
		state:     StateConnecting,
		ctx:       cctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.conns[name] = c
	m.mu.Unlock()

	if err := m.dial(c); err != nil {
		c.setState(StateDisconnected)
		m.mu.Lock()
		delete(m.conns, name)
		m.mu.Unlock()
		cancel()
		close(c.done)
		return fmt.Errorf("connect %s: %w", name, err)
	}

	m.wg.Add(2)
	go m.readLoop(c)
	go m.pingLoop(c)

	m.log.WithFields(logger.Fields{"stream": name, "url": wsURL}).Info("stream connected")
	return nil
}

func (m *Manager) dial(c *conn) error {
	ws, _, err := m.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}
	ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return nil
	})

	if len(c.subscribe) > 0 {
		c.writeMu.Lock()
		err = ws.WriteMessage(websocket.TextMessage, c.subscribe)
		c.writeMu.Unlock()
		if err != nil {
			ws.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()
	return nil
}

func (m *Manager) readLoop(c *conn) {
	defer m.wg.Done()
	defer close(c.done)

	log := m.log.WithFields(logger.Fields{"stream": c.name})
	for {
		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return
		}

		_, message, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			atomic.AddInt64(&c.errors, 1)
			atomic.AddInt64(&c.consecutive, 1)
			log.WithError(err).Warn("stream read failed, reconnecting")

			if !m.reconnect(c) {
				c.setState(StateFailed)
				log.Error("stream reconnect attempts exhausted")
				return
			}
			continue
		}

		atomic.AddInt64(&c.messages, 1)
		atomic.StoreInt64(&c.consecutive, 0)
		c.lastMessage.Store(time.Now().UnixNano())
		logger.IncrementStreamMessage(len(message))
		logger.RecordStreamMessage(c.name, len(message))

		c.dispatch(message)
	}
}

// reconnect re-dials with backoff, re-sending the subscribe frame each
// attempt. Returns false when the attempt budget is spent or ctx ends.
func (m *Manager) reconnect(c *conn) bool {
	c.setState(StateReconnecting)

	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.mu.Unlock()

	log := m.log.WithFields(logger.Fields{"stream": c.name})
	err := retrygo.Do(
		func() error { return m.dial(c) },
		retrygo.Attempts(m.cfg.ReconnectAttempts),
		retrygo.DelayType(scheduleDelay(m.cfg.ReconnectBackoff)),
		retrygo.MaxDelay(m.cfg.ReconnectMaxDelay),
		retrygo.Context(c.ctx),
		retrygo.LastErrorOnly(true),
		retrygo.OnRetry(func(n uint, err error) {
			log.WithError(err).WithFields(logger.Fields{"attempt": n + 1}).Warn("reconnect attempt failed")
		}),
	)
	if err != nil {
		return false
	}
	log.Info("stream reconnected")
	return true
}

func (m *Manager) pingLoop(c *conn) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			state := c.state
			c.mu.RUnlock()
			if ws == nil || state != StateConnected {
				continue
			}
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				m.log.WithError(err).WithFields(logger.Fields{"stream": c.name}).Warn("ping failed")
			}
		}
	}
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the stream's lifecycle state, or StateDisconnected for an
// unknown name.
func (m *Manager) State(name string) State {
	m.mu.RLock()
	c, ok := m.conns[name]
	m.mu.RUnlock()
	if !ok {
		return StateDisconnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsAlive reports whether the stream is currently connected.
func (m *Manager) IsAlive(name string) bool {
	return m.State(name) == StateConnected
}

// Names returns all managed stream names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.conns))
	for name := range m.conns {
		out = append(out, name)
	}
	return out
}

// Disconnect closes one stream and waits briefly for its loops to exit.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	c, ok := m.conns[name]
	if ok {
		delete(m.conns, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	c.cancel()
	c.mu.Lock()
	if c.ws != nil {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		m.log.WithFields(logger.Fields{"stream": name}).Warn("stream did not stop in time")
	}
	m.log.WithFields(logger.Fields{"stream": name}).Info("stream disconnected")
}

// Shutdown closes every stream and waits for all loops.
func (m *Manager) Shutdown() {
	for _, name := range m.Names() {
		m.Disconnect(name)
	}
	m.wg.Wait()
}

// Health is a point-in-time view of one stream.
type Health struct {
	Name        string       `json:"name"`
	State       State        `json:"state"`
	Status      HealthStatus `json:"status"`
	Messages    int64        `json:"messages"`
	Errors      int64        `json:"errors"`
	LastMessage time.Time    `json:"last_message"`
}

// Health reports one stream's health. Unknown names are unhealthy.
func (m *Manager) Health(name string) Health {
	m.mu.RLock()
	c, ok := m.conns[name]
	m.mu.RUnlock()
	if !ok {
		return Health{Name: name, State: StateDisconnected, Status: StatusUnhealthy}
	}
	return m.health(c)
}

func (m *Manager) health(c *conn) Health {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	h := Health{
		Name:     c.name,
		State:    state,
		Messages: atomic.LoadInt64(&c.messages),
		Errors:   atomic.LoadInt64(&c.errors),
	}
	if ns := c.lastMessage.Load(); ns > 0 {
		h.LastMessage = time.Unix(0, ns)
	}

	switch {
	case state == StateFailed || atomic.LoadInt64(&c.consecutive) >= unhealthyErrors:
		h.Status = StatusUnhealthy
	case state == StateReconnecting || state == StateConnecting:
		h.Status = StatusDegraded
	case !h.LastMessage.IsZero() && time.Since(h.LastMessage) > m.cfg.PongWait:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}

// HealthAll reports the health of every stream.
func (m *Manager) HealthAll() map[string]Health {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make(map[string]Health, len(conns))
	for _, c := range conns {
		out[c.name] = m.health(c)
	}
	return out
}
