package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quill/internal/async"
	"quill/internal/logging"
	"quill/internal/observability"
	"quill/internal/recovery"
	"quill/internal/types"
)

// Config configures the streaming channel.
type Config struct {
	Endpoint          string        // websocket URL of the event gateway
	HeartbeatInterval time.Duration // interval between outgoing heartbeats
	StaleAfter        time.Duration // silence on the socket before it counts as stale
	BackoffBase       time.Duration // first reconnect delay
	BackoffCap        time.Duration // reconnect delay cap
	MaxReconnects     int           // attempts before the channel fails
	QueueSize         int           // outgoing queue soft bound
}

// DefaultConfig returns the canonical channel settings: heartbeat every 15s,
// reconnect backoff 2s doubling to a 32s cap, five attempts.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:          endpoint,
		HeartbeatInterval: 15 * time.Second,
		StaleAfter:        45 * time.Second,
		BackoffBase:       2 * time.Second,
		BackoffCap:        32 * time.Second,
		MaxReconnects:     5,
		QueueSize:         256,
	}
}

// Handler receives the stream events correlated to one request id, in
// emission order.
type Handler func(types.StreamEvent)

var errStaleConnection = errors.New("connection stale: no traffic within staleness window")

// Channel is the duplex streaming transport. It owns two background loops: a
// connection-lifecycle loop (dial, heartbeat, staleness detection,
// reconnect) and a message loop (drain the outgoing queue, dispatch incoming
// messages to per-request handlers).
type Channel struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  logging.Logger
	metrics *observability.Metrics

	mu             sync.Mutex
	state          ConnState
	handlers       map[string]Handler
	stateListeners []func(from, to ConnState)
	lastRead       time.Time

	queue  *outQueue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates a streaming channel. Start must be called before Send.
func NewChannel(cfg Config, logger logging.Logger, metrics *observability.Metrics) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.HeartbeatInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 32 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		state:    StateDisconnected,
		handlers: make(map[string]Handler),
		queue:    newOutQueue(cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the connection loop.
func (c *Channel) Start() {
	c.wg.Add(1)
	async.Go(c.logger, "stream-connection-loop", c.connectionLoop)
}

// Stop tears the channel down and waits for its loops to exit.
func (c *Channel) Stop() {
	c.cancel()
	c.wg.Wait()
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers a listener for connection state transitions.
func (c *Channel) OnStateChange(fn func(from, to ConnState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, fn)
}

// RegisterHandler routes incoming events for requestID to fn. Events for a
// request are delivered in arrival order from a single goroutine.
func (c *Channel) RegisterHandler(requestID string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[requestID] = fn
}

// UnregisterHandler removes the handler for requestID.
func (c *Channel) UnregisterHandler(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, requestID)
}

// Send enqueues a wire message for delivery. It returns false immediately
// when the channel is not Connected; the caller decides whether a fallback
// transport can take the message instead.
func (c *Channel) Send(env types.Envelope) bool {
	if c.State() != StateConnected {
		return false
	}
	if dropped := c.queue.Push(env); dropped != "" {
		c.metrics.ObserveQueueDrop(dropped)
		c.logger.Debug("outgoing queue full, dropped one %s", dropped)
	}
	return true
}

// SendEvent converts a stream event to its wire form and enqueues it.
func (c *Channel) SendEvent(ev types.StreamEvent) bool {
	return c.Send(types.ToEnvelope(ev))
}

// BackoffDelay exposes the reconnect delay schedule: min(base*2^(n-1), cap).
func (c *Channel) BackoffDelay(attempt int) time.Duration {
	return recovery.BackoffDelay(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
}

// connectionLoop drives the state machine:
// Disconnected -> Connecting -> Connected -> {Reconnecting -> Connecting} -> Failed.
func (c *Channel) connectionLoop() {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			c.setState(StateDisconnected)
			return
		default:
		}

		c.setState(StateConnecting)
		conn, _, err := c.dialer.DialContext(c.ctx, c.cfg.Endpoint, nil)
		if err != nil {
			attempt++
			c.metrics.ObserveReconnect()
			if attempt >= c.cfg.MaxReconnects {
				c.logger.Error("connection failed after %d attempts: %v", attempt, err)
				c.setState(StateFailed)
				return
			}
			delay := c.BackoffDelay(attempt)
			c.logger.Warn("dial failed (attempt %d/%d): %v; retrying in %v",
				attempt, c.cfg.MaxReconnects, err, delay)
			c.setState(StateReconnecting)
			select {
			case <-time.After(delay):
			case <-c.ctx.Done():
				c.setState(StateDisconnected)
				return
			}
			continue
		}

		attempt = 0
		c.markRead()
		c.setState(StateConnected)
		c.logger.Info("connected to %s", c.cfg.Endpoint)

		lost := c.serveConn(conn)

		select {
		case <-c.ctx.Done():
			_ = conn.Close()
			c.setState(StateDisconnected)
			return
		case err := <-lost:
			_ = conn.Close()
			c.logger.Warn("connection lost: %v", err)
			c.setState(StateReconnecting)
			attempt = 1
			c.metrics.ObserveReconnect()
			select {
			case <-time.After(c.BackoffDelay(attempt)):
			case <-c.ctx.Done():
				c.setState(StateDisconnected)
				return
			}
		}
	}
}

// serveConn runs the per-connection pumps and heartbeat. The returned
// channel yields once with the error that ended the connection.
func (c *Channel) serveConn(conn *websocket.Conn) <-chan error {
	lost := make(chan error, 3)
	connCtx, connCancel := context.WithCancel(c.ctx)

	// Read pump: dispatches incoming messages in order.
	async.Go(c.logger, "stream-read-pump", func() {
		defer connCancel()
		for {
			var env types.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				lost <- recovery.NewChannelError(recovery.FailureTransientNetwork, err)
				return
			}
			c.markRead()
			c.dispatch(env)
		}
	})

	// Write pump: drains the outgoing queue.
	async.Go(c.logger, "stream-write-pump", func() {
		for {
			env, ok := c.queue.Pop(connCtx)
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				c.queue.PushFront(env)
				connCancel()
				lost <- recovery.NewChannelError(recovery.FailureTransientNetwork, err)
				return
			}
		}
	})

	// Heartbeat and staleness watchdog.
	async.Go(c.logger, "stream-heartbeat", func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if c.sinceLastRead() > c.cfg.StaleAfter {
					connCancel()
					lost <- recovery.NewChannelError(recovery.FailureTransientNetwork,
						errStaleConnection)
					return
				}
				if dropped := c.queue.Push(types.ToEnvelope(types.NewHeartbeatEvent(""))); dropped != "" {
					c.metrics.ObserveQueueDrop(dropped)
				}
			}
		}
	})

	return lost
}

func (c *Channel) dispatch(env types.Envelope) {
	ev, err := types.FromEnvelope(env)
	if err != nil {
		c.logger.Warn("dropping malformed message: %v", err)
		return
	}
	if _, ok := ev.(*types.HeartbeatEvent); ok {
		return
	}

	c.mu.Lock()
	handler := c.handlers[env.RequestID]
	c.mu.Unlock()

	if handler == nil {
		c.logger.Debug("no handler registered for request %s", env.RequestID)
		return
	}
	handler(ev)
}

func (c *Channel) setState(next ConnState) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	listeners := make([]func(from, to ConnState), len(c.stateListeners))
	copy(listeners, c.stateListeners)
	c.mu.Unlock()

	c.logger.Debug("channel state %s -> %s", prev, next)
	for _, fn := range listeners {
		fn(prev, next)
	}
}

func (c *Channel) markRead() {
	c.mu.Lock()
	c.lastRead = time.Now()
	c.mu.Unlock()
}

func (c *Channel) sinceLastRead() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastRead)
}
