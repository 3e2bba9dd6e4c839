// Package natsclient provides a NATS client with circuit breaker pattern,
// used for record ingestion and availability signalling.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/timemerge/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client manages a NATS connection with circuit breaker pattern
type Client struct {
	url        string
	status     atomic.Value // stores ConnectionStatus
	failures   atomic.Int32
	reconnects atomic.Int32
	logger     *slog.Logger

	conn *nats.Conn
	subs []*nats.Subscription

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	clientName string

	metrics *clientMetrics

	// Callbacks
	onDisconnect     func(error)
	onReconnect      func()
	onConnectionLost func(error)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("created NATS client", "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	c.metrics.setConnected(status == StatusConnected)
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the current failure count
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current backoff duration
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages the circuit breaker
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	circuitFailures := c.circuitFailures.Add(1)
	if circuitFailures < c.circuitThreshold {
		return
	}

	currentStatus := c.Status()
	currentBackoff := c.backoff.Load().(time.Duration)
	newBackoff := currentBackoff * 2
	if newBackoff > c.maxBackoff {
		newBackoff = c.maxBackoff
	}
	c.backoff.Store(newBackoff)
	c.circuitFailures.Store(0)

	if currentStatus != StatusCircuitOpen {
		// Only one goroutine wins the transition to open.
		if c.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
			c.metrics.setConnected(false)
			c.logger.Warn("circuit breaker opened",
				"failures", circuitFailures, "backoff", currentBackoff)
			time.AfterFunc(currentBackoff, c.testCircuit)
		}
	} else {
		c.logger.Warn("circuit breaker still open", "backoff", newBackoff)
	}
}

// resetCircuit resets the circuit breaker state
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit moves an open circuit back to disconnected so the next
// Connect attempt is allowed through.
func (c *Client) testCircuit() {
	if c.Status() == StatusCircuitOpen {
		c.logger.Debug("circuit breaker test: open to disconnected")
		c.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// GetStatus returns current status information
func (c *Client) GetStatus() *Status {
	st := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
		Reconnects:      c.reconnects.Load(),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			st.RTT = rtt
		}
	}
	return st
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect establishes connection to the NATS server
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		c.logger.Debug("circuit breaker open, skipping connection attempt")
		return errors.WrapTransient(errors.ErrNoConnection,
			"Client", "Connect", "circuit breaker open")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	connectDone := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
		connectDone <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-connectDone:
		if res.err != nil {
			c.recordFailure()
			if c.Status() != StatusCircuitOpen {
				c.setStatus(StatusDisconnected)
			}
			return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
		}
		c.mu.Lock()
		c.conn = res.conn
		c.mu.Unlock()
	case <-ctx.Done():
		// A dial that completes after this point was abandoned; close it
		// instead of letting the connection linger unreferenced.
		go func() {
			if res := <-connectDone; res.err == nil && res.conn != nil {
				res.conn.Close()
			}
		}()
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to NATS", "url", c.url)
	return nil
}

// Publish publishes a message to a NATS subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish message")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	c.metrics.recordPublished(subject)
	return nil
}

// Subscribe subscribes to a NATS subject. Each message handler receives a
// context derived from the parent context with a per-message timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "create subscription")
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "create subscription")
	}

	c.subs = append(c.subs, sub)
	return nil
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNoConnection
	}
	return conn.RTT()
}

// Close drains and closes the NATS connection. It is safe to call more
// than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- c.conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain timeout"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
		}

		c.conn.Close()
		c.conn = nil
	}

	// Clear credentials from memory.
	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)

	if len(errs) > 0 {
		errMsg := "cleanup errors:"
		for i, err := range errs {
			errMsg += fmt.Sprintf("\n  [%d] %v", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.reconnects.Add(1)
	c.metrics.recordReconnect()
	c.setStatus(StatusConnected)
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
	if c.onReconnect != nil {
		c.onReconnect()
	}
}

func (c *Client) handleClosed(conn *nats.Conn) {
	if c.closed.Load() {
		return
	}
	err := conn.LastError()
	c.setStatus(StatusDisconnected)
	c.logger.Error("NATS connection lost", "error", err)
	if c.onConnectionLost != nil {
		if err == nil {
			err = errors.ErrConnectionLost
		}
		c.onConnectionLost(err)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS async error", "error", err)
}
