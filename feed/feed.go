// Package feed implements the live tick websocket client described in
// spec.md §4.8.2 and §6: connect, subscribe per venue-prefixed symbol,
// rotate credentials on 429/403, reconnect with capped exponential
// back-off, and force a reconnect on a missed heartbeat. No teacher or
// pack example ships a websocket client, so this is authored fresh in the
// HTTP-client idiom of trader/alpaca_trader.go (timeouts, wrapped errors,
// package-level logger calls).
package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"axfl/logger"
	"axfl/metrics"
)

// Tick is one trade print from the live feed.
type Tick struct {
	Symbol      string
	Price       float64
	TimestampMs int64
}

const (
	heartbeatTimeout = 30 * time.Second
	maxBackoff        = time.Minute
	initialBackoff    = time.Second
)

// Client manages one websocket connection, a bounded drop-oldest tick
// buffer, and the reconnect/credential-rotation policy of §4.8.2.
type Client struct {
	url     string
	symbols []string
	keys    []string // ordered credentials rotated through on 429/403

	bufSize int

	mu         sync.Mutex
	buf        []Tick
	closed     bool
	dialer     *websocket.Dialer
	connected  bool
	reconnects int
	lastError  string
}

// Stats is a snapshot of the feed client's connection health, surfaced in
// the status record's websocket-stats block (spec.md §4.8.7).
type Stats struct {
	Connected      bool   `json:"connected"`
	ReconnectsTotal int   `json:"reconnects_total"`
	LastError      string `json:"last_error,omitempty"`
}

// GetStats returns the current connection snapshot.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Connected: c.connected, ReconnectsTotal: c.reconnects, LastError: c.lastError}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
	metrics.SetWebsocketConnected(v)
}

func (c *Client) recordReconnect(err error) {
	c.mu.Lock()
	c.reconnects++
	if err != nil {
		c.lastError = err.Error()
	}
	c.mu.Unlock()
	metrics.IncWebsocketReconnect()
}

// New builds a feed client. url is the venue's websocket endpoint
// (credential is appended as a query-string token per key on each dial).
func New(url string, symbols, keys []string, bufSize int) *Client {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Client{
		url:     url,
		symbols: symbols,
		keys:    keys,
		bufSize: bufSize,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and reads ticks until Close is called or connection attempts
// are exhausted (≈ 3 × |keys|), in which case it returns an error so the
// caller can degrade to the replay loop.
func (c *Client) Run() error {
	maxAttempts := 3 * len(c.keys)
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	attempts := 0
	keyIdx := 0
	backoff := initialBackoff

	for {
		if c.isClosed() {
			return nil
		}
		if attempts >= maxAttempts {
			return fmt.Errorf("feed: exhausted %d connection attempts", maxAttempts)
		}
		attempts++

		key := ""
		if len(c.keys) > 0 {
			key = c.keys[keyIdx%len(c.keys)]
		}

		err := c.runOnce(key)
		c.setConnected(false)
		if err == nil {
			backoff = initialBackoff
			continue
		}

		if httpErr, ok := err.(*statusError); ok && (httpErr.status == 429 || httpErr.status == 403) {
			keyIdx++
			logger.Warnf("feed: credential rejected (status %d), rotating", httpErr.status)
		} else {
			logger.Warnf("feed: connection error: %v", err)
		}
		c.recordReconnect(err)

		logger.Infof("feed: reconnecting in %s", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.status) }

func (c *Client) runOnce(key string) error {
	url := c.url
	if key != "" {
		url = url + "?token=" + key
	}

	conn, resp, err := c.dialer.Dial(url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden) {
			return &statusError{status: resp.StatusCode}
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for _, sym := range c.symbols {
		sub := map[string]string{"type": "subscribe", "symbol": sym}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}

	c.setConnected(true)

	lastHeartbeat := time.Now()
	done := make(chan struct{})
	var readErr error

	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}
			lastHeartbeat = time.Now()

			var msg struct {
				Type        string  `json:"type"`
				Symbol      string  `json:"symbol"`
				Price       float64 `json:"price"`
				TimestampMs int64   `json:"timestamp_ms"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Type == "ping" || msg.Symbol == "" {
				continue
			}
			c.push(Tick{Symbol: msg.Symbol, Price: msg.Price, TimestampMs: msg.TimestampMs})
		}
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return readErr
		case <-ticker.C:
			if time.Since(lastHeartbeat) > heartbeatTimeout {
				return fmt.Errorf("feed: heartbeat timeout")
			}
			if c.isClosed() {
				return nil
			}
		}
	}
}

// push appends a tick to the bounded buffer, dropping the oldest entry when
// full (the dispatcher is expected to drain faster than the feed produces
// in steady state; drop-oldest bounds memory under a stall).
func (c *Client) push(t Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) >= c.bufSize {
		c.buf = c.buf[1:]
	}
	c.buf = append(c.buf, t)
}

// Drain removes and returns every buffered tick, in arrival order.
func (c *Client) Drain() []Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf
	c.buf = nil
	return out
}

// Close stops the client; Run returns once the current connection attempt
// unwinds.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
