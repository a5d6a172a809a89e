package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
)

// Reconnect backoff bounds.
const (
	backoffInitial = 100 * time.Millisecond
	backoffMax     = 2 * time.Second
)

// Client is a synchronous RPC client with automatic reconnection. Calls
// made while the transport is down fail immediately with
// ErrTransportLost; a background loop re-establishes the connection with
// exponential backoff.
type Client struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
	closed bool

	log     logging.Logger
	metrics *observability.Collector

	// connected tracks whether the transport is up; Connected reads it.
	connMu    sync.RWMutex
	connected bool
}

// Dial connects to the bridge at addr ("host:port"). The initial
// connection is attempted synchronously so startup failures surface
// immediately.
func Dial(addr string, log logging.Logger, metrics *observability.Collector) (*Client, error) {
	if log == nil {
		log = logging.Noop()
	}
	c := &Client{addr: addr, log: log, metrics: metrics}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to bridge %s: %w", addr, err)
	}
	c.conn = conn
	c.setConnected(true)
	return c, nil
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Call invokes a method and waits for its response. On transport loss the
// call fails with ErrTransportLost and a background reconnect loop
// starts; the request is not retried because the mount's state may have
// changed while the link was down.
func (c *Client) Call(method string, params ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.countCall(method, "transport_lost")
		return nil, ErrTransportLost
	}

	c.nextID++
	req := Request{ID: c.nextID, Method: method, Params: params}

	if err := writeFrame(c.conn, &req); err != nil {
		c.dropTransportLocked()
		c.countCall(method, "transport_lost")
		return nil, fmt.Errorf("%w: %v", ErrTransportLost, err)
	}

	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		c.dropTransportLocked()
		c.countCall(method, "transport_lost")
		return nil, fmt.Errorf("%w: %v", ErrTransportLost, err)
	}

	if resp.ID != req.ID {
		// The stream is out of sync; drop it and resynchronize through
		// a reconnect.
		c.dropTransportLocked()
		c.countCall(method, "transport_lost")
		return nil, fmt.Errorf("%w: response id %d for request %d", ErrTransportLost, resp.ID, req.ID)
	}

	if resp.Error != nil {
		c.countCall(method, "error")
		return nil, resp.Error.AsError()
	}
	c.countCall(method, "ok")
	return resp.Result, nil
}

// dropTransportLocked closes the broken connection and starts the
// reconnect loop. Caller holds c.mu.
func (c *Client) dropTransportLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setConnected(false)
	go c.reconnect()
}

// reconnect re-dials with exponential backoff until it succeeds or the
// client is closed.
func (c *Client) reconnect() {
	backoff := backoffInitial
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RPCReconnects.Inc()
		}
		conn, err := net.DialTimeout("tcp", c.addr, backoffMax)
		if err == nil {
			c.mu.Lock()
			if c.closed || c.conn != nil {
				// The client was closed, or another reconnect loop won
				// the race.
				conn.Close()
				c.mu.Unlock()
				return
			}
			c.conn = conn
			c.mu.Unlock()
			c.setConnected(true)
			c.log.Info(context.Background(), "bridge reconnected",
				logging.String("addr", c.addr))
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func (c *Client) countCall(method, outcome string) {
	if c.metrics != nil {
		c.metrics.RPCRequests.WithLabelValues(method, outcome).Inc()
	}
}

// Close tears down the transport and stops any reconnect loop.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
