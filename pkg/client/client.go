// Package client speaks the framed request/response/ack protocol to a probe
// server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rexliu/liveprobe/pkg/ipc"
)

var (
	// ErrNotConnected is returned by calls on a closed client.
	ErrNotConnected = errors.New("client: not connected")
	// ErrConnection marks transport failures; the call may be retried on a new connection.
	ErrConnection = errors.New("client: connection error")
)

// Options tunes the client. Zero fields take the defaults.
type Options struct {
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	AckTimeout     time.Duration
	ReconnectDelay time.Duration
	// KeepAlive sends a "heartbeat" call at this interval while connected; zero disables it.
	KeepAlive time.Duration
	Logger    ipc.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		// a server heartbeat arrives every 60s
		o.ReadTimeout = 90 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	return o
}

// Client is safe for concurrent use; calls are serialized because the
// protocol allows one request in flight per connection.
type Client struct {
	network string
	address string
	opts    Options
	logger  ipc.Logger

	mu     sync.Mutex
	conn   net.Conn
	nextID int64
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to a server.
func Dial(ctx context.Context, network, address string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{
		network: network,
		address: address,
		opts:    opts,
		logger:  opts.Logger,
		stop:    make(chan struct{}),
	}
	c.mu.Lock()
	err := c.connectLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if opts.KeepAlive > 0 {
		c.wg.Add(1)
		go c.keepAlive(opts.KeepAlive)
	}
	return c, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("%w: dial %s %s: %w", ErrConnection, c.network, c.address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	c.conn = conn
	c.logger.Infof("connected to %s", c.address)
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Call sends one request and waits for its response, then acknowledges it.
// A response carrying an error is returned as-is with a nil error; only
// transport and encoding failures are returned as errors. params may be nil,
// a json.RawMessage or any JSON-encodable value.
func (c *Client) Call(ctx context.Context, method string, params any) (*ipc.Response, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrNotConnected
	}
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	c.nextID++
	id := c.nextID

	payload, err := ipc.EncodeRequest(ipc.Request{ID: id, Method: method, Params: raw})
	if err != nil {
		return nil, err
	}
	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.opts.AckTimeout)); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := ipc.WriteFrame(c.conn, payload); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: write request %d: %w", ErrConnection, id, err)
	}

	resp, err := c.readResponse(ctx, id)
	if err != nil {
		c.dropLocked()
		return nil, err
	}
	c.ack(ctx, id)
	return resp, nil
}

func (c *Client) readResponse(ctx context.Context, id int64) (*ipc.Response, error) {
	for {
		if err := c.conn.SetReadDeadline(c.deadline(ctx, c.opts.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		payload, err := ipc.ReadFrame(c.conn)
		if err != nil {
			return nil, fmt.Errorf("%w: read response %d: %w", ErrConnection, id, err)
		}
		resp, err := ipc.DecodeResponse(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnection, err)
		}
		if resp.ID != id && resp.IsHeartbeat() {
			c.logger.Debugf("server heartbeat while waiting for %d", id)
			continue
		}
		if resp.ID != id {
			c.logger.Warnf("response id mismatch: expected %d, got %d", id, resp.ID)
		}
		return &resp, nil
	}
}

// ack failures are logged only; the response is already in hand.
func (c *Client) ack(ctx context.Context, id int64) {
	payload, err := ipc.EncodeAck(ipc.Acknowledgment{ID: id, Status: ipc.AckReceived})
	if err != nil {
		c.logger.Warnf("encode acknowledgment %d: %v", id, err)
		return
	}
	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.opts.AckTimeout)); err == nil {
		err = ipc.WriteFrame(c.conn, payload)
		if err == nil {
			return
		}
	}
	c.logger.Warnf("failed to send acknowledgment for %d: %v", id, err)
}

func (c *Client) deadline(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

// CallWithRetry retries transport failures up to maxRetries attempts in
// total, reconnecting with exponential backoff in between.
func (c *Client) CallWithRetry(ctx context.Context, method string, params any, maxRetries int) (*ipc.Response, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectDelay
	policy.MaxInterval = 10 * c.opts.ReconnectDelay
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries-1)), ctx)

	attempt := 0
	var resp *ipc.Response
	op := func() error {
		attempt++
		r, err := c.Call(ctx, method, params)
		if err == nil {
			resp = r
			return nil
		}
		if errors.Is(err, ErrConnection) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warnf("%s attempt %d/%d failed: %v; retrying in %s", method, attempt, maxRetries, err, wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) keepAlive(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		if !c.Connected() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReadTimeout)
		resp, err := c.CallWithRetry(ctx, "heartbeat", nil, 1)
		cancel()
		switch {
		case err != nil:
			c.logger.Warnf("keepalive failed: %v", err)
		case resp.Error != nil:
			c.logger.Warnf("keepalive rejected: %v", resp.Error)
		}
	}
}

// Close stops the keepalive loop and closes the connection.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	c.closed = true
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
	return err
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("params are not valid JSON")
		}
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
