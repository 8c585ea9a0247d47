package ipc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rexliu/liveprobe/pkg/ids"
)

// errNoData means the client sent nothing within the allotted read polls.
var errNoData = errors.New("no data available")

// connection is the single active client stream. mu serializes every read and
// write on the stream so a response never interleaves with a request or ack read.
type connection struct {
	conn    net.Conn
	br      *bufio.Reader
	session string
	opts    Options

	mu sync.Mutex

	stateMu    sync.Mutex
	awaiting   int64
	hasAwaited bool

	sent      chan int64
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(conn net.Conn, opts Options) *connection {
	return &connection{
		conn:    conn,
		br:      bufio.NewReader(conn),
		session: ids.New(),
		opts:    opts,
		sent:    make(chan int64, 8),
		done:    make(chan struct{}),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// expect records the request whose response this connection is waiting for.
func (c *connection) expect(id int64) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.awaiting = id
	c.hasAwaited = true
}

func (c *connection) settle(id int64) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.hasAwaited && c.awaiting == id {
		c.hasAwaited = false
	}
}

func (c *connection) expects(id int64) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.hasAwaited && c.awaiting == id
}

func (c *connection) markSent(id int64) {
	select {
	case c.sent <- id:
	default:
	}
}

// awaitSent blocks until the response for id has been written, the wait
// expires, or the connection goes away.
func (c *connection) awaitSent(ctx context.Context, id int64, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case got := <-c.sent:
			if got == id {
				return true
			}
		case <-timer.C:
			return false
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// send writes one response frame under the stream lock.
func (c *connection) send(resp Response) error {
	payload, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	_, err = c.write(payload)
	return err
}

// write sends payload as one frame. started reports whether the write reached
// the stream; a failure after that point may have left part of a frame behind,
// so the connection is closed rather than left out of sync.
func (c *connection) write(payload []byte) (started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return false, net.ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return false, err
	}
	defer c.conn.SetWriteDeadline(time.Time{})
	if err := WriteFrame(c.conn, payload); err != nil {
		c.close()
		return true, err
	}
	return true, nil
}

// readFrame waits until the client has started sending, then reads one full
// frame. The stream lock is only held while probing and reading, so writers
// get in between polls. maxPolls <= 0 polls forever; otherwise errNoData is
// returned once the polls are used up.
func (c *connection) readFrame(ctx context.Context, idle time.Duration, maxPolls int) ([]byte, error) {
	polls := 0
	for {
		if c.isClosed() {
			return nil, net.ErrClosed
		}
		payload, ready, err := c.tryRead()
		if ready || err != nil {
			return payload, err
		}
		polls++
		if maxPolls > 0 && polls >= maxPolls {
			return nil, errNoData
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, net.ErrClosed
		case <-time.After(idle):
		}
	}
}

func (c *connection) tryRead() ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadProbe)); err != nil {
		return nil, false, err
	}
	if _, err := c.br.Peek(1); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.FrameTimeout)); err != nil {
		return nil, false, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	payload, err := ReadFrameLimit(c.br, c.opts.MaxFrameBytes)
	return payload, true, err
}

// serveConn runs the request/response/ack exchange for one client until it
// disconnects. Requests are handled strictly one at a time.
func (s *Server) serveConn(ctx context.Context, c *connection) error {
	var pending []byte
	for {
		payload := pending
		pending = nil
		if payload == nil {
			var err error
			payload, err = c.readFrame(ctx, s.opts.ReadPollInterval, 0)
			if err != nil {
				return err
			}
		}

		req, err := DecodeRequest(payload)
		if errors.Is(err, ErrNotRequest) {
			s.logger.Debugf("discarding stray acknowledgment on session %s", c.session)
			continue
		}
		if err != nil {
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				rpcErr = ParseError(err.Error())
			}
			s.logger.Warnf("malformed request on session %s: %v", c.session, err)
			if err := c.send(NewErrorResponse(0, rpcErr)); err != nil {
				return err
			}
			continue
		}

		c.expect(req.ID)
		s.commands.Enqueue(req)
		s.logger.Debugf("queued request %d (%s)", req.ID, req.Method)

		wait := s.opts.AckPollInterval * time.Duration(s.opts.AckPollLimit)
		if !c.awaitSent(ctx, req.ID, wait) {
			if c.isClosed() || ctx.Err() != nil {
				return net.ErrClosed
			}
			s.logger.Warnf("response %d not sent within %s; reading acknowledgment anyway", req.ID, wait)
		}

		ackPayload, err := c.readFrame(ctx, s.opts.AckRetryDelay, s.opts.AckReadAttempts)
		if errors.Is(err, errNoData) {
			s.logger.Warnf("no acknowledgment for request %d on session %s", req.ID, c.session)
			continue
		}
		if err != nil {
			return err
		}
		if next, err := DecodeRequest(ackPayload); err == nil && next.Method != "" {
			s.logger.Warnf("request %d arrived before acknowledgment of %d", next.ID, req.ID)
			pending = ackPayload
			continue
		}
		ack, err := DecodeAck(ackPayload)
		if err != nil {
			s.logger.Warnf("malformed acknowledgment for request %d: %v", req.ID, err)
			continue
		}
		if ack.ID != req.ID {
			s.logger.Warnf("acknowledgment id mismatch: expected %d, got %d", req.ID, ack.ID)
		}
		c.settle(req.ID)
	}
}
