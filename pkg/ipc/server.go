package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rexliu/liveprobe/pkg/queue"
)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// ErrServerClosed is returned by Start after Stop has been called.
var ErrServerClosed = errors.New("ipc: server closed")

// Options tunes connection handling. Zero fields take the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	ReconnectBackoff  time.Duration
	ReadPollInterval  time.Duration
	ReadProbe         time.Duration
	FrameTimeout      time.Duration
	WriteTimeout      time.Duration
	AckPollInterval   time.Duration
	AckPollLimit      int
	AckRetryDelay     time.Duration
	AckReadAttempts   int
	ShutdownTimeout   time.Duration
	MaxFrameBytes     int
}

// DefaultOptions returns the stock connection settings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 60 * time.Second,
		ReconnectBackoff:  time.Second,
		ReadPollInterval:  20 * time.Millisecond,
		ReadProbe:         5 * time.Millisecond,
		FrameTimeout:      30 * time.Second,
		WriteTimeout:      5 * time.Second,
		AckPollInterval:   50 * time.Millisecond,
		AckPollLimit:      200,
		AckRetryDelay:     200 * time.Millisecond,
		AckReadAttempts:   50,
		ShutdownTimeout:   2 * time.Second,
		MaxFrameBytes:     MaxFrameSize,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = def.ReconnectBackoff
	}
	if o.ReadPollInterval <= 0 {
		o.ReadPollInterval = def.ReadPollInterval
	}
	if o.ReadProbe <= 0 {
		o.ReadProbe = def.ReadProbe
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = def.FrameTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.AckPollInterval <= 0 {
		o.AckPollInterval = def.AckPollInterval
	}
	if o.AckPollLimit <= 0 {
		o.AckPollLimit = def.AckPollLimit
	}
	if o.AckRetryDelay <= 0 {
		o.AckRetryDelay = def.AckRetryDelay
	}
	if o.AckReadAttempts <= 0 {
		o.AckReadAttempts = def.AckReadAttempts
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	if o.MaxFrameBytes <= 0 || o.MaxFrameBytes > MaxFrameSize {
		o.MaxFrameBytes = def.MaxFrameBytes
	}
	return o
}

// Server owns the listener and the single active client connection. Decoded
// requests go to the command queue; responses are drained from the response
// queue and written to whichever client is connected.
type Server struct {
	opts      Options
	logger    Logger
	commands  *queue.Queue[Request]
	responses *queue.Queue[Response]

	mu       sync.Mutex
	ln       net.Listener
	active   *connection
	closed   bool
	started  bool
	requeued map[int64]bool
	cancel   context.CancelFunc
	// resumeAt holds off the next client after a disconnect.
	resumeAt time.Time

	heartbeats atomic.Uint64
	wg         sync.WaitGroup
}

// NewServer constructs an IPC server around the two hand-off queues.
func NewServer(commands *queue.Queue[Request], responses *queue.Queue[Response], logger Logger, opts Options) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Server{
		opts:      opts.withDefaults(),
		logger:    logger,
		commands:  commands,
		responses: responses,
		requeued:  make(map[int64]bool),
	}
}

// Start listens on network/address and begins serving.
func (s *Server) Start(ctx context.Context, network, address string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", network, address, err)
	}
	if err := s.Serve(ctx, ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// Serve launches the accept, response-writer and heartbeat loops on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("ipc: server already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.ln = ln
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(ctx)
	}()
	s.logger.Infof("listening on %s", ln.Addr())
	return nil
}

// Addr returns the listener address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Connected reports whether a client currently holds the connection.
func (s *Server) Connected() bool {
	return s.current() != nil
}

// Stop closes the listener and the active stream, which unblocks pending
// reads, then waits up to ShutdownTimeout for background loops to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, active, cancel := s.ln, s.active, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if active != nil {
		active.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.opts.ShutdownTimeout):
		s.logger.Warnf("background tasks still running after %s", s.opts.ShutdownTimeout)
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) current() *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Server) activate(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.active != nil {
		return false
	}
	s.active = c
	return true
}

func (s *Server) deactivate(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == c {
		s.active = nil
		s.resumeAt = time.Now().Add(s.opts.ReconnectBackoff)
	}
}

func (s *Server) resumeDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return 0
	}
	return time.Until(s.resumeAt)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnf("accept error: %v; retrying in %s", err, s.opts.ReconnectBackoff)
			if !sleepCtx(ctx, s.opts.ReconnectBackoff) {
				return
			}
			continue
		}
		if wait := s.resumeDelay(); wait > 0 {
			s.logger.Debugf("holding connection from %s for %s after disconnect", conn.RemoteAddr(), wait)
			if !sleepCtx(ctx, wait) {
				conn.Close()
				return
			}
		}
		c := newConnection(conn, s.opts)
		if !s.activate(c) {
			s.logger.Warnf("rejecting connection from %s: a client is already connected", conn.RemoteAddr())
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Infof("client connected from %s (session %s)", conn.RemoteAddr(), c.session)
			err := s.serveConn(ctx, c)
			s.deactivate(c)
			c.close()
			switch {
			case err == nil, isDisconnect(err):
				s.logger.Infof("client disconnected (session %s)", c.session)
			default:
				s.logger.Warnf("connection ended (session %s): %v", c.session, err)
			}
		}()
	}
}

func (s *Server) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.responses.Ready():
		}
		for ctx.Err() == nil {
			resp, ok := s.responses.TryDequeue()
			if !ok {
				break
			}
			s.deliver(resp)
		}
	}
}

// deliver writes resp to the connected client. Responses for a client that
// has gone away are dropped. A write that fails before touching the stream is
// retried once; one that fails after closes the session.
func (s *Server) deliver(resp Response) {
	c := s.current()
	if c == nil {
		s.logger.Warnf("dropping response %d: no client connected", resp.ID)
		s.forgetRequeue(resp.ID)
		return
	}
	if !c.expects(resp.ID) {
		s.logger.Warnf("dropping response %d: not awaited by session %s", resp.ID, c.session)
		s.forgetRequeue(resp.ID)
		return
	}
	payload, err := s.encodeResponse(resp)
	if err != nil {
		s.logger.Errorf("dropping response %d: %v", resp.ID, err)
		s.forgetRequeue(resp.ID)
		return
	}
	if started, err := c.write(payload); err != nil {
		if started || isDisconnect(err) {
			s.logger.Warnf("dropping response %d: session %s closed after write failure: %v", resp.ID, c.session, err)
			s.forgetRequeue(resp.ID)
			c.close()
			return
		}
		if s.markRequeue(resp.ID) {
			s.logger.Warnf("write of response %d failed, requeueing: %v", resp.ID, err)
			s.responses.Enqueue(resp)
			return
		}
		s.logger.Errorf("dropping response %d after retry: %v", resp.ID, err)
		return
	}
	s.forgetRequeue(resp.ID)
	c.markSent(resp.ID)
}

// encodeResponse returns the frame payload for resp. A response that cannot
// be encoded or does not fit in a frame is replaced by an internal error with
// the same id, so the request is still answered.
func (s *Server) encodeResponse(resp Response) ([]byte, error) {
	payload, err := EncodeResponse(resp)
	if err == nil && len(payload) <= s.opts.MaxFrameBytes {
		return payload, nil
	}
	var details string
	if err != nil {
		details = fmt.Sprintf("response could not be encoded: %v", err)
	} else {
		details = fmt.Sprintf("response exceeds frame limit: %d bytes (max %d)", len(payload), s.opts.MaxFrameBytes)
	}
	s.logger.Errorf("response %d replaced with internal error: %s", resp.ID, details)
	return EncodeResponse(NewErrorResponse(resp.ID, InternalError(details)))
}

func (s *Server) markRequeue(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requeued[id] {
		delete(s.requeued, id)
		return false
	}
	s.requeued[id] = true
	return true
}

func (s *Server) forgetRequeue(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requeued, id)
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c := s.current()
			if c == nil {
				continue
			}
			hb := NewHeartbeat(c.session, s.heartbeats.Add(1), now)
			if err := c.send(hb); err != nil {
				s.logger.Warnf("heartbeat to session %s failed: %v", c.session, err)
				continue
			}
			s.logger.Debugf("heartbeat sent to session %s", c.session)
		}
	}
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, ErrShortFrame) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
