// Package host runs the single-threaded tick that drains the command queue,
// routes each request and hands its response back to the network layer.
package host

import (
	"context"
	"time"

	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/journal"
	"github.com/rexliu/liveprobe/pkg/queue"
)

// Router produces exactly one response per request.
type Router interface {
	Route(ctx context.Context, req ipc.Request) ipc.Response
}

// Recorder persists exchanges. *journal.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
}

// Host owns the tick. Only the tick goroutine runs handlers, so handlers may
// touch live state without further locking.
type Host struct {
	commands  *queue.Queue[ipc.Request]
	responses *queue.Queue[ipc.Response]
	router    Router
	recorder  Recorder
	logger    ipc.Logger
	frame     func(ctx context.Context)
	now       func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithRecorder journals every routed request.
func WithRecorder(r Recorder) Option {
	return func(h *Host) { h.recorder = r }
}

// WithFrame runs fn at the start of every tick, before queued requests are
// handled. Hosts use it to advance their own state.
func WithFrame(fn func(ctx context.Context)) Option {
	return func(h *Host) { h.frame = fn }
}

// WithLogger sets the logger.
func WithLogger(l ipc.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// New builds a host around the two queues shared with the server.
func New(commands *queue.Queue[ipc.Request], responses *queue.Queue[ipc.Response], router Router, opts ...Option) *Host {
	h := &Host{
		commands:  commands,
		responses: responses,
		router:    router,
		logger:    nopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Tick handles the requests queued when it starts and returns how many it
// handled. Requests arriving meanwhile wait for the next tick.
func (h *Host) Tick(ctx context.Context) int {
	if h.frame != nil {
		h.frame(ctx)
	}
	pending := h.commands.Count()
	handled := 0
	for handled < pending {
		req, ok := h.commands.TryDequeue()
		if !ok {
			break
		}
		h.handle(ctx, req)
		handled++
	}
	return handled
}

func (h *Host) handle(ctx context.Context, req ipc.Request) {
	start := h.now()
	resp := h.router.Route(ctx, req)
	resp.ID = req.ID
	elapsed := h.now().Sub(start)
	h.responses.Enqueue(resp)

	if resp.Error != nil {
		h.logger.Debugf("request %d (%s) failed with %d: %s", req.ID, req.Method, resp.Error.Code, resp.Error.Message)
	} else {
		h.logger.Debugf("request %d (%s) handled in %s", req.ID, req.Method, elapsed)
	}
	if h.recorder == nil {
		return
	}
	entry := journal.Entry{
		RequestID: req.ID,
		Method:    req.Method,
		Duration:  elapsed,
		CreatedAt: start,
	}
	if resp.Error != nil {
		code := resp.Error.Code
		entry.ErrorCode = &code
	}
	if _, err := h.recorder.Record(ctx, entry); err != nil {
		h.logger.Warnf("journal write for request %d failed: %v", req.ID, err)
	}
}

// Run ticks every interval until ctx is done.
func (h *Host) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
