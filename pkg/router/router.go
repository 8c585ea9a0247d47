package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/rexliu/liveprobe/pkg/ipc"
)

// Handler serves one or more methods. A returned *ipc.Error is sent to the
// client unchanged; any other error becomes an internal error.
type Handler interface {
	Handle(ctx context.Context, req *ipc.Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *ipc.Request) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *ipc.Request) (any, error) {
	return f(ctx, req)
}

// Router is the method table consulted by the host tick.
type Router struct {
	logger ipc.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty router.
func New(logger ipc.Logger) *Router {
	if logger == nil {
		logger = discard{}
	}
	return &Router{logger: logger, handlers: make(map[string]Handler)}
}

// Register binds h to every name in methods. Re-registering a name is an error.
func (r *Router) Register(h Handler, methods ...string) error {
	if h == nil {
		return errors.New("router: nil handler")
	}
	if len(methods) == 0 {
		return errors.New("router: no methods given")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range methods {
		if strings.TrimSpace(m) == "" {
			return errors.New("router: empty method name")
		}
		if _, exists := r.handlers[m]; exists {
			return fmt.Errorf("router: method %q already registered", m)
		}
	}
	for _, m := range methods {
		r.handlers[m] = h
	}
	return nil
}

// RegisterFunc is Register for a bare function.
func (r *Router) RegisterFunc(method string, fn func(ctx context.Context, req *ipc.Request) (any, error)) error {
	return r.Register(HandlerFunc(fn), method)
}

// AvailableMethods lists registered method names in sorted order.
func (r *Router) AvailableMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route dispatches req and always returns exactly one response for it.
func (r *Router) Route(ctx context.Context, req ipc.Request) ipc.Response {
	if strings.TrimSpace(req.Method) == "" {
		return ipc.NewErrorResponse(req.ID, ipc.InvalidRequest("method is required"))
	}
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return ipc.NewErrorResponse(req.ID, ipc.MethodNotFound(req.Method, r.AvailableMethods()))
	}

	result, err := r.invoke(ctx, h, &req)
	if err != nil {
		var rpcErr *ipc.Error
		if errors.As(err, &rpcErr) {
			return ipc.NewErrorResponse(req.ID, rpcErr)
		}
		r.logger.Errorf("handler for %s failed: %v", req.Method, err)
		return ipc.NewErrorResponse(req.ID, ipc.InternalError(err.Error()))
	}
	if raw, ok := result.(json.RawMessage); ok {
		return ipc.Response{ID: req.ID, Result: raw}
	}
	resp, err := ipc.NewResult(req.ID, result)
	if err != nil {
		r.logger.Errorf("result of %s not serializable: %v", req.Method, err)
		return ipc.NewErrorResponse(req.ID, ipc.InternalError(err.Error()))
	}
	return resp
}

func (r *Router) invoke(ctx context.Context, h Handler, req *ipc.Request) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("handler for %s panicked: %v\n%s", req.Method, p, debug.Stack())
			result = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Handle(ctx, req)
}

type discard struct{}

func (discard) Debugf(string, ...any) {}
func (discard) Infof(string, ...any)  {}
func (discard) Warnf(string, ...any)  {}
func (discard) Errorf(string, ...any) {}
