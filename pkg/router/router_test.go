package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/liveprobe/pkg/ipc"
)

func echo(_ context.Context, req *ipc.Request) (any, error) {
	return map[string]any{"method": req.Method}, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := New(nil)
	require.NoError(t, r.Register(HandlerFunc(echo), "handshake", "list_types"))
	require.NoError(t, r.RegisterFunc("fail", func(context.Context, *ipc.Request) (any, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, r.RegisterFunc("panic", func(context.Context, *ipc.Request) (any, error) {
		panic("kaboom")
	}))
	require.NoError(t, r.RegisterFunc("missing", func(context.Context, *ipc.Request) (any, error) {
		return nil, ipc.OperationError("object not found", map[string]any{"suggestions": []string{"Player"}})
	}))
	require.NoError(t, r.RegisterFunc("unserializable", func(context.Context, *ipc.Request) (any, error) {
		return map[string]any{"ch": make(chan int)}, nil
	}))
	return r
}

func TestRouteDispatchesSharedHandler(t *testing.T) {
	r := newTestRouter(t)
	for i, method := range []string{"handshake", "list_types"} {
		resp := r.Route(context.Background(), ipc.Request{ID: int64(i + 1), Method: method})
		require.Nil(t, resp.Error)
		assert.Equal(t, int64(i+1), resp.ID)
		assert.JSONEq(t, `{"method":"`+method+`"}`, string(resp.Result))
	}
}

func TestRouteUnknownMethod(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Route(context.Background(), ipc.Request{ID: 1, Method: "ping"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method 'ping' not found", resp.Error.Message)

	payload, err := ipc.EncodeResponse(resp)
	require.NoError(t, err)
	var wire struct {
		ID     int64           `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  struct {
			Data struct {
				AvailableMethods []string `json:"availableMethods"`
			} `json:"data"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(payload, &wire))
	assert.Equal(t, "null", string(wire.Result))
	assert.ElementsMatch(t, r.AvailableMethods(), wire.Error.Data.AvailableMethods)
	assert.Len(t, wire.Error.Data.AvailableMethods, 6)
}

func TestRouteEmptyMethod(t *testing.T) {
	r := newTestRouter(t)
	resp := r.Route(context.Background(), ipc.Request{ID: 4})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, int64(4), resp.ID)
}

func TestRouteHandlerFailures(t *testing.T) {
	r := newTestRouter(t)

	resp := r.Route(context.Background(), ipc.Request{ID: 1, Method: "fail"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeInternalError, resp.Error.Code)
	assert.Equal(t, map[string]any{"details": "boom"}, resp.Error.Data)

	resp = r.Route(context.Background(), ipc.Request{ID: 2, Method: "panic"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeInternalError, resp.Error.Code)
	assert.Nil(t, resp.Result)

	resp = r.Route(context.Background(), ipc.Request{ID: 3, Method: "missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeOperationError, resp.Error.Code)
	assert.Equal(t, "object not found", resp.Error.Message)

	resp = r.Route(context.Background(), ipc.Request{ID: 4, Method: "unserializable"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeInternalError, resp.Error.Code)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(HandlerFunc(echo), "a"))
	err := r.Register(HandlerFunc(echo), "b", "a")
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, r.AvailableMethods(), "failed registration must not partially apply")
	assert.Error(t, r.Register(nil, "c"))
	assert.Error(t, r.Register(HandlerFunc(echo)))
	assert.Error(t, r.Register(HandlerFunc(echo), " "))
}
