package builtin

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/liveprobe/pkg/introspect"
	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/journal"
	"github.com/rexliu/liveprobe/pkg/router"
)

type Transform struct {
	X, Y float64
}

type Health struct {
	Current, Max int
}

func (Health) ComponentName() string { return "health" }

type Player struct {
	Name      string
	Transform *Transform
	Health    *Health
}

func (p *Player) Components() []any { return []any{p.Transform, p.Health} }

type Truck struct {
	Plate string
}

type fixture struct {
	router *router.Router
	engine *introspect.Engine
}

func newFixture(t *testing.T, log RequestLog) *fixture {
	t.Helper()
	engine := introspect.New(introspect.DefaultOptions())
	require.NoError(t, engine.Register(&Player{}, &Transform{}, &Health{}, &Truck{}))

	scene := NewScene()
	require.NoError(t, scene.Add("Player", &Player{
		Name:      "ada",
		Transform: &Transform{X: 1, Y: 2},
		Health:    &Health{Current: 80, Max: 100},
	}))
	require.NoError(t, scene.Add("Truck", &Truck{Plate: "XYZ"}))

	r := router.New(nil)
	require.NoError(t, Register(r, Deps{
		Name:    "probed",
		Version: "test",
		Engine:  engine,
		Scene:   scene,
		Journal: log,
		Now:     func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}))
	return &fixture{router: r, engine: engine}
}

func (f *fixture) call(t *testing.T, method string, params any) ipc.Response {
	t.Helper()
	req := ipc.Request{ID: 1, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = raw
	}
	return f.router.Route(context.Background(), req)
}

func (f *fixture) result(t *testing.T, method string, params any) map[string]any {
	t.Helper()
	resp := f.call(t, method, params)
	require.Nil(t, resp.Error, "%s: %v", method, resp.Error)
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out
}

func (f *fixture) failure(t *testing.T, method string, params any) *ipc.Error {
	t.Helper()
	resp := f.call(t, method, params)
	require.NotNil(t, resp.Error, method)
	return resp.Error
}

func TestHandshakeListsMethods(t *testing.T) {
	f := newFixture(t, nil)
	out := f.result(t, "handshake", nil)
	assert.Equal(t, "probed", out["server"])
	assert.Equal(t, ProtocolName, out["protocol"])
	assert.ElementsMatch(t, []any{
		"handshake", "heartbeat", "inspect_object", "find_type",
		"list_types", "describe_type", "clear_cache", "get_request_log",
	}, out["methods"])

	hb := f.result(t, "heartbeat", nil)
	assert.Equal(t, "heartbeat", hb["type"])
	assert.Equal(t, "2024-01-02T03:04:05Z", hb["timestamp"])
}

func TestInspectObject(t *testing.T) {
	f := newFixture(t, nil)
	out := f.result(t, "inspect_object", map[string]any{"object_name": "player"})
	assert.Equal(t, "Player", out["object_name"])
	assert.Equal(t, "Player", out["object_type"])

	data := out["data"].(map[string]any)
	assert.Equal(t, "Player", data["type"])
	fields := data["fields"].(map[string]any)
	assert.Equal(t, "ada", fields["Name"])
	health := fields["Health"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, float64(80), health["Current"])
}

func TestInspectObjectComponent(t *testing.T) {
	f := newFixture(t, nil)
	out := f.result(t, "inspect_object", map[string]any{"object_name": "Player", "object_type": "Health"})
	assert.Equal(t, "Health", out["object_type"])
	fields := out["data"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, float64(100), fields["Max"])

	rpcErr := f.failure(t, "inspect_object", map[string]any{"object_name": "Truck", "object_type": "Transform"})
	assert.Equal(t, ipc.CodeOperationError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "Component 'Transform' not found")
}

func TestInspectObjectDepth(t *testing.T) {
	f := newFixture(t, nil)
	out := f.result(t, "inspect_object", map[string]any{"object_name": "Player", "depth": 1})
	fields := out["data"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, introspect.MaxDepthReached, fields["Health"])
	assert.Equal(t, introspect.MaxDepthReached, fields["Name"])

	out = f.result(t, "inspect_object", map[string]any{"object_name": "Player", "depth": 2})
	fields = out["data"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "ada", fields["Name"])

	rpcErr := f.failure(t, "inspect_object", map[string]any{"object_name": "Player", "depth": 0})
	assert.Equal(t, ipc.CodeInvalidParams, rpcErr.Code)
}

func TestInspectObjectErrors(t *testing.T) {
	f := newFixture(t, nil)
	rpcErr := f.failure(t, "inspect_object", map[string]any{})
	assert.Equal(t, ipc.CodeInvalidParams, rpcErr.Code)

	rpcErr = f.failure(t, "inspect_object", map[string]any{"object_name": "Playr"})
	assert.Equal(t, ipc.CodeOperationError, rpcErr.Code)
	assert.Equal(t, "Object 'Playr' not found", rpcErr.Message)
	assert.Equal(t, map[string]any{"suggestions": []string{"Player"}}, rpcErr.Data)

	rpcErr = f.failure(t, "inspect_object", map[string]any{"object_name": "Player", "object_type": "Spaceship"})
	assert.Equal(t, ipc.CodeOperationError, rpcErr.Code)

	rpcErr = f.failure(t, "inspect_object", map[string]any{"object_name": 5})
	assert.Equal(t, ipc.CodeInvalidParams, rpcErr.Code)
}

func TestTypeMethods(t *testing.T) {
	f := newFixture(t, nil)

	found := f.result(t, "find_type", map[string]any{"query": "health"})
	best := found["best"].(map[string]any)
	assert.Equal(t, "Health", best["name"])
	assert.Equal(t, float64(introspect.ScoreExactShort), best["score"])

	rpcErr := f.failure(t, "find_type", map[string]any{"query": "Helth"})
	assert.Equal(t, ipc.CodeOperationError, rpcErr.Code)
	assert.Equal(t, map[string]any{"suggestions": []string{"Health"}}, rpcErr.Data)

	listed := f.result(t, "list_types", map[string]any{"filter": "TRUCK"})
	assert.Equal(t, float64(1), listed["count"])

	all := f.result(t, "list_types", nil)
	assert.Equal(t, float64(4), all["count"])

	described := f.result(t, "describe_type", map[string]any{"type_name": "Health"})
	assert.Equal(t, true, described["component"])
	members := described["members"].(map[string]any)
	assert.Len(t, members["fields"], 2)

	cleared := f.result(t, "clear_cache", nil)
	assert.GreaterOrEqual(t, cleared["members_cleared"], float64(1))
	assert.GreaterOrEqual(t, cleared["types_cleared"], float64(1))
	assert.Equal(t, 0, f.engine.Stats().Members)
}

func TestRequestLog(t *testing.T) {
	f := newFixture(t, nil)
	rpcErr := f.failure(t, "get_request_log", nil)
	assert.Equal(t, ipc.CodeOperationError, rpcErr.Code)

	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	_, err = store.Record(context.Background(), journal.Entry{RequestID: 9, Method: "handshake"})
	require.NoError(t, err)

	f = newFixture(t, store)
	out := f.result(t, "get_request_log", map[string]any{"limit": 5})
	entries := out["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "handshake", entries[0].(map[string]any)["method"])
	stats := out["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total"])
}

func TestSceneRegistry(t *testing.T) {
	s := NewScene()
	require.NoError(t, s.Add("b", 1))
	require.NoError(t, s.Add("a", 2))
	assert.Error(t, s.Add("a", 3))
	assert.Error(t, s.Add("", 3))
	assert.Error(t, s.Add("c", nil))
	assert.Equal(t, []string{"a", "b"}, s.Names())

	name, obj, ok := s.Find("B")
	require.True(t, ok)
	assert.Equal(t, "b", name)
	assert.Equal(t, 1, obj)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
}
