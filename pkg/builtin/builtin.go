// Package builtin provides the methods every probe server answers: session
// discovery and live object inspection.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rexliu/liveprobe/pkg/introspect"
	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/journal"
	"github.com/rexliu/liveprobe/pkg/router"
)

// ProtocolName identifies the wire format in handshake replies.
const ProtocolName = "length-prefixed-json/1"

// maxCandidates caps the candidate list returned by find_type.
const maxCandidates = 20

// RequestLog is the read side of the exchange journal.
type RequestLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// Deps are the collaborators the built-in methods work against. Journal may be nil.
type Deps struct {
	Name    string
	Version string
	Engine  *introspect.Engine
	Scene   *Scene
	Journal RequestLog
	Now     func() time.Time
}

type methodFunc func(ctx context.Context, req *ipc.Request) (any, error)

// group is one handler instance serving a related set of methods.
type group map[string]methodFunc

func (g group) Handle(ctx context.Context, req *ipc.Request) (any, error) {
	fn, ok := g[req.Method]
	if !ok {
		return nil, ipc.MethodNotFound(req.Method, g.names())
	}
	return fn(ctx, req)
}

func (g group) names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register installs the built-in methods on r.
func Register(r *router.Router, deps Deps) error {
	if deps.Engine == nil {
		return errors.New("builtin: engine required")
	}
	if deps.Scene == nil {
		deps.Scene = NewScene()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{deps: deps, router: r}
	groups := []group{
		{
			"handshake": h.handshake,
			"heartbeat": h.heartbeat,
		},
		{
			"inspect_object": h.inspectObject,
			"find_type":      h.findType,
			"list_types":     h.listTypes,
			"describe_type":  h.describeType,
			"clear_cache":    h.clearCache,
		},
		{
			"get_request_log": h.requestLog,
		},
	}
	for _, g := range groups {
		if err := r.Register(g, g.names()...); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	deps   Deps
	router *router.Router
}

func (h *handlers) handshake(context.Context, *ipc.Request) (any, error) {
	return map[string]any{
		"server":   h.deps.Name,
		"version":  h.deps.Version,
		"protocol": ProtocolName,
		"methods":  h.router.AvailableMethods(),
		"instructions": "Send one request at a time and acknowledge every response with " +
			`{"id": <id>, "status": "received"}. Responses with result.type "server_heartbeat" are unsolicited.`,
	}, nil
}

func (h *handlers) heartbeat(context.Context, *ipc.Request) (any, error) {
	return map[string]any{
		"type":      "heartbeat",
		"timestamp": h.deps.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

type inspectParams struct {
	ObjectName string `json:"object_name"`
	ObjectType string `json:"object_type"`
	Depth      *int   `json:"depth"`
}

func (h *handlers) inspectObject(_ context.Context, req *ipc.Request) (any, error) {
	var p inspectParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.ObjectName) == "" {
		return nil, ipc.InvalidParams("object_name is required")
	}
	depth := h.deps.Engine.Options().MaxDepth
	if p.Depth != nil {
		if *p.Depth < 1 || *p.Depth > 10 {
			return nil, ipc.InvalidParams("depth must be between 1 and 10")
		}
		depth = *p.Depth
	}

	name, obj, ok := h.deps.Scene.Find(p.ObjectName)
	if !ok {
		return nil, ipc.OperationError(
			fmt.Sprintf("Object '%s' not found", p.ObjectName),
			map[string]any{"suggestions": introspect.Suggest(p.ObjectName, h.deps.Scene.Names())},
		)
	}
	target := obj
	if p.ObjectType != "" && !strings.EqualFold(p.ObjectType, "object") {
		var err error
		if target, err = h.selectComponent(name, obj, p.ObjectType); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"object_name": name,
		"object_type": introspect.ShortName(indirect(reflect.TypeOf(target))),
		"data":        h.deps.Engine.FormatDepth(target, depth),
	}, nil
}

// selectComponent returns obj itself when it has the requested type, or the
// first of its components that does.
func (h *handlers) selectComponent(name string, obj any, typeName string) (any, error) {
	info, err := h.deps.Engine.Resolve(typeName, true)
	if err != nil {
		return nil, notFound(err)
	}
	if indirect(reflect.TypeOf(obj)) == info.Type {
		return obj, nil
	}
	var available []string
	if c, ok := obj.(Container); ok {
		for _, comp := range c.Components() {
			t := indirect(reflect.TypeOf(comp))
			if t == info.Type {
				return comp, nil
			}
			available = append(available, introspect.ShortName(t))
		}
	}
	return nil, ipc.OperationError(
		fmt.Sprintf("Component '%s' not found on '%s'", info.Name, name),
		map[string]any{"available": available},
	)
}

type findTypeParams struct {
	Query string `json:"query"`
}

func (h *handlers) findType(_ context.Context, req *ipc.Request) (any, error) {
	var p findTypeParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, ipc.InvalidParams("query is required")
	}
	ranked := h.deps.Engine.FindType(p.Query)
	if len(ranked) == 0 {
		return nil, ipc.OperationError(
			fmt.Sprintf("No type matches '%s'", p.Query),
			map[string]any{"suggestions": h.deps.Engine.Suggest(p.Query)},
		)
	}
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}
	return map[string]any{
		"best":       ranked[0],
		"candidates": ranked,
	}, nil
}

type listTypesParams struct {
	Filter string `json:"filter"`
}

func (h *handlers) listTypes(_ context.Context, req *ipc.Request) (any, error) {
	var p listTypesParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	filter := strings.ToLower(p.Filter)
	names := []string{}
	for _, t := range h.deps.Engine.Types() {
		if filter == "" || strings.Contains(strings.ToLower(t.FullName), filter) {
			names = append(names, t.FullName)
		}
	}
	return map[string]any{"types": names, "count": len(names)}, nil
}

type describeTypeParams struct {
	TypeName string `json:"type_name"`
}

func (h *handlers) describeType(_ context.Context, req *ipc.Request) (any, error) {
	var p describeTypeParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.TypeName) == "" {
		return nil, ipc.InvalidParams("type_name is required")
	}
	info, err := h.deps.Engine.Resolve(p.TypeName, true)
	if err != nil {
		return nil, notFound(err)
	}
	return map[string]any{
		"name":      info.Name,
		"full_name": info.FullName,
		"component": info.IsComponent(),
		"members":   h.deps.Engine.Members(info.Type),
	}, nil
}

func (h *handlers) clearCache(context.Context, *ipc.Request) (any, error) {
	stats := h.deps.Engine.ClearCache()
	return map[string]any{
		"types_cleared":   stats.Types,
		"members_cleared": stats.Members,
	}, nil
}

type requestLogParams struct {
	Limit int `json:"limit"`
}

func (h *handlers) requestLog(ctx context.Context, req *ipc.Request) (any, error) {
	if h.deps.Journal == nil {
		return nil, ipc.OperationError("request journal is disabled", nil)
	}
	var p requestLogParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, ipc.InvalidParams("limit must not be negative")
	}
	entries, err := h.deps.Journal.Recent(ctx, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	stats, err := h.deps.Journal.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return map[string]any{"entries": entries, "stats": stats}, nil
}

func notFound(err error) error {
	var nf *introspect.NotFoundError
	if errors.As(err, &nf) {
		return ipc.OperationError(
			fmt.Sprintf("Type '%s' not found", nf.Query),
			map[string]any{"suggestions": nf.Suggestions},
		)
	}
	return err
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
