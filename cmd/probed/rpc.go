package main

import (
	"context"
	"reflect"
	"sort"

	"github.com/rexliu/liveprobe/pkg/introspect"
	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/router"
)

func (d *daemon) registerHandlers(r *router.Router) error {
	if err := r.RegisterFunc("list_objects", d.handleListObjects); err != nil {
		return err
	}
	return r.RegisterFunc("world_status", d.handleWorldStatus)
}

type sceneObject struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (d *daemon) handleListObjects(ctx context.Context, req *ipc.Request) (any, error) {
	names := d.scene.Names()
	objects := make([]sceneObject, 0, len(names))
	for _, name := range names {
		_, obj, ok := d.scene.Find(name)
		if !ok {
			continue
		}
		t := reflect.TypeOf(obj)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		objects = append(objects, sceneObject{Name: name, Type: introspect.ShortName(t)})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return map[string]any{"objects": objects}, nil
}

func (d *daemon) handleWorldStatus(ctx context.Context, req *ipc.Request) (any, error) {
	d.world.mu.Lock()
	defer d.world.mu.Unlock()
	return map[string]any{
		"frame":     d.world.Frame,
		"elapsed":   d.world.Elapsed.String(),
		"players":   len(d.world.Players),
		"vehicles":  len(d.world.Vehicles),
		"connected": d.server.Connected(),
	}, nil
}
