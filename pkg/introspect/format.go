package introspect

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// Sentinels placed in formatted output.
const (
	MaxDepthReached   = "[max depth reached]"
	CircularReference = "[Circular Reference]"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// Options bound and filter formatting.
type Options struct {
	MaxDepth   int
	MaxItems   int
	MaxMembers int
	// SkipOpaque drops channels, funcs, uintptrs and unsafe pointers.
	SkipOpaque bool
	// SkipSynthetic drops blank and zero-size marker fields.
	SkipSynthetic bool
	// InvokeGetters calls zero-argument getter methods and reports them as properties.
	InvokeGetters bool
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxDepth:      5,
		MaxItems:      50,
		MaxMembers:    10,
		SkipOpaque:    true,
		SkipSynthetic: true,
		InvokeGetters: true,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = def.MaxDepth
	}
	if o.MaxItems <= 0 {
		o.MaxItems = def.MaxItems
	}
	if o.MaxMembers <= 0 {
		o.MaxMembers = def.MaxMembers
	}
	return o
}

type visitKey struct {
	t   reflect.Type
	ptr uintptr
	n   int
}

// formatter holds the state of one top-level Format call. visited only ever
// contains the references on the current recursion path.
type formatter struct {
	opts    Options
	members *memberCache
	visited map[visitKey]struct{}
}

func newFormatter(opts Options, members *memberCache) *formatter {
	return &formatter{opts: opts, members: members, visited: make(map[visitKey]struct{})}
}

// value renders v with depth levels of containers left. recv is the pointer v
// was reached through, used for pointer-receiver getters. The bool is false
// when v should be dropped from its parent.
func (f *formatter) value(v, recv reflect.Value, depth int) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return f.value(v.Elem(), reflect.Value{}, depth)
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
	}
	if key, track := f.identity(v); track {
		if _, seen := f.visited[key]; seen {
			return CircularReference, true
		}
		f.visited[key] = struct{}{}
		defer delete(f.visited, key)
	}
	if v.Kind() == reflect.Pointer {
		return f.value(v.Elem(), v, depth)
	}

	// every value costs one level, scalars included
	if depth <= 0 {
		return MaxDepthReached, true
	}
	if isOpaqueType(v.Type()) {
		if f.opts.SkipOpaque {
			return nil, false
		}
		return "<" + v.Type().String() + ">", true
	}
	if leaf, ok := f.leaf(v); ok {
		return leaf, true
	}
	switch v.Kind() {
	case reflect.Slice:
		return f.sequence(v, "list", "count", depth), true
	case reflect.Array:
		return f.sequence(v, "array", "length", depth), true
	case reflect.Map:
		return f.dictionary(v, depth), true
	case reflect.Struct:
		return f.object(v, recv, depth), true
	}
	return v.Type().String(), true
}

// identity keys the references that can close a cycle. Empty slices and
// pointers to zero-size values may share addresses, so they are not tracked.
func (f *formatter) identity(v reflect.Value) (visitKey, bool) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.Type().Elem().Size() == 0 {
			return visitKey{}, false
		}
		return visitKey{t: v.Type(), ptr: v.Pointer()}, true
	case reflect.Map:
		return visitKey{t: v.Type(), ptr: v.Pointer()}, true
	case reflect.Slice:
		if v.Len() == 0 {
			return visitKey{}, false
		}
		return visitKey{t: v.Type(), ptr: v.Pointer(), n: v.Len()}, true
	}
	return visitKey{}, false
}

func (f *formatter) leaf(v reflect.Value) (any, bool) {
	t := v.Type()
	switch t {
	case durationType:
		return time.Duration(v.Int()).String(), true
	case timeType:
		if v.CanInterface() {
			return v.Interface().(time.Time).Format(time.RFC3339Nano), true
		}
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if name, ok := enumName(v); ok {
			return name, true
		}
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if name, ok := enumName(v); ok {
			return name, true
		}
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		fl := v.Float()
		if math.IsNaN(fl) || math.IsInf(fl, 0) {
			return strconv.FormatFloat(fl, 'g', -1, 64), true
		}
		return fl, true
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(v.Complex(), 'g', -1, 128), true
	case reflect.String:
		return v.String(), true
	}
	return nil, false
}

// enumName renders named integer types that implement fmt.Stringer by name.
func enumName(v reflect.Value) (name string, ok bool) {
	t := v.Type()
	if t.PkgPath() == "" || !t.Implements(stringerType) || !v.CanInterface() {
		return "", false
	}
	defer func() {
		if recover() != nil {
			name, ok = "", false
		}
	}()
	return v.Interface().(fmt.Stringer).String(), true
}

func (f *formatter) sequence(v reflect.Value, kind, sizeKey string, depth int) map[string]any {
	n := v.Len()
	limit := min(n, f.opts.MaxItems)
	items := make([]any, 0, limit)
	for i := 0; i < limit; i++ {
		item, keep := f.value(v.Index(i), reflect.Value{}, depth-1)
		if !keep {
			item = nil
		}
		items = append(items, item)
	}
	return map[string]any{
		"type":      kind,
		sizeKey:     n,
		"items":     items,
		"truncated": n > limit,
	}
}

func (f *formatter) dictionary(v reflect.Value, depth int) map[string]any {
	type entry struct {
		key string
		val reflect.Value
	}
	n := v.Len()
	all := make([]entry, 0, n)
	iter := v.MapRange()
	for iter.Next() {
		all = append(all, entry{key: mapKey(iter.Key()), val: iter.Value()})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].key < all[j].key })

	limit := min(len(all), f.opts.MaxItems)
	entries := make(map[string]any, limit)
	for _, e := range all[:limit] {
		val, keep := f.value(e.val, reflect.Value{}, depth-1)
		if !keep {
			continue
		}
		entries[e.key] = val
	}
	return map[string]any{
		"type":      "dictionary",
		"count":     n,
		"entries":   entries,
		"truncated": n > limit,
	}
}

func mapKey(k reflect.Value) string {
	if k.CanInterface() {
		return fmt.Sprint(k.Interface())
	}
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	case reflect.Bool:
		return strconv.FormatBool(k.Bool())
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64)
	}
	return k.Type().String()
}

func (f *formatter) object(v, recv reflect.Value, depth int) map[string]any {
	t := v.Type()
	if !recv.IsValid() && v.CanAddr() {
		recv = v.Addr()
	}
	m := f.members.get(t)

	props := make(map[string]any)
	if f.opts.InvokeGetters {
		for _, p := range m.Properties {
			if len(props) >= f.opts.MaxMembers {
				break
			}
			if p.Opaque && f.opts.SkipOpaque {
				continue
			}
			if val, ok := f.property(v, recv, p, depth-1); ok {
				props[p.Name] = val
			}
		}
	}

	fields := make(map[string]any)
	for _, fd := range m.Fields {
		if len(fields) >= f.opts.MaxMembers {
			break
		}
		if fd.Synthetic && f.opts.SkipSynthetic {
			continue
		}
		if fd.Opaque && f.opts.SkipOpaque {
			continue
		}
		val, keep := f.value(v.Field(fd.index), reflect.Value{}, depth-1)
		if !keep {
			continue
		}
		fields[fd.Name] = val
	}

	return map[string]any{
		"type":       ShortName(t),
		"full_type":  FullName(t),
		"properties": props,
		"fields":     fields,
	}
}

// property calls one getter. Panics and returned errors are reported inline.
func (f *formatter) property(v, recv reflect.Value, p Property, depth int) (val any, ok bool) {
	target := v
	if recv.IsValid() {
		target = recv
	} else if p.PointerReceiver {
		return nil, false
	}
	if !target.CanInterface() {
		return nil, false
	}
	method := target.MethodByName(p.Name)
	if !method.IsValid() {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			val, ok = unreadable(fmt.Sprint(r)), true
		}
	}()
	out := method.Call(nil)
	if p.ReturnsError && !out[1].IsNil() {
		return unreadable(out[1].Interface().(error).Error()), true
	}
	return f.value(out[0], reflect.Value{}, depth)
}

func unreadable(msg string) map[string]any {
	return map[string]any{"error": msg, "readable": false}
}
