// Package introspect resolves registered Go types by name and renders live
// values as bounded, JSON-safe trees.
package introspect

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrTypeNotFound is returned when a name matches no registered type.
var ErrTypeNotFound = errors.New("type not found")

// Component marks types that represent inspectable scene components. When a
// fuzzy lookup is ambiguous, component types win.
type Component interface {
	ComponentName() string
}

var componentType = reflect.TypeOf((*Component)(nil)).Elem()

// TypeInfo describes one registered type.
type TypeInfo struct {
	Name      string
	FullName  string
	Namespace string
	Type      reflect.Type
}

// IsComponent reports whether the type (or a pointer to it) implements Component.
func (ti TypeInfo) IsComponent() bool {
	return isComponent(ti.Type)
}

func isComponent(t reflect.Type) bool {
	if t.Implements(componentType) {
		return true
	}
	return t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(componentType)
}

// registry holds the set of types the host has made resolvable, in
// registration order.
type registry struct {
	mu     sync.RWMutex
	byName map[string]int
	types  []TypeInfo
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]int)}
}

func (r *registry) add(fullName string, t reflect.Type) (TypeInfo, error) {
	if t == nil {
		return TypeInfo{}, errors.New("nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if fullName == "" {
		fullName = FullName(t)
	}
	if fullName == "" {
		return TypeInfo{}, fmt.Errorf("type %s has no name", t)
	}
	ns, short := splitName(fullName)
	info := TypeInfo{Name: short, FullName: fullName, Namespace: ns, Type: t}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byName[fullName]; ok {
		if r.types[idx].Type != t {
			return TypeInfo{}, fmt.Errorf("name %s already registered for %s", fullName, r.types[idx].Type)
		}
		return r.types[idx], nil
	}
	r.byName[fullName] = len(r.types)
	r.types = append(r.types, info)
	return info, nil
}

func (r *registry) exact(fullName string) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[fullName]
	if !ok {
		return TypeInfo{}, false
	}
	return r.types[idx], true
}

func (r *registry) snapshot() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, len(r.types))
	copy(out, r.types)
	return out
}

// FullName returns the dotted name used for t: the package import path with
// slashes turned into dots, then the type name. Unnamed types use their
// literal spelling.
func FullName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return strings.ReplaceAll(t.PkgPath(), "/", ".") + "." + t.Name()
}

// ShortName returns the unqualified type name.
func ShortName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func splitName(full string) (ns, short string) {
	// generic instantiations carry dots inside the brackets
	base := full
	if i := strings.IndexByte(base, '['); i >= 0 {
		base = base[:i]
	}
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return "", full
	}
	return full[:i], full[i+1:]
}
