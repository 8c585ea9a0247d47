package introspect

import (
	"reflect"
	"sort"
	"sync"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Field is a struct field, exported or not.
type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Exported  bool   `json:"exported"`
	Embedded  bool   `json:"embedded,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Opaque    bool   `json:"opaque,omitempty"`

	index int
}

// Property is a zero-argument getter: a method returning T or (T, error).
type Property struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	PointerReceiver bool   `json:"pointer_receiver,omitempty"`
	ReturnsError    bool   `json:"returns_error,omitempty"`
	Opaque          bool   `json:"opaque,omitempty"`
}

// Method is any other exported method.
type Method struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Members is the cached member listing of one type.
type Members struct {
	Type       string     `json:"type"`
	FullType   string     `json:"full_type"`
	Kind       string     `json:"kind"`
	Fields     []Field    `json:"fields"`
	Properties []Property `json:"properties"`
	Methods    []Method   `json:"methods"`
}

// memberCache computes member listings once per type.
type memberCache struct {
	mu      sync.RWMutex
	entries map[reflect.Type]*Members
}

func newMemberCache() *memberCache {
	return &memberCache{entries: make(map[reflect.Type]*Members)}
}

func (c *memberCache) get(t reflect.Type) *Members {
	c.mu.RLock()
	m, ok := c.entries[t]
	c.mu.RUnlock()
	if ok {
		return m
	}
	m = enumerate(t)
	c.mu.Lock()
	if existing, ok := c.entries[t]; ok {
		m = existing
	} else {
		c.entries[t] = m
	}
	c.mu.Unlock()
	return m
}

func (c *memberCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[reflect.Type]*Members)
	return n
}

func (c *memberCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func enumerate(t reflect.Type) *Members {
	m := &Members{
		Type:     ShortName(t),
		FullType: FullName(t),
		Kind:     t.Kind().String(),
	}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			m.Fields = append(m.Fields, Field{
				Name:      sf.Name,
				Type:      sf.Type.String(),
				Exported:  sf.IsExported(),
				Embedded:  sf.Anonymous,
				Synthetic: isSynthetic(sf),
				Opaque:    isOpaqueType(sf.Type),
				index:     i,
			})
		}
	}

	if t.Kind() == reflect.Interface {
		for i := 0; i < t.NumMethod(); i++ {
			meth := t.Method(i)
			m.Methods = append(m.Methods, Method{Name: meth.Name, Signature: meth.Type.String()})
		}
		return m
	}

	// the pointer method set is a superset of the value one
	pt := t
	if t.Kind() != reflect.Pointer {
		pt = reflect.PointerTo(t)
	}
	for i := 0; i < pt.NumMethod(); i++ {
		meth := pt.Method(i)
		_, onValue := t.MethodByName(meth.Name)
		if prop, ok := asProperty(meth); ok {
			prop.PointerReceiver = !onValue && pt != t
			m.Properties = append(m.Properties, prop)
			continue
		}
		m.Methods = append(m.Methods, Method{Name: meth.Name, Signature: meth.Type.String()})
	}
	sort.Slice(m.Properties, func(i, j int) bool { return m.Properties[i].Name < m.Properties[j].Name })
	sort.Slice(m.Methods, func(i, j int) bool { return m.Methods[i].Name < m.Methods[j].Name })
	return m
}

// methods that look like getters but are not state
var notProperties = map[string]bool{
	"String":        true,
	"GoString":      true,
	"Error":         true,
	"MarshalJSON":   true,
	"MarshalText":   true,
	"MarshalBinary": true,
	"ComponentName": true,
}

func asProperty(meth reflect.Method) (Property, bool) {
	mt := meth.Type
	// receiver is the only argument
	if mt.NumIn() != 1 || mt.IsVariadic() || notProperties[meth.Name] {
		return Property{}, false
	}
	var returnsErr bool
	switch mt.NumOut() {
	case 1:
		if mt.Out(0) == errorType {
			return Property{}, false
		}
	case 2:
		if mt.Out(1) != errorType {
			return Property{}, false
		}
		returnsErr = true
	default:
		return Property{}, false
	}
	return Property{
		Name:         meth.Name,
		Type:         mt.Out(0).String(),
		ReturnsError: returnsErr,
		Opaque:       isOpaqueType(mt.Out(0)),
	}, true
}

// isSynthetic flags blank padding fields and zero-size marker fields such as
// noCopy guards; they carry no state.
func isSynthetic(sf reflect.StructField) bool {
	if sf.Name == "_" {
		return true
	}
	return sf.Type.Kind() == reflect.Struct && sf.Type.Size() == 0
}

func isOpaqueType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.UnsafePointer, reflect.Uintptr, reflect.Chan, reflect.Func:
		return true
	}
	return false
}
