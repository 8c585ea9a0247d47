package builtin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Container is implemented by scene objects that carry components, so
// inspect_object can select one by type.
type Container interface {
	Components() []any
}

// Scene is the set of named live objects a client may inspect.
type Scene struct {
	mu      sync.RWMutex
	objects map[string]any
}

// NewScene returns an empty scene.
func NewScene() *Scene {
	return &Scene{objects: make(map[string]any)}
}

// Add registers obj under name.
func (s *Scene) Add(name string, obj any) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("object name required")
	}
	if obj == nil {
		return fmt.Errorf("object %s is nil", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[name]; exists {
		return fmt.Errorf("object %s already in scene", name)
	}
	s.objects[name] = obj
	return nil
}

// Remove drops name from the scene.
func (s *Scene) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	delete(s.objects, name)
	return ok
}

// Find looks name up exactly, then ignoring case.
func (s *Scene) Find(name string) (string, any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if obj, ok := s.objects[name]; ok {
		return name, obj, true
	}
	for _, key := range s.sortedLocked() {
		if strings.EqualFold(key, name) {
			return key, s.objects[key], true
		}
	}
	return "", nil, false
}

// Names lists object names in sorted order.
func (s *Scene) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Scene) sortedLocked() []string {
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
