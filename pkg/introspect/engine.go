package introspect

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// NotFoundError reports a failed lookup with close names the caller may have meant.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("type %q not found", e.Query)
	}
	return fmt.Sprintf("type %q not found (did you mean %v?)", e.Query, e.Suggestions)
}

// Is makes errors.Is(err, ErrTypeNotFound) hold.
func (e *NotFoundError) Is(target error) bool { return target == ErrTypeNotFound }

// CacheStats counts cached entries.
type CacheStats struct {
	Types   int `json:"types"`
	Members int `json:"members"`
}

type resolveKey struct {
	name  string
	fuzzy bool
}

type resolution struct {
	info TypeInfo
	err  error
}

// Engine owns the type registry and both caches. Cached resolutions, including
// failures, stay until ClearCache.
type Engine struct {
	opts    Options
	reg     *registry
	members *memberCache

	mu       sync.RWMutex
	resolved map[resolveKey]resolution
}

// New builds an engine; zero limits in opts take the defaults.
func New(opts Options) *Engine {
	return &Engine{
		opts:     opts.withDefaults(),
		reg:      newRegistry(),
		members:  newMemberCache(),
		resolved: make(map[resolveKey]resolution),
	}
}

// Options returns the formatting options in effect.
func (e *Engine) Options() Options { return e.opts }

// Register makes the types of the given sample values resolvable.
func (e *Engine) Register(samples ...any) error {
	for _, s := range samples {
		if _, err := e.RegisterType(reflect.TypeOf(s)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterType makes t resolvable under its dotted full name.
func (e *Engine) RegisterType(t reflect.Type) (TypeInfo, error) {
	return e.reg.add("", t)
}

// RegisterNamed makes the type of sample resolvable under an explicit dotted name.
func (e *Engine) RegisterNamed(name string, sample any) (TypeInfo, error) {
	return e.reg.add(name, reflect.TypeOf(sample))
}

// Types lists registered types sorted by full name.
func (e *Engine) Types() []TypeInfo {
	types := e.reg.snapshot()
	sort.Slice(types, func(i, j int) bool { return types[i].FullName < types[j].FullName })
	return types
}

// Resolve finds a registered type by name. The exact full name is tried first;
// with fuzzy set, short names and partial names are scored and the best match
// wins, component types first among equal scores.
func (e *Engine) Resolve(name string, fuzzy bool) (TypeInfo, error) {
	key := resolveKey{name: name, fuzzy: fuzzy}
	e.mu.RLock()
	cached, ok := e.resolved[key]
	e.mu.RUnlock()
	if ok {
		return cached.info, cached.err
	}

	info, err := e.resolve(name, fuzzy)
	e.mu.Lock()
	e.resolved[key] = resolution{info: info, err: err}
	e.mu.Unlock()
	return info, err
}

func (e *Engine) resolve(name string, fuzzy bool) (TypeInfo, error) {
	if info, ok := e.reg.exact(name); ok {
		return info, nil
	}
	types := e.reg.snapshot()
	if fuzzy {
		ranked := Rank(name, candidates(types))
		if len(ranked) > 0 {
			best := ranked[0]
			for _, r := range ranked {
				if r.Score < best.Score {
					break
				}
				if info, ok := e.reg.exact(r.FullName); ok && info.IsComponent() {
					return info, nil
				}
			}
			if info, ok := e.reg.exact(best.FullName); ok {
				return info, nil
			}
		}
	}
	return TypeInfo{}, &NotFoundError{Query: name, Suggestions: Suggest(name, shortNames(types))}
}

// FindType scores every registered type against query, best first.
func (e *Engine) FindType(query string) []Scored {
	return Rank(query, candidates(e.reg.snapshot()))
}

// Suggest offers registered short names close to query.
func (e *Engine) Suggest(query string) []string {
	return Suggest(query, shortNames(e.reg.snapshot()))
}

// Members returns the cached member listing of t. Pointer types are described
// by their element type.
func (e *Engine) Members(t reflect.Type) *Members {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return e.members.get(t)
}

// Format renders x with the engine's options.
func (e *Engine) Format(x any) any {
	return e.FormatWith(x, e.opts)
}

// FormatDepth renders x with a different depth budget.
func (e *Engine) FormatDepth(x any, depth int) any {
	opts := e.opts
	opts.MaxDepth = depth
	return e.FormatWith(x, opts)
}

// FormatWith renders x with explicit options. MaxDepth is taken as given, so a
// budget of zero or less yields MaxDepthReached; other zero limits take the
// defaults.
func (e *Engine) FormatWith(x any, opts Options) any {
	depth := opts.MaxDepth
	opts = opts.withDefaults()
	opts.MaxDepth = depth
	f := newFormatter(opts, e.members)
	out, keep := f.value(reflect.ValueOf(x), reflect.Value{}, opts.MaxDepth)
	if !keep {
		return nil
	}
	return out
}

// ClearCache drops cached resolutions and member listings and reports how
// many entries were dropped.
func (e *Engine) ClearCache() CacheStats {
	e.mu.Lock()
	n := len(e.resolved)
	e.resolved = make(map[resolveKey]resolution)
	e.mu.Unlock()
	return CacheStats{Types: n, Members: e.members.clear()}
}

// Stats reports current cache sizes.
func (e *Engine) Stats() CacheStats {
	e.mu.RLock()
	n := len(e.resolved)
	e.mu.RUnlock()
	return CacheStats{Types: n, Members: e.members.len()}
}

func candidates(types []TypeInfo) []Candidate {
	out := make([]Candidate, len(types))
	for i, t := range types {
		out[i] = Candidate{Name: t.Name, FullName: t.FullName, Namespace: t.Namespace}
	}
	return out
}

func shortNames(types []TypeInfo) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.Name
	}
	return out
}
