package facts

import (
	"context"
	"sync"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Scoper is a fact provider that can give each compilation a private view
// of its fact environment.
type Scoper interface {
	Scope(ctx context.Context, env engine.Facts) (context.Context, func())
}

// Registry is an in-process fact provider. Compilers that resolve facts by
// name read them from here. Facts registered with Register are visible to
// every lookup; facts attached with Scope are visible only to lookups made
// with the scoped context, so concurrent compilations do not see each
// other's environments.
type Registry struct {
	mu     sync.RWMutex
	facts  map[string]any
	active int
}

var (
	_ engine.FactProvider = (*Registry)(nil)
	_ Scoper              = (*Registry)(nil)
)

type scopeKey struct{}

type scope struct {
	owner *Registry
	facts engine.Facts
}

// NewRegistry creates an empty fact registry.
func NewRegistry() *Registry {
	return &Registry{facts: make(map[string]any)}
}

// Register makes name resolve to value. The last registration wins.
func (r *Registry) Register(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts[name] = value
}

// Lookup returns the value registered for name.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.facts[name]
	return v, ok
}

// LookupContext returns the value for name as seen from ctx: facts scoped
// to ctx by this registry first, then registered facts.
func (r *Registry) LookupContext(ctx context.Context, name string) (any, bool) {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok && s.owner == r {
		if v, ok := s.facts[name]; ok {
			return v, true
		}
	}
	return r.Lookup(name)
}

// Scope returns a context carrying a copy of env for one compilation and a
// release function. Release is idempotent.
func (r *Registry) Scope(ctx context.Context, env engine.Facts) (context.Context, func()) {
	s := &scope{owner: r, facts: env.Clone()}

	r.mu.Lock()
	r.active++
	r.mu.Unlock()

	var once sync.Once
	return context.WithValue(ctx, scopeKey{}, s), func() {
		once.Do(func() {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
		})
	}
}

// Active returns the number of unreleased scopes.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Snapshot returns a copy of every registered fact.
func (r *Registry) Snapshot() engine.Facts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return engine.Facts(r.facts).Clone()
}

// Stub registers every fact in env globally and returns a release function
// that restores the registry to its previous state for those names. Release
// is idempotent; nested stubs must be released in reverse order, so Stub
// is not suitable for concurrent compilations. Use Scope for those.
func (r *Registry) Stub(env engine.Facts) (release func()) {
	type previous struct {
		value  any
		exists bool
	}

	r.mu.Lock()
	saved := make(map[string]previous, len(env))
	for name, value := range env {
		old, ok := r.facts[name]
		saved[name] = previous{value: old, exists: ok}
		r.facts[name] = value
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for name, p := range saved {
				if p.exists {
					r.facts[name] = p.value
				} else {
					delete(r.facts, name)
				}
			}
		})
	}
}

// StubProvider registers env with an arbitrary provider. Providers that are
// not a *Registry cannot be rolled back, so the returned release is a no-op
// for them.
func StubProvider(p engine.FactProvider, env engine.Facts) (release func()) {
	if r, ok := p.(*Registry); ok {
		return r.Stub(env)
	}
	for _, name := range SortedKeys(env) {
		p.Register(name, env[name])
	}
	return func() {}
}
