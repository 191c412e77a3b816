// internal/fixture/resolver.go
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Resolver instantiates fixtures lazily, exactly once per scope instance,
// running setups in dependency order. Resolvers form a chain mirroring the
// scopes: a test resolver's parent is a worker resolver, whose parent is
// the process resolver; each fixture lives in the resolver matching its
// declared scope.
type Resolver struct {
	registry *Registry
	logger   *zap.Logger
	scope    Scope
	parent   *Resolver

	mu       sync.Mutex
	values   map[string]any
	order    []string
	inflight map[string]*inflightCall
	torn     bool
}

type inflightCall struct {
	done  chan struct{}
	value any
	err   error
}

// NewProcessResolver creates the root, process-scoped resolver.
func NewProcessResolver(registry *Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newResolver(registry, logger.Named("fixtures"), ScopeProcess, nil)
}

func newResolver(registry *Registry, logger *zap.Logger, scope Scope, parent *Resolver) *Resolver {
	return &Resolver{
		registry: registry,
		logger:   logger,
		scope:    scope,
		parent:   parent,
		values:   make(map[string]any),
		inflight: make(map[string]*inflightCall),
	}
}

// NewWorkerScope derives a worker-scoped resolver, one per execution lane.
func (r *Resolver) NewWorkerScope() *Resolver {
	if r.scope != ScopeProcess {
		panic("worker scopes derive from the process resolver")
	}
	return newResolver(r.registry, r.logger, ScopeWorker, r)
}

// NewTestScope derives a test-scoped resolver, one per test attempt.
func (r *Resolver) NewTestScope() *Resolver {
	if r.scope != ScopeWorker {
		panic("test scopes derive from a worker resolver")
	}
	return newResolver(r.registry, r.logger, ScopeTest, r)
}

// Scope returns the resolver's scope.
func (r *Resolver) Scope() Scope { return r.scope }

// Resolve instantiates name and its transitive dependencies. If any setup
// fails, every fixture this call set up is torn down in reverse order
// before the failure propagates; nothing is left dangling.
func (r *Resolver) Resolve(ctx context.Context, name string) (any, error) {
	chain := &setupChain{}
	value, err := r.resolve(ctx, name, chain, make(map[string]bool), nil)
	if err != nil {
		chain.rollback(ctx, r.logger)
		return nil, err
	}
	return value, nil
}

func (r *Resolver) resolve(ctx context.Context, name string, chain *setupChain, onPath map[string]bool, path []string) (any, error) {
	def, err := r.registry.lookup(name)
	if err != nil {
		return nil, err
	}
	host, err := r.hostFor(def.scope)
	if err != nil {
		return nil, fmt.Errorf("fixture %q: %w", name, err)
	}

	if onPath[name] {
		return nil, &schemas.CycleError{Path: append(append([]string{}, path...), name)}
	}

	host.mu.Lock()
	if host.torn {
		host.mu.Unlock()
		return nil, fmt.Errorf("fixture %q: %s scope already torn down", name, host.scope)
	}
	if v, ok := host.values[name]; ok {
		host.mu.Unlock()
		return v, nil
	}
	if call, ok := host.inflight[name]; ok {
		// Another flow is setting this fixture up; share its outcome.
		host.mu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	host.inflight[name] = call
	host.mu.Unlock()

	onPath[name] = true
	path = append(path, name)

	value, err := r.runSetup(ctx, def, host, chain, onPath, path)

	delete(onPath, name)

	host.mu.Lock()
	delete(host.inflight, name)
	if err == nil {
		host.values[name] = value
		host.order = append(host.order, name)
	}
	host.mu.Unlock()

	call.value, call.err = value, err
	close(call.done)

	if err == nil {
		chain.add(host, def, value)
	}
	return value, err
}

func (r *Resolver) runSetup(ctx context.Context, def *definition, host *Resolver, chain *setupChain, onPath map[string]bool, path []string) (any, error) {
	deps := make(Deps, len(def.deps))
	for _, depName := range def.deps {
		depDef, err := r.registry.lookup(depName)
		if err != nil {
			return nil, fmt.Errorf("fixture %q: %w", def.name, err)
		}
		if depDef.scope < def.scope {
			return nil, fmt.Errorf("fixture %q (%s) cannot depend on %q (%s): dependency scope is narrower",
				def.name, def.scope, depName, depDef.scope)
		}
		v, err := r.resolve(ctx, depName, chain, onPath, path)
		if err != nil {
			return nil, err
		}
		deps[depName] = v
	}

	r.logger.Debug("Setting up fixture.",
		zap.String("fixture", def.name), zap.Stringer("scope", def.scope))

	value, err := def.setup(ctx, deps)
	if err != nil {
		return nil, &schemas.FixtureError{Fixture: def.name, Err: err}
	}
	return value, nil
}

// hostFor walks the resolver chain to the resolver matching the scope.
func (r *Resolver) hostFor(scope Scope) (*Resolver, error) {
	for cur := r; cur != nil; cur = cur.parent {
		if cur.scope == scope {
			return cur, nil
		}
	}
	return nil, fmt.Errorf("no %s scope reachable from a %s resolver", scope, r.scope)
}

// Teardown releases every fixture this resolver instantiated, in strict
// reverse setup order. Errors are collected, not short-circuiting: every
// teardown runs. Calling Teardown twice is a no-op.
func (r *Resolver) Teardown(ctx context.Context) error {
	r.mu.Lock()
	if r.torn {
		r.mu.Unlock()
		return nil
	}
	r.torn = true
	order := r.order
	values := r.values
	r.order = nil
	r.values = make(map[string]any)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		def, err := r.registry.lookup(name)
		if err != nil || def.teardown == nil {
			continue
		}
		if terr := def.teardown(ctx, values[name]); terr != nil {
			r.logger.Warn("Fixture teardown failed.", zap.String("fixture", name), zap.Error(terr))
			errs = append(errs, fmt.Errorf("teardown of %q: %w", name, terr))
		}
	}
	return errors.Join(errs...)
}

// setupChain records the fixtures one Resolve call actually set up, so a
// later failure in the same chain can unwind them in reverse order.
type setupChain struct {
	mu      sync.Mutex
	entries []chainEntry
}

type chainEntry struct {
	host  *Resolver
	def   *definition
	value any
}

func (c *setupChain) add(host *Resolver, def *definition, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, chainEntry{host: host, def: def, value: value})
}

func (c *setupChain) rollback(ctx context.Context, logger *zap.Logger) {
	c.mu.Lock()
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		e.host.mu.Lock()
		delete(e.host.values, e.def.name)
		for j := len(e.host.order) - 1; j >= 0; j-- {
			if e.host.order[j] == e.def.name {
				e.host.order = append(e.host.order[:j], e.host.order[j+1:]...)
				break
			}
		}
		e.host.mu.Unlock()

		if e.def.teardown == nil {
			continue
		}
		if err := e.def.teardown(ctx, e.value); err != nil {
			logger.Warn("Rollback teardown failed.", zap.String("fixture", e.def.name), zap.Error(err))
		}
	}
}
