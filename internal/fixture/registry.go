// internal/fixture/registry.go
package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Scope is a fixture's lifetime. Wider scopes outlive narrower ones; a
// fixture may depend on same-or-wider-scoped fixtures only.
type Scope int

const (
	// ScopeTest: a fresh instance for every test unit.
	ScopeTest Scope = iota
	// ScopeWorker: shared across all test units of one execution lane,
	// torn down when the lane finishes.
	ScopeWorker
	// ScopeProcess: shared globally, torn down at process exit.
	ScopeProcess
)

func (s Scope) String() string {
	switch s {
	case ScopeTest:
		return "test"
	case ScopeWorker:
		return "worker"
	case ScopeProcess:
		return "process"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Deps gives a setup function access to its resolved dependencies by name.
type Deps map[string]any

// SetupFunc builds a fixture value. Its dependencies are already resolved.
type SetupFunc func(ctx context.Context, deps Deps) (any, error)

// TeardownFunc releases a fixture value. May be nil.
type TeardownFunc func(ctx context.Context, value any) error

type definition struct {
	name     string
	scope    Scope
	deps     []string
	setup    SetupFunc
	teardown TeardownFunc
}

// Registry holds fixture definitions. Registration is configuration, not
// execution: nothing runs until a resolver asks for a fixture.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*definition)}
}

// Register adds a named fixture. Dependency cycles among already-registered
// fixtures are a configuration error reported immediately with the full
// cycle path; cycles involving fixtures registered later surface at first
// resolve. A wider-scoped fixture may not depend on a narrower-scoped one.
func (r *Registry) Register(name string, scope Scope, deps []string, setup SetupFunc, teardown TeardownFunc) error {
	if name == "" {
		return fmt.Errorf("fixture name must not be empty")
	}
	if setup == nil {
		return fmt.Errorf("fixture %q has no setup function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("fixture %q registered twice", name)
	}
	for _, dep := range deps {
		if d, ok := r.defs[dep]; ok && d.scope < scope {
			return fmt.Errorf("fixture %q (%s) cannot depend on %q (%s): dependency scope is narrower",
				name, scope, dep, d.scope)
		}
	}

	r.defs[name] = &definition{
		name:     name,
		scope:    scope,
		deps:     deps,
		setup:    setup,
		teardown: teardown,
	}

	if err := r.detectCycleLocked(name); err != nil {
		delete(r.defs, name)
		return err
	}
	return nil
}

func (r *Registry) lookup(name string) (*definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown fixture %q", name)
	}
	return def, nil
}

// detectCycleLocked walks the dependency edges reachable from start over
// the currently known definitions. Unregistered dependencies are skipped;
// they are re-checked at resolve time.
func (r *Registry) detectCycleLocked(start string) error {
	var visit func(name string, path []string, onPath map[string]bool) error
	visit = func(name string, path []string, onPath map[string]bool) error {
		if onPath[name] {
			return &schemas.CycleError{Path: append(append([]string{}, path...), name)}
		}
		def, ok := r.defs[name]
		if !ok {
			return nil
		}
		onPath[name] = true
		path = append(path, name)
		for _, dep := range def.deps {
			if err := visit(dep, path, onPath); err != nil {
				return err
			}
		}
		delete(onPath, name)
		return nil
	}
	return visit(start, nil, make(map[string]bool))
}
