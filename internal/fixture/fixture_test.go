// internal/fixture/fixture_test.go
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// journal records setup and teardown order across fixtures.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

func register(t *testing.T, r *Registry, name string, scope Scope, deps []string, j *journal) {
	t.Helper()
	err := r.Register(name, scope, deps,
		func(ctx context.Context, d Deps) (any, error) {
			j.add("setup:" + name)
			return name + "-value", nil
		},
		func(ctx context.Context, value any) error {
			j.add("teardown:" + name)
			return nil
		})
	require.NoError(t, err)
}

func newChain(t *testing.T, r *Registry) (process, worker, test *Resolver) {
	t.Helper()
	process = NewProcessResolver(r, zaptest.NewLogger(t))
	worker = process.NewWorkerScope()
	test = worker.NewTestScope()
	return process, worker, test
}

func TestResolveSetsUpDependenciesFirst(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	// a depends on b depends on c; setup must run c, b, a.
	register(t, r, "c", ScopeTest, nil, j)
	register(t, r, "b", ScopeTest, []string{"c"}, j)
	register(t, r, "a", ScopeTest, []string{"b"}, j)

	_, _, test := newChain(t, r)
	v, err := test.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a-value", v)
	assert.Equal(t, []string{"setup:c", "setup:b", "setup:a"}, j.list())

	require.NoError(t, test.Teardown(context.Background()))
	assert.Equal(t,
		[]string{"setup:c", "setup:b", "setup:a", "teardown:a", "teardown:b", "teardown:c"},
		j.list(), "teardown must run in strict reverse setup order")
}

func TestResolveCachesPerScopeInstance(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "db", ScopeWorker, nil, j)

	_, worker, test := newChain(t, r)

	v1, err := test.Resolve(context.Background(), "db")
	require.NoError(t, err)
	v2, err := worker.Resolve(context.Background(), "db")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, []string{"setup:db"}, j.list(), "one setup per scope instance")

	// A sibling test scope sees the same worker-hosted value.
	test2 := worker.NewTestScope()
	v3, err := test2.Resolve(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, v1, v3)
	assert.Equal(t, []string{"setup:db"}, j.list())
}

func TestConcurrentResolveRunsSetupOnce(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "shared", ScopeProcess, nil, j)

	process, _, _ := newChain(t, r)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := process.Resolve(ctx, "shared")
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []string{"setup:shared"}, j.list())
}

func TestRegisterDetectsCycleEagerly(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "a", ScopeTest, []string{"b"}, j)
	register(t, r, "b", ScopeTest, []string{"c"}, j)

	// Closing the loop must fail at registration with the full path.
	err := r.Register("c", ScopeTest, []string{"a"},
		func(ctx context.Context, d Deps) (any, error) { return nil, nil }, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrDependencyCycle)

	var cycleErr *schemas.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Path, "a")
	assert.Contains(t, cycleErr.Path, "b")
	assert.Contains(t, cycleErr.Path, "c")

	// The failed registration must not linger.
	_, _, test := newChain(t, r)
	_, err = test.Resolve(context.Background(), "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fixture")
}

func TestWiderScopeCannotDependOnNarrower(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "page", ScopeTest, nil, j)

	err := r.Register("pool", ScopeProcess, []string{"page"},
		func(ctx context.Context, d Deps) (any, error) { return nil, nil }, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrower")
}

func TestSetupFailureRollsBackChain(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "base", ScopeTest, nil, j)

	boom := errors.New("connection refused")
	err := r.Register("flaky", ScopeTest, []string{"base"},
		func(ctx context.Context, d Deps) (any, error) {
			j.add("setup:flaky")
			return nil, boom
		}, nil)
	require.NoError(t, err)

	_, _, test := newChain(t, r)
	_, err = test.Resolve(context.Background(), "flaky")
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrFixtureSetupFailed)
	assert.ErrorIs(t, err, boom)

	var ferr *schemas.FixtureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "flaky", ferr.Fixture)

	// base was set up by this call and must have been rolled back.
	assert.Equal(t, []string{"setup:base", "setup:flaky", "teardown:base"}, j.list())

	// Nothing dangles: a later teardown has nothing to do.
	require.NoError(t, test.Teardown(context.Background()))
	assert.Len(t, j.list(), 3)
}

func TestTeardownIsIdempotentAndCollectsErrors(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "ok", ScopeTest, nil, j)

	err := r.Register("cranky", ScopeTest, nil,
		func(ctx context.Context, d Deps) (any, error) { return "v", nil },
		func(ctx context.Context, value any) error {
			return fmt.Errorf("refusing to die")
		})
	require.NoError(t, err)

	_, _, test := newChain(t, r)
	_, err = test.Resolve(context.Background(), "ok")
	require.NoError(t, err)
	_, err = test.Resolve(context.Background(), "cranky")
	require.NoError(t, err)

	err = test.Teardown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to die")
	// The failing teardown must not block the others.
	assert.Contains(t, j.list(), "teardown:ok")

	require.NoError(t, test.Teardown(context.Background()), "second teardown is a no-op")
}

func TestResolveAfterTeardownFails(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "thing", ScopeTest, nil, j)

	_, _, test := newChain(t, r)
	require.NoError(t, test.Teardown(context.Background()))

	_, err := test.Resolve(context.Background(), "thing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "torn down")
}

func TestFixturesLiveInTheirDeclaredScope(t *testing.T) {
	r := NewRegistry()
	j := &journal{}
	register(t, r, "pool", ScopeProcess, nil, j)
	register(t, r, "session", ScopeWorker, []string{"pool"}, j)
	register(t, r, "page", ScopeTest, []string{"session"}, j)

	process, worker, test := newChain(t, r)
	_, err := test.Resolve(context.Background(), "page")
	require.NoError(t, err)

	// Tearing down the test scope must only release the test fixture.
	require.NoError(t, test.Teardown(context.Background()))
	assert.NotContains(t, j.list(), "teardown:session")
	assert.NotContains(t, j.list(), "teardown:pool")

	require.NoError(t, worker.Teardown(context.Background()))
	assert.Contains(t, j.list(), "teardown:session")
	assert.NotContains(t, j.list(), "teardown:pool")

	require.NoError(t, process.Teardown(context.Background()))
	assert.Contains(t, j.list(), "teardown:pool")
}

func TestScopeDerivationGuards(t *testing.T) {
	r := NewRegistry()
	process := NewProcessResolver(r, zaptest.NewLogger(t))
	worker := process.NewWorkerScope()

	assert.Panics(t, func() { process.NewTestScope() })
	assert.Panics(t, func() { worker.NewWorkerScope() })
	assert.Equal(t, ScopeTest, worker.NewTestScope().Scope())
}
