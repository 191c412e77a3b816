// internal/dialog/hub_test.go
package dialog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// recordingResolver captures the decisions pushed back to the driver.
type recordingResolver struct {
	mu        sync.Mutex
	decisions []struct {
		accept bool
		text   string
	}
}

func (r *recordingResolver) resolve(ctx context.Context, accept bool, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, struct {
		accept bool
		text   string
	}{accept, text})
	return nil
}

func (r *recordingResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decisions)
}

func newTestHub(t *testing.T) (*Hub, *recordingResolver) {
	t.Helper()
	rec := &recordingResolver{}
	hub := NewHub(context.Background(), rec.resolve, zaptest.NewLogger(t))
	return hub, rec
}

func TestDialogResolvedExactlyOnce(t *testing.T) {
	hub, rec := newTestHub(t)

	var pending *PendingDialog
	hub.Once(func(d *PendingDialog) { pending = d })

	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogConfirm, Message: "Are you sure?"})
	require.NotNil(t, pending)
	assert.Equal(t, schemas.DialogConfirm, pending.Kind())
	assert.Equal(t, "Are you sure?", pending.Message())

	require.NoError(t, pending.Accept())
	assert.True(t, pending.Resolved())
	assert.Equal(t, Idle, hub.State())

	// Every further attempt, regardless of verb, must fail.
	assert.ErrorIs(t, pending.Dismiss(), schemas.ErrAlreadyResolved)
	assert.ErrorIs(t, pending.Accept(), schemas.ErrAlreadyResolved)
	assert.Equal(t, 1, rec.count())
}

func TestPromptAcceptUsesDefaultText(t *testing.T) {
	hub, rec := newTestHub(t)

	hub.Once(func(d *PendingDialog) {
		require.NoError(t, d.Accept())
	})
	hub.HandleEvent(schemas.DialogInfo{
		Kind:        schemas.DialogPrompt,
		Message:     "Name?",
		DefaultText: "N/A",
	})

	require.Equal(t, 1, rec.count())
	assert.True(t, rec.decisions[0].accept)
	assert.Equal(t, "N/A", rec.decisions[0].text)
}

func TestPromptTextIgnoredForNonPrompts(t *testing.T) {
	hub, rec := newTestHub(t)

	hub.Once(func(d *PendingDialog) {
		require.NoError(t, d.AcceptWithText("should be dropped"))
	})
	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert, Message: "Heads up"})

	require.Equal(t, 1, rec.count())
	assert.True(t, rec.decisions[0].accept)
	assert.Empty(t, rec.decisions[0].text)
}

func TestSecondDialogQueuedUntilFirstResolves(t *testing.T) {
	hub, rec := newTestHub(t)

	var seen []string
	var firstPending *PendingDialog
	hub.On(func(d *PendingDialog) {
		seen = append(seen, d.Message())
		if d.Message() == "first" {
			// Hold the first dialog open; resolve it later.
			firstPending = d
			return
		}
		require.NoError(t, d.Dismiss())
	})

	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert, Message: "first"})
	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert, Message: "second"})

	// The second dialog must not reach handlers while the first is open.
	assert.Equal(t, []string{"first"}, seen)
	assert.Equal(t, AwaitingResolution, hub.State())

	require.NoError(t, firstPending.Accept())

	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, Idle, hub.State())
	assert.Equal(t, 2, rec.count())
}

func TestOnceHandlersConsumedInOrder(t *testing.T) {
	hub, _ := newTestHub(t)

	var order []string
	hub.Once(func(d *PendingDialog) {
		order = append(order, "once")
		require.NoError(t, d.Accept())
	})
	hub.On(func(d *PendingDialog) {
		order = append(order, "on")
		_ = d.Accept()
	})

	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert})
	assert.Equal(t, []string{"once", "on"}, order)

	// The once handler is gone; only the persistent one fires now.
	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert})
	assert.Equal(t, []string{"once", "on", "on"}, order)
}

func TestExpectDeliversNextDialog(t *testing.T) {
	hub, _ := newTestHub(t)

	type expectation struct {
		pending *PendingDialog
		err     error
	}
	got := make(chan expectation, 1)
	go func() {
		p, err := hub.Expect(context.Background())
		got <- expectation{p, err}
	}()

	// Wait until the once handler is registered before firing the event.
	require.Eventually(t, func() bool {
		return hub.OnceWaiters() == 1
	}, time.Second, time.Millisecond)

	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogPrompt, Message: "token?"})

	exp := <-got
	require.NoError(t, exp.err)
	assert.Equal(t, "token?", exp.pending.Message())
	require.NoError(t, exp.pending.AcceptWithText("s3cret"))
}

func TestExpectTimeoutRemovesItsSubscriber(t *testing.T) {
	hub, rec := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := hub.Expect(ctx)
	require.ErrorIs(t, err, schemas.ErrTimeoutExceeded)
	assert.Zero(t, hub.OnceWaiters(), "a timed-out expectation must not linger")

	// The next dialog still reaches a fresh subscriber instead of being
	// consumed by the abandoned one.
	got := make(chan *PendingDialog, 1)
	hub.Once(func(d *PendingDialog) { got <- d })
	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert, Message: "next"})

	select {
	case d := <-got:
		assert.Equal(t, "next", d.Message())
		require.NoError(t, d.Accept())
	default:
		t.Fatal("fresh subscriber never saw the dialog")
	}
	assert.Equal(t, 1, rec.count())
}

func TestExpectTimesOutAsTimeoutExceeded(t *testing.T) {
	hub, _ := newTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := hub.Expect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrTimeoutExceeded)
	assert.Contains(t, err.Error(), "no dialog opened")
}

func TestUnhandledDialogLeavesHubAwaiting(t *testing.T) {
	hub, rec := newTestHub(t)

	hub.HandleEvent(schemas.DialogInfo{Kind: schemas.DialogAlert, Message: "nobody listens"})

	assert.Equal(t, AwaitingResolution, hub.State())
	assert.Equal(t, 0, rec.count())
}
