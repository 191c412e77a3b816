// internal/dialog/hub.go
package dialog

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// State is the hub's position in the per-document dialog state machine.
type State int

const (
	// Idle: no dialog outstanding.
	Idle State = iota
	// AwaitingResolution: a dialog is open and the triggering action is
	// suspended until a resolution is applied.
	AwaitingResolution
)

func (s State) String() string {
	if s == AwaitingResolution {
		return "awaiting_resolution"
	}
	return "idle"
}

// ResolveFunc pushes a resolution command back to the document's driver,
// releasing the suspended action.
type ResolveFunc func(ctx context.Context, accept bool, text string) error

// Handler consumes one pending dialog. Handlers run on the document's event
// pump goroutine, so dialogs are delivered in the exact order the page
// triggered them.
type Handler func(*PendingDialog)

// Hub owns the dialog interception state of a single document. It is not a
// process-wide singleton: the session hierarchy creates one hub per
// document and the hub dies with it.
//
// If a second dialog opens while the first is still awaiting resolution,
// the second is queued and dispatched after the first resolves.
type Hub struct {
	logger  *zap.Logger
	ctx     context.Context
	resolve ResolveFunc

	mu      sync.Mutex
	state   State
	current *PendingDialog
	queue   []schemas.DialogInfo
	on      []Handler
	once    []*onceHandler
}

// onceHandler wraps a one-shot subscriber so it can be deregistered by
// identity when the expectation that registered it gives up.
type onceHandler struct {
	fn Handler
}

// NewHub creates a hub bound to the document's lifecycle context. The
// resolve function receives that context so a closing document also aborts
// an in-flight resolution command.
func NewHub(ctx context.Context, resolve ResolveFunc, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.Named("dialog_hub"),
		ctx:     ctx,
		resolve: resolve,
	}
}

// On registers a handler for every future dialog.
func (h *Hub) On(fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.on = append(h.on, fn)
}

// Once registers a handler for exactly the next dialog. If dialogs keep
// coming after all once-handlers are consumed and no persistent handler is
// registered, nothing resolves them; that is a caller responsibility.
func (h *Hub) Once(fn Handler) {
	h.addOnce(fn)
}

// addOnce registers a one-shot handler and returns a cancel function that
// removes it again if no dialog consumed it.
func (h *Hub) addOnce(fn Handler) func() {
	entry := &onceHandler{fn: fn}
	h.mu.Lock()
	h.once = append(h.once, entry)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.once {
			if e == entry {
				h.once = append(h.once[:i], h.once[i+1:]...)
				return
			}
		}
	}
}

// OnceWaiters reports the number of registered one-shot subscribers.
// Tests use this to wait until an expectation is armed before firing.
func (h *Hub) OnceWaiters() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.once)
}

// Expect waits for the next dialog and returns its handle. It does not
// resolve the dialog; the caller must. On ctx expiry it fails with
// TimeoutExceeded, keeping the failure taxonomy uniform with retries, and
// deregisters its subscription so the next dialog is not silently consumed
// by an expectation nobody is waiting on anymore.
func (h *Hub) Expect(ctx context.Context) (*PendingDialog, error) {
	ch := make(chan *PendingDialog, 1)
	cancelOnce := h.addOnce(func(d *PendingDialog) { ch <- d })

	start := time.Now()
	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		cancelOnce()
		// The dialog may have been dispatched while we were giving up.
		select {
		case d := <-ch:
			return d, nil
		default:
		}
		if cause := context.Cause(ctx); !errors.Is(cause, context.DeadlineExceeded) {
			return nil, cause
		}
		return nil, schemas.NewTimeoutError(time.Since(start), "no dialog opened")
	case <-h.ctx.Done():
		cancelOnce()
		return nil, context.Cause(h.ctx)
	}
}

// State returns the current machine state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// HandleEvent ingests one raw dialog event from the driver. Called from the
// document's event pump; ordering across calls is the page's trigger order.
func (h *Hub) HandleEvent(info schemas.DialogInfo) {
	h.mu.Lock()
	if h.state == AwaitingResolution {
		// A dialog is already open; queue this one for after resolution.
		h.queue = append(h.queue, info)
		h.mu.Unlock()
		h.logger.Debug("Dialog queued behind an unresolved one.",
			zap.String("kind", string(info.Kind)), zap.Int("queued", len(h.queue)))
		return
	}
	h.state = AwaitingResolution
	h.mu.Unlock()

	h.dispatch(info)
}

func (h *Hub) dispatch(info schemas.DialogInfo) {
	pending := newPendingDialog(info, h.applyResolution)

	h.mu.Lock()
	h.current = pending
	handlers := make([]Handler, 0, len(h.once)+len(h.on))
	for _, entry := range h.once {
		handlers = append(handlers, entry.fn)
	}
	h.once = nil
	handlers = append(handlers, h.on...)
	h.mu.Unlock()

	h.logger.Debug("Dialog opened.",
		zap.String("kind", string(info.Kind)),
		zap.String("message", info.Message),
		zap.Int("handlers", len(handlers)))

	if len(handlers) == 0 {
		// Nobody will resolve this; the triggering action runs out its own
		// deadline and fails with TimeoutExceeded.
		h.logger.Warn("Dialog opened with no subscriber; triggering action will time out.",
			zap.String("kind", string(info.Kind)))
		return
	}
	for _, fn := range handlers {
		fn(pending)
	}
}

// applyResolution pushes the decision to the driver and advances the state
// machine, dispatching the next queued dialog if one arrived meanwhile.
func (h *Hub) applyResolution(res Resolution) error {
	err := h.resolve(h.ctx, res.Accept, res.Text)

	h.mu.Lock()
	h.current = nil
	h.state = Idle
	var next *schemas.DialogInfo
	if len(h.queue) > 0 {
		info := h.queue[0]
		h.queue = h.queue[1:]
		h.state = AwaitingResolution
		next = &info
	}
	h.mu.Unlock()

	if next != nil {
		h.dispatch(*next)
	}
	return err
}
