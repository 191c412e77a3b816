// internal/session/document.go
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
	"github.com/xkilldash9x/stagehand/internal/dialog"
	"github.com/xkilldash9x/stagehand/internal/retry"
)

// Document is one navigable unit: a URL, a root sub-document, and zero or
// more nested sub-documents. Actions on one document execute sequentially
// relative to each other, while sibling documents progress fully in
// parallel.
//
// Navigation replaces the document's state but preserves its identity and
// event subscriptions.
type Document struct {
	id      string
	session *IsolatedSession
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	driver schemas.DocumentDriver
	engine *retry.Engine
	hub    *dialog.Hub

	// pipelineMu serializes input actions on this document.
	pipelineMu sync.Mutex

	mu        sync.RWMutex
	url       string
	root      *SubDocument
	frames    map[string]*SubDocument
	popupOnce []chan *Document
	popupOn   []func(*Document)
	closed    bool

	pumpDone chan struct{}
}

func newDocument(s *IsolatedSession, drv schemas.DocumentDriver) *Document {
	ctx, cancel := context.WithCancelCause(s.ctx)
	d := &Document{
		id:       uuid.New().String(),
		session:  s,
		ctx:      ctx,
		cancel:   cancel,
		driver:   drv,
		engine:   s.browser.mgr.engine,
		frames:   make(map[string]*SubDocument),
		pumpDone: make(chan struct{}),
	}
	d.logger = s.logger.Named("document").With(zap.String("document_id", d.id))
	d.hub = dialog.NewHub(ctx, drv.ResolveDialog, d.logger)
	d.root = newSubDocument(d, nil, "main", "")

	go d.pump()
	return d
}

// ID returns the document's identifier.
func (d *Document) ID() string { return d.id }

// Session returns the owning isolated session.
func (d *Document) Session() *IsolatedSession { return d.session }

// Context exposes the document's lifecycle context.
func (d *Document) Context() context.Context { return d.ctx }

// URL returns the last committed main-frame URL.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Root returns the root sub-document. A document always has exactly one.
func (d *Document) Root() *SubDocument {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// Frame looks up a nested sub-document by its frame ID.
func (d *Document) Frame(id string) (*SubDocument, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.frames[id]
	return f, ok
}

// -- Event pump --

// pump drains the driver's event stream for the document's whole lifetime.
// Dialog events are handed to the hub in arrival order, which is the page's
// trigger order.
func (d *Document) pump() {
	defer close(d.pumpDone)
	events := d.driver.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handleEvent(ev)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Document) handleEvent(ev schemas.DriverEvent) {
	switch ev.Type {
	case schemas.EventDialogOpened:
		if ev.Dialog != nil {
			d.hub.HandleEvent(*ev.Dialog)
		}
	case schemas.EventPopupOpened:
		d.handlePopup(ev.PopupTargetID)
	case schemas.EventNavigated:
		d.handleNavigated(ev.URL)
	case schemas.EventFrameAttached:
		d.attachFrame(ev.FrameID, ev.ParentFrameID, ev.URL)
	case schemas.EventFrameDetached:
		d.detachFrame(ev.FrameID)
	case schemas.EventDisconnected:
		// Escalate to the whole subtree; Disconnect cancels our own
		// context, so do it off the pump goroutine.
		go d.session.browser.Disconnect()
	}
}

// handleNavigated replaces the document state: the old frame tree is torn
// down, the root survives with a new URL. Subscriptions are untouched.
func (d *Document) handleNavigated(url string) {
	d.mu.Lock()
	root := d.root
	d.url = url
	d.mu.Unlock()

	if root != nil {
		root.detachChildren(context.Background())
		root.setURL(url)
	}
	d.logger.Debug("Document navigated.", zap.String("url", url))
}

func (d *Document) attachFrame(frameID, parentFrameID, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || frameID == "" {
		return
	}
	if _, exists := d.frames[frameID]; exists {
		return
	}
	parent := d.root
	if parentFrameID != "" {
		if p, ok := d.frames[parentFrameID]; ok {
			parent = p
		}
	}
	f := newSubDocument(d, parent, frameID, url)
	parent.addChild(f)
	d.frames[frameID] = f
	d.logger.Debug("Frame attached.", zap.String("frame_id", frameID))
}

func (d *Document) detachFrame(frameID string) {
	d.mu.Lock()
	f, ok := d.frames[frameID]
	d.mu.Unlock()
	if !ok {
		return
	}
	f.close(context.Background())
}

func (d *Document) removeFrame(frameID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.frames, frameID)
}

// -- Navigation and actions --

// Navigate loads a URL in the main frame.
func (d *Document) Navigate(ctx context.Context, url string) error {
	d.pipelineMu.Lock()
	defer d.pipelineMu.Unlock()

	opCtx, done := joinContext(ctx, d.ctx)
	defer done()
	if err := context.Cause(opCtx); err != nil {
		return err
	}
	if err := d.driver.Navigate(opCtx, url); err != nil {
		return d.mapOperationError(opCtx, err, "navigation did not complete", d.engine.Defaults().Timeout)
	}
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	return nil
}

// Click waits for the selector's target to become actionable (attached,
// visible, stable across two consecutive polls, enabled, receiving pointer
// events — all on the same poll), then dispatches the click. If the click
// opens a dialog, it stays suspended until the dialog is resolved or the
// operation's deadline expires.
func (d *Document) Click(ctx context.Context, selector string, opts retry.Options) error {
	return d.act(ctx, schemas.Action{Type: schemas.ActionClick, Selector: selector}, opts)
}

// Fill waits for actionability, then types the value into the target.
func (d *Document) Fill(ctx context.Context, selector, value string, opts retry.Options) error {
	return d.act(ctx, schemas.Action{Type: schemas.ActionFill, Selector: selector, Value: value}, opts)
}

// Press waits for actionability, then sends a single key to the target.
func (d *Document) Press(ctx context.Context, selector, key string, opts retry.Options) error {
	return d.act(ctx, schemas.Action{Type: schemas.ActionPress, Selector: selector, Value: key}, opts)
}

func (d *Document) act(ctx context.Context, action schemas.Action, opts retry.Options) error {
	d.pipelineMu.Lock()
	defer d.pipelineMu.Unlock()

	if opts.Timeout <= 0 {
		opts.Timeout = d.engine.Defaults().Timeout
	}

	opCtx, done := joinContext(ctx, d.ctx)
	defer done()
	// One deadline bounds the whole action: actionability polling plus the
	// dispatch (including any dialog suspension it causes).
	opCtx, cancel := context.WithTimeout(opCtx, opts.Timeout)
	defer cancel()

	if _, err := d.engine.Poll(opCtx, d.probe(action.Selector), retry.Actionable(), opts); err != nil {
		return err
	}

	if err := d.driver.Perform(opCtx, action); err != nil {
		return d.mapOperationError(opCtx, err, "action did not complete", opts.Timeout)
	}
	return nil
}

// probe adapts the driver's element probe to the retry engine.
func (d *Document) probe(selector string) retry.Probe {
	return func(ctx context.Context) (schemas.ProbeResult, error) {
		return d.driver.Probe(ctx, selector)
	}
}

// mapOperationError folds a failed driver call into the uniform taxonomy:
// lifecycle cancellation becomes SessionDisconnected, an expired deadline
// becomes TimeoutExceeded with the most concrete reason available.
func (d *Document) mapOperationError(opCtx context.Context, err error, fallback string, timeout time.Duration) error {
	if errors.Is(err, schemas.ErrSessionDisconnected) {
		return schemas.ErrSessionDisconnected
	}
	cause := context.Cause(opCtx)
	if errors.Is(cause, schemas.ErrSessionDisconnected) {
		return schemas.ErrSessionDisconnected
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(cause, context.DeadlineExceeded) {
		reason := fallback
		if d.hub.State() == dialog.AwaitingResolution {
			reason = "dialog opened and was never resolved"
		}
		return schemas.NewTimeoutError(timeout, reason)
	}
	return err
}

// -- Assertions (wait-until-true) --

// WaitForVisible retries until the target is attached and visible.
func (d *Document) WaitForVisible(ctx context.Context, selector string, opts retry.Options) error {
	return d.expect(ctx, selector, retry.Visible(), opts)
}

// WaitForHidden retries until the target is detached or invisible.
func (d *Document) WaitForHidden(ctx context.Context, selector string, opts retry.Options) error {
	return d.expect(ctx, selector, retry.Hidden(), opts)
}

// WaitForText retries until the target's text equals want.
func (d *Document) WaitForText(ctx context.Context, selector, want string, opts retry.Options) error {
	return d.expect(ctx, selector, retry.TextEquals(want), opts)
}

// WaitForCount retries until the selector matches exactly want nodes.
func (d *Document) WaitForCount(ctx context.Context, selector string, want int, opts retry.Options) error {
	return d.expect(ctx, selector, retry.CountEquals(want), opts)
}

// WaitForAttribute retries until the named attribute equals want.
func (d *Document) WaitForAttribute(ctx context.Context, selector, name, want string, opts retry.Options) error {
	return d.expect(ctx, selector, retry.AttributeEquals(name, want), opts)
}

func (d *Document) expect(ctx context.Context, selector string, pred retry.Predicate, opts retry.Options) error {
	opCtx, done := joinContext(ctx, d.ctx)
	defer done()
	_, err := d.engine.Poll(opCtx, d.probe(selector), pred, opts)
	return err
}

// -- Dialogs --

// OnDialog subscribes a handler to every future dialog on this document.
func (d *Document) OnDialog(fn dialog.Handler) { d.hub.On(fn) }

// OnceDialog subscribes a handler to exactly the next dialog.
func (d *Document) OnceDialog(fn dialog.Handler) { d.hub.Once(fn) }

// ExpectDialog waits for the next dialog and returns its handle without
// resolving it.
func (d *Document) ExpectDialog(ctx context.Context) (*dialog.PendingDialog, error) {
	return d.hub.Expect(ctx)
}

// Dialogs exposes the document's interception hub.
func (d *Document) Dialogs() *dialog.Hub { return d.hub }

// -- Popups --

// OnPopup subscribes a handler to every future popup document.
func (d *Document) OnPopup(fn func(*Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.popupOn = append(d.popupOn, fn)
}

// ExpectPopup runs trigger (typically an action that opens a new window)
// and suspends until the resulting document is adopted, or the timeout
// elapses, in which case it fails with TimeoutExceeded like every other
// expired wait. An abandoned expectation deregisters itself so it cannot
// swallow a popup a later expectation is waiting for.
func (d *Document) ExpectPopup(ctx context.Context, trigger func(context.Context) error) (*Document, error) {
	timeout := d.engine.Defaults().Timeout

	ch := make(chan *Document, 1)
	d.mu.Lock()
	d.popupOnce = append(d.popupOnce, ch)
	d.mu.Unlock()

	opCtx, done := joinContext(ctx, d.ctx)
	defer done()
	opCtx, cancel := context.WithTimeout(opCtx, timeout)
	defer cancel()

	if trigger != nil {
		if err := trigger(opCtx); err != nil {
			d.removePopupWaiter(ch)
			return nil, err
		}
	}

	select {
	case popup := <-ch:
		return popup, nil
	case <-opCtx.Done():
		d.removePopupWaiter(ch)
		// The popup may have been handed over while we were giving up.
		select {
		case popup := <-ch:
			return popup, nil
		default:
		}
		cause := context.Cause(opCtx)
		if errors.Is(cause, schemas.ErrSessionDisconnected) {
			return nil, schemas.ErrSessionDisconnected
		}
		if errors.Is(cause, context.DeadlineExceeded) {
			return nil, schemas.NewTimeoutError(timeout, "no popup opened")
		}
		return nil, cause
	}
}

func (d *Document) removePopupWaiter(ch chan *Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.popupOnce {
		if c == ch {
			d.popupOnce = append(d.popupOnce[:i], d.popupOnce[i+1:]...)
			return
		}
	}
}

// handlePopup adopts a newly created target as a sibling document and hands
// it to subscribers. With no subscriber, the event is dropped: acknowledging
// the popup is what makes it usable.
func (d *Document) handlePopup(targetID string) {
	d.mu.Lock()
	var waiter chan *Document
	if len(d.popupOnce) > 0 {
		waiter = d.popupOnce[0]
		d.popupOnce = d.popupOnce[1:]
	}
	persistent := make([]func(*Document), len(d.popupOn))
	copy(persistent, d.popupOn)
	d.mu.Unlock()

	if waiter == nil && len(persistent) == 0 {
		d.logger.Debug("Popup with no subscriber dropped.", zap.String("target_id", targetID))
		return
	}

	drv, err := d.session.browser.mgr.driver.AdoptPopup(d.ctx, d.session.id, targetID)
	if err != nil {
		d.logger.Warn("Failed to adopt popup target.", zap.String("target_id", targetID), zap.Error(err))
		return
	}

	popup := newDocument(d.session, drv)
	d.session.mu.Lock()
	if d.session.closed {
		d.session.mu.Unlock()
		popup.Close(context.Background())
		return
	}
	d.session.documents = append(d.session.documents, popup)
	d.session.mu.Unlock()

	popup.logger.Info("Popup document adopted.", zap.String("opener_id", d.id))

	if waiter != nil {
		waiter <- popup
	}
	for _, fn := range persistent {
		fn(popup)
	}
}

// -- Lifecycle --

// Close closes the document and all of its sub-documents, children first.
// Closing twice is a no-op.
func (d *Document) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	root := d.root
	d.mu.Unlock()

	d.logger.Info("Closing document.")

	if root != nil {
		root.close(ctx)
	}

	// Aborts in-flight retries and stops the event pump.
	d.cancel(schemas.ErrSessionDisconnected)

	err := d.driver.Close(ctx)

	select {
	case <-d.pumpDone:
	case <-time.After(5 * time.Second):
		d.logger.Warn("Event pump did not stop in time.")
	}

	d.session.removeDocument(d.id)
	d.session.browser.mgr.emitClose(CloseEvent{Kind: KindDocument, ID: d.id})
	return err
}

// Closed reports whether the document has been closed.
func (d *Document) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
