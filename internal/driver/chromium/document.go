// internal/driver/chromium/document.go
package chromium

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// frameSeparator splits a scoped selector into iframe hops plus the final
// target selector: "iframe#checkout >>> button.pay" probes button.pay
// inside the matching iframe's content document.
const frameSeparator = " >>> "

// eventBuffer sizes the raw event channel. Listener callbacks must never
// block the CDP message loop, so overflow drops with a warning instead.
const eventBuffer = 128

// DocumentDriver drives one DevTools target. All commands run through the
// target's own chromedp context; events are translated off the CDP
// listener into the core's raw event stream.
type DocumentDriver struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	id     target.ID

	// detach unregisters the document from the driver's routing table.
	detach func(target.ID)

	mu     sync.Mutex
	closed bool
	events chan schemas.DriverEvent
}

func newDocumentDriver(parent context.Context, id target.ID, logger *zap.Logger, detach func(target.ID)) (*DocumentDriver, error) {
	ctx, cancel := chromedp.NewContext(parent, chromedp.WithTargetID(id))

	d := &DocumentDriver{
		logger: logger.With(zap.String("target_id", string(id))),
		ctx:    ctx,
		cancel: cancel,
		id:     id,
		detach: detach,
		events: make(chan schemas.DriverEvent, eventBuffer),
	}

	chromedp.ListenTarget(ctx, d.translate)

	// Attach to the target and enable the page domain so dialog and frame
	// events flow.
	if err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return page.Enable().Do(c)
	})); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to target %s: %w", id, err)
	}

	// The chromedp context dies when the target or browser goes away;
	// surface that as a disconnect, then end the stream.
	go func() {
		<-ctx.Done()
		d.emit(schemas.DriverEvent{Type: schemas.EventDisconnected})
		d.closeEvents()
	}()

	return d, nil
}

// translate maps raw CDP events onto the core's event vocabulary. It runs
// on the CDP message loop and must not block.
func (d *DocumentDriver) translate(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		d.emit(schemas.DriverEvent{
			Type:   schemas.EventDialogOpened,
			Dialog: dialogInfo(e),
		})
	case *page.EventFrameNavigated:
		if e.Frame.ParentID == "" {
			d.emit(schemas.DriverEvent{Type: schemas.EventNavigated, URL: e.Frame.URL})
		}
	case *page.EventFrameAttached:
		d.emit(schemas.DriverEvent{
			Type:          schemas.EventFrameAttached,
			FrameID:       string(e.FrameID),
			ParentFrameID: string(e.ParentFrameID),
		})
	case *page.EventFrameDetached:
		d.emit(schemas.DriverEvent{
			Type:    schemas.EventFrameDetached,
			FrameID: string(e.FrameID),
		})
	}
}

func dialogInfo(e *page.EventJavascriptDialogOpening) *schemas.DialogInfo {
	info := &schemas.DialogInfo{
		Message:     e.Message,
		DefaultText: e.DefaultPrompt,
	}
	switch e.Type {
	case page.DialogTypePrompt:
		info.Kind = schemas.DialogPrompt
	case page.DialogTypeConfirm, page.DialogTypeBeforeunload:
		info.Kind = schemas.DialogConfirm
	default:
		info.Kind = schemas.DialogAlert
	}
	return info
}

func (d *DocumentDriver) emit(ev schemas.DriverEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn("Event buffer full, dropping event.", zap.String("type", string(ev.Type)))
	}
}

func (d *DocumentDriver) closeEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.events)
}

// Events returns the translated event stream.
func (d *DocumentDriver) Events() <-chan schemas.DriverEvent {
	return d.events
}

// Navigate loads the URL in the main frame and waits for it to commit.
func (d *DocumentDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

// Probe evaluates the element observation script in the page. Frame hops in
// the selector descend through same-origin iframe content documents.
func (d *DocumentDriver) Probe(ctx context.Context, selector string) (schemas.ProbeResult, error) {
	script, err := probeScript(selector)
	if err != nil {
		return schemas.ProbeResult{}, err
	}
	var result schemas.ProbeResult
	if err := d.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return schemas.ProbeResult{}, err
	}
	return result, nil
}

// Perform dispatches one input action. The CDP input command does not
// return while a dialog the action opened is up, which gives the core its
// suspend-until-resolved semantics for free.
func (d *DocumentDriver) Perform(ctx context.Context, action schemas.Action) error {
	if strings.Contains(action.Selector, frameSeparator) {
		return d.performScripted(ctx, action)
	}
	switch action.Type {
	case schemas.ActionClick:
		return d.run(ctx, chromedp.Click(action.Selector, chromedp.ByQuery))
	case schemas.ActionFill:
		return d.run(ctx, chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery))
	case schemas.ActionPress:
		return d.run(ctx, chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery))
	default:
		return fmt.Errorf("unsupported action type %q", action.Type)
	}
}

// performScripted handles frame-scoped targets, which chromedp's native
// selectors cannot reach, by dispatching the action inside the page.
func (d *DocumentDriver) performScripted(ctx context.Context, action schemas.Action) error {
	script, err := actionScript(action)
	if err != nil {
		return err
	}
	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("action target %q not found", action.Selector)
	}
	return nil
}

// ResolveDialog applies the decision to the open dialog. Runs on the
// target's own context, concurrently with the suspended action.
func (d *DocumentDriver) ResolveDialog(ctx context.Context, accept bool, text string) error {
	return d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := page.HandleJavaScriptDialog(accept)
		if text != "" {
			params = params.WithPromptText(text)
		}
		return params.Do(c)
	}))
}

// Close detaches from the target and releases it. Idempotent.
func (d *DocumentDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if d.detach != nil {
		d.detach(d.id)
	}

	// Cancel gracefully closes the target before tearing the context down.
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	d.closeEvents()
	if err != nil && ctx.Err() == nil {
		d.logger.Debug("Target close returned an error.", zap.Error(err))
	}
	return nil
}

// run executes actions on the target context while honoring the caller's
// deadline and cancellation.
func (d *DocumentDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(d.ctx, actions...)
	}()
	select {
	case err := <-done:
		if err != nil && d.ctx.Err() != nil {
			return schemas.ErrSessionDisconnected
		}
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// probeScript renders the in-page observation function for a selector.
func probeScript(selector string) (string, error) {
	quoted, err := json.MarshalToString(selector)
	if err != nil {
		return "", fmt.Errorf("invalid selector: %w", err)
	}
	return fmt.Sprintf(probeTemplate, quoted), nil
}

// actionScript renders the in-page dispatch for a frame-scoped action.
func actionScript(action schemas.Action) (string, error) {
	quotedSel, err := json.MarshalToString(action.Selector)
	if err != nil {
		return "", fmt.Errorf("invalid selector: %w", err)
	}
	quotedVal, err := json.MarshalToString(action.Value)
	if err != nil {
		return "", fmt.Errorf("invalid value: %w", err)
	}
	return fmt.Sprintf(actionTemplate, quotedSel, string(action.Type), quotedVal), nil
}

const probeTemplate = `(() => {
	const parts = %s.split(" >>> ");
	let doc = document;
	for (let i = 0; i < parts.length - 1; i++) {
		const frame = doc.querySelector(parts[i]);
		if (!frame || !frame.contentDocument) return { exists: false, count: 0 };
		doc = frame.contentDocument;
	}
	const sel = parts[parts.length - 1];
	const nodes = doc.querySelectorAll(sel);
	const el = nodes[0];
	if (!el) return { exists: false, count: 0 };
	const rect = el.getBoundingClientRect();
	const style = doc.defaultView.getComputedStyle(el);
	const visible = rect.width > 0 && rect.height > 0 &&
		style.visibility !== "hidden" && style.display !== "none";
	let receives = false;
	if (visible) {
		const hit = doc.elementFromPoint(rect.x + rect.width / 2, rect.y + rect.height / 2);
		receives = !!hit && (hit === el || el.contains(hit) || hit.contains(el));
	}
	const attrs = {};
	for (const a of el.attributes) attrs[a.name] = a.value;
	return {
		exists: true,
		visible: visible,
		enabled: !el.disabled,
		receives_events: receives,
		box: visible ? { x: rect.x, y: rect.y, width: rect.width, height: rect.height } : null,
		text: (el.innerText || el.textContent || "").trim(),
		attributes: attrs,
		count: nodes.length,
	};
})()`

const actionTemplate = `(() => {
	const parts = %s.split(" >>> ");
	let doc = document;
	for (let i = 0; i < parts.length - 1; i++) {
		const frame = doc.querySelector(parts[i]);
		if (!frame || !frame.contentDocument) return false;
		doc = frame.contentDocument;
	}
	const el = doc.querySelector(parts[parts.length - 1]);
	if (!el) return false;
	const type = %q;
	const value = %s;
	switch (type) {
	case "click":
		el.click();
		break;
	case "fill":
		el.value = value;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		break;
	case "press":
		el.dispatchEvent(new KeyboardEvent("keydown", { key: value, bubbles: true }));
		el.dispatchEvent(new KeyboardEvent("keyup", { key: value, bubbles: true }));
		break;
	default:
		return false;
	}
	return true;
})()`
