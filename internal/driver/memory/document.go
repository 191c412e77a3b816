// internal/driver/memory/document.go
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// eventBuffer bounds the fake's event channel. Tests never come close.
const eventBuffer = 64

// DocumentDriver is a scriptable in-memory transport for one document. It
// implements the same contract as a real matching engine: probes answer
// from scripted state, Perform blocks while a scripted dialog is open, and
// events arrive on a channel that closes on shutdown.
type DocumentDriver struct {
	mu        sync.Mutex
	closed    bool
	url       string
	actions   []schemas.Action
	probes    map[string][]schemas.ProbeResult
	probeFunc func(selector string) (schemas.ProbeResult, error)

	// nextDialogs are scripted dialogs consumed one per Perform call.
	nextDialogs []schemas.DialogInfo
	// resolution is armed while a dialog blocks a Perform call.
	resolution chan dialogResolution
	// resolutions records every ResolveDialog decision in order.
	resolutions []dialogResolution

	events chan schemas.DriverEvent
}

type dialogResolution struct {
	accept bool
	text   string
}

// NewDocumentDriver creates an empty scriptable document.
func NewDocumentDriver() *DocumentDriver {
	return &DocumentDriver{
		probes: make(map[string][]schemas.ProbeResult),
		events: make(chan schemas.DriverEvent, eventBuffer),
	}
}

// SetProbeResult scripts the steady-state observation for a selector.
func (d *DocumentDriver) SetProbeResult(selector string, result schemas.ProbeResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes[selector] = []schemas.ProbeResult{result}
}

// SetProbeSequence scripts a series of observations for a selector. Each
// probe consumes one entry; the last entry repeats once the series is
// exhausted. Useful for elements that settle over time.
func (d *DocumentDriver) SetProbeSequence(selector string, results ...schemas.ProbeResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes[selector] = results
}

// SetProbeFunc installs a custom probe. It takes precedence over scripted
// results.
func (d *DocumentDriver) SetProbeFunc(fn func(selector string) (schemas.ProbeResult, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probeFunc = fn
}

// Probe answers from the scripted state. Unknown selectors report a
// detached target.
func (d *DocumentDriver) Probe(ctx context.Context, selector string) (schemas.ProbeResult, error) {
	if err := context.Cause(ctx); err != nil {
		return schemas.ProbeResult{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return schemas.ProbeResult{}, schemas.ErrSessionDisconnected
	}
	if d.probeFunc != nil {
		fn := d.probeFunc
		d.mu.Unlock()
		result, err := fn(selector)
		d.mu.Lock()
		return result, err
	}
	seq, ok := d.probes[selector]
	if !ok || len(seq) == 0 {
		return schemas.ProbeResult{}, nil
	}
	result := seq[0]
	if len(seq) > 1 {
		d.probes[selector] = seq[1:]
	}
	return result, nil
}

// Navigate records the URL and announces the committed navigation.
func (d *DocumentDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return schemas.ErrSessionDisconnected
	}
	d.url = url
	d.mu.Unlock()

	d.emit(schemas.DriverEvent{Type: schemas.EventNavigated, URL: url})
	return nil
}

// URL returns the last navigated URL.
func (d *DocumentDriver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// QueueDialog scripts a dialog that the next Perform call will open.
func (d *DocumentDriver) QueueDialog(info schemas.DialogInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextDialogs = append(d.nextDialogs, info)
}

// Perform records the action. If a dialog is scripted for this call it is
// announced and Perform blocks, exactly like a real driver whose action
// spawned a modal dialog, until ResolveDialog unblocks it or ctx expires.
func (d *DocumentDriver) Perform(ctx context.Context, action schemas.Action) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return schemas.ErrSessionDisconnected
	}
	d.actions = append(d.actions, action)

	var dlg *schemas.DialogInfo
	if len(d.nextDialogs) > 0 {
		next := d.nextDialogs[0]
		d.nextDialogs = d.nextDialogs[1:]
		dlg = &next
		d.resolution = make(chan dialogResolution, 1)
	}
	resolution := d.resolution
	d.mu.Unlock()

	if dlg == nil {
		return nil
	}

	d.emit(schemas.DriverEvent{Type: schemas.EventDialogOpened, Dialog: dlg})

	select {
	case <-resolution:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		d.resolution = nil
		d.mu.Unlock()
		return context.Cause(ctx)
	}
}

// ResolveDialog records the decision and unblocks a Perform call suspended
// on the open dialog, if any.
func (d *DocumentDriver) ResolveDialog(ctx context.Context, accept bool, text string) error {
	d.mu.Lock()
	resolution := d.resolution
	if resolution == nil {
		d.mu.Unlock()
		return fmt.Errorf("no dialog open")
	}
	res := dialogResolution{accept: accept, text: text}
	d.resolutions = append(d.resolutions, res)
	d.resolution = nil
	d.mu.Unlock()

	// The channel is buffered, so the send succeeds even when no Perform
	// call is waiting (a dialog emitted outside an action).
	resolution <- res
	return nil
}

// Actions returns every performed action in order.
func (d *DocumentDriver) Actions() []schemas.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]schemas.Action, len(d.actions))
	copy(out, d.actions)
	return out
}

// Resolutions returns every dialog decision applied, in order, as
// (accept, text) pairs.
func (d *DocumentDriver) Resolutions() []struct {
	Accept bool
	Text   string
} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]struct {
		Accept bool
		Text   string
	}, len(d.resolutions))
	for i, r := range d.resolutions {
		out[i].Accept = r.accept
		out[i].Text = r.text
	}
	return out
}

// Events returns the raw event stream.
func (d *DocumentDriver) Events() <-chan schemas.DriverEvent {
	return d.events
}

// EmitDialog announces a dialog that opened without a blocking action
// (e.g. a timer-driven alert).
func (d *DocumentDriver) EmitDialog(info schemas.DialogInfo) {
	d.mu.Lock()
	if d.resolution == nil {
		d.resolution = make(chan dialogResolution, 1)
	}
	d.mu.Unlock()
	d.emit(schemas.DriverEvent{Type: schemas.EventDialogOpened, Dialog: &info})
}

// EmitPopup announces a newly spawned target.
func (d *DocumentDriver) EmitPopup(targetID string) {
	d.emit(schemas.DriverEvent{Type: schemas.EventPopupOpened, PopupTargetID: targetID})
}

// EmitFrameAttached announces a new sub-frame.
func (d *DocumentDriver) EmitFrameAttached(frameID, parentFrameID, url string) {
	d.emit(schemas.DriverEvent{
		Type:          schemas.EventFrameAttached,
		FrameID:       frameID,
		ParentFrameID: parentFrameID,
		URL:           url,
	})
}

// EmitFrameDetached announces a removed sub-frame.
func (d *DocumentDriver) EmitFrameDetached(frameID string) {
	d.emit(schemas.DriverEvent{Type: schemas.EventFrameDetached, FrameID: frameID})
}

// EmitNavigated announces an externally committed navigation.
func (d *DocumentDriver) EmitNavigated(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	d.emit(schemas.DriverEvent{Type: schemas.EventNavigated, URL: url})
}

// EmitDisconnected announces that the underlying target is gone.
func (d *DocumentDriver) EmitDisconnected() {
	d.emit(schemas.DriverEvent{Type: schemas.EventDisconnected})
}

func (d *DocumentDriver) emit(ev schemas.DriverEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// Close shuts the document down and closes the event stream. Idempotent.
func (d *DocumentDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.events)
	return nil
}

// Closed reports whether Close has been called.
func (d *DocumentDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
