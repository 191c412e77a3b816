// internal/driver/memory/driver.go
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Driver is an in-memory process fake. It mints scriptable document
// transports and keeps them reachable by session and popup target, so
// tests can script a document before or after the core opens it.
type Driver struct {
	mu        sync.Mutex
	launched  bool
	closed    bool
	documents map[string][]*DocumentDriver
	popups    map[string]*DocumentDriver
}

// NewDriver creates an unlaunched in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		documents: make(map[string][]*DocumentDriver),
		popups:    make(map[string]*DocumentDriver),
	}
}

// Launch marks the fake process started. Launching twice is a no-op.
func (d *Driver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return schemas.ErrSessionDisconnected
	}
	d.launched = true
	return nil
}

// Launched reports whether Launch has been called.
func (d *Driver) Launched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launched
}

// NewDocument mints a fresh scriptable document for the session.
func (d *Driver) NewDocument(ctx context.Context, sessionID string) (schemas.DocumentDriver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, schemas.ErrSessionDisconnected
	}
	if !d.launched {
		return nil, fmt.Errorf("driver not launched")
	}
	doc := NewDocumentDriver()
	d.documents[sessionID] = append(d.documents[sessionID], doc)
	return doc, nil
}

// PreparePopup scripts the document a future AdoptPopup call will return,
// so a test can set up probe state before the popup is adopted.
func (d *Driver) PreparePopup(targetID string) *DocumentDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := NewDocumentDriver()
	d.popups[targetID] = doc
	return doc
}

// AdoptPopup returns the transport scripted for targetID, or a fresh one
// when the test never prepared it.
func (d *Driver) AdoptPopup(ctx context.Context, sessionID, targetID string) (schemas.DocumentDriver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, schemas.ErrSessionDisconnected
	}
	doc, ok := d.popups[targetID]
	if !ok {
		doc = NewDocumentDriver()
	}
	delete(d.popups, targetID)
	d.documents[sessionID] = append(d.documents[sessionID], doc)
	return doc, nil
}

// Documents returns every document minted for a session, in creation order.
func (d *Driver) Documents(sessionID string) []*DocumentDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DocumentDriver, len(d.documents[sessionID]))
	copy(out, d.documents[sessionID])
	return out
}

// Close shuts down every minted document and marks the process gone.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var all []*DocumentDriver
	for _, docs := range d.documents {
		all = append(all, docs...)
	}
	d.mu.Unlock()

	for _, doc := range all {
		_ = doc.Close(ctx)
	}
	return nil
}

// Closed reports whether Close has been called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
