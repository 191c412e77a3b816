// internal/session/subdocument.go
package session

import (
	"context"
	"sync"

	"github.com/xkilldash9x/stagehand/internal/retry"
)

// frameSelectorSeparator scopes a selector to a frame; drivers interpret
// "frameID >>> selector" as "selector inside that frame".
const frameSelectorSeparator = " >>> "

// SubDocument is a navigable unit embedded within a document or another
// sub-document. The parent pointer is a back-reference only; ownership
// flows strictly parent to child.
type SubDocument struct {
	id     string
	doc    *Document
	parent *SubDocument

	mu       sync.Mutex
	url      string
	children []*SubDocument
	closed   bool
}

func newSubDocument(doc *Document, parent *SubDocument, id, url string) *SubDocument {
	return &SubDocument{id: id, doc: doc, parent: parent, url: url}
}

// ID returns the frame identifier ("main" for the root).
func (f *SubDocument) ID() string { return f.id }

// Document returns the owning document.
func (f *SubDocument) Document() *Document { return f.doc }

// Parent returns the parent sub-document, nil for the root.
func (f *SubDocument) Parent() *SubDocument { return f.parent }

// URL returns the frame's last known URL.
func (f *SubDocument) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *SubDocument) setURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
}

// Children returns a snapshot of the frame's direct children.
func (f *SubDocument) Children() []*SubDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SubDocument, len(f.children))
	copy(out, f.children)
	return out
}

// Closed reports whether the frame has been detached or closed.
func (f *SubDocument) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *SubDocument) addChild(child *SubDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children = append(f.children, child)
}

func (f *SubDocument) removeChild(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.children {
		if c.id == id {
			f.children = append(f.children[:i], f.children[i+1:]...)
			return
		}
	}
}

// scoped prefixes a selector with the frame path. The root frame addresses
// the main document directly.
func (f *SubDocument) scoped(selector string) string {
	if f.parent == nil {
		return selector
	}
	return f.id + frameSelectorSeparator + selector
}

// WaitForVisible retries until the frame-scoped selector is attached and
// visible.
func (f *SubDocument) WaitForVisible(ctx context.Context, selector string, opts retry.Options) error {
	return f.doc.expect(ctx, f.scoped(selector), retry.Visible(), opts)
}

// WaitForText retries until the frame-scoped selector's text equals want.
func (f *SubDocument) WaitForText(ctx context.Context, selector, want string, opts retry.Options) error {
	return f.doc.expect(ctx, f.scoped(selector), retry.TextEquals(want), opts)
}

// close tears down the frame subtree, children before parent. It is
// idempotent; each nested frame emits exactly one close event. The implicit
// root frame emits none: it is part of the document, not an independently
// owned node, and it survives navigation.
func (f *SubDocument) close(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	children := make([]*SubDocument, len(f.children))
	copy(children, f.children)
	f.children = nil
	f.mu.Unlock()

	for _, c := range children {
		c.close(ctx)
	}

	if f.parent != nil {
		f.parent.removeChild(f.id)
		f.doc.removeFrame(f.id)
		f.doc.session.browser.mgr.emitClose(CloseEvent{Kind: KindFrame, ID: f.id})
	}
}

// detachChildren closes every child frame but keeps this frame alive; used
// when a navigation replaces the document's content.
func (f *SubDocument) detachChildren(ctx context.Context) {
	f.mu.Lock()
	children := make([]*SubDocument, len(f.children))
	copy(children, f.children)
	f.children = nil
	f.mu.Unlock()

	for _, c := range children {
		c.close(ctx)
	}
}
