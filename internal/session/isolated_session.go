// internal/session/isolated_session.go
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// IsolatedSession is an isolation boundary with its own credential and
// storage state. It owns documents; two sessions under the same browser
// never share storage.
type IsolatedSession struct {
	id      string
	browser *Browser
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	storage *Storage

	mu        sync.Mutex
	documents []*Document
	closed    bool
}

// ID returns the session's identifier.
func (s *IsolatedSession) ID() string { return s.id }

// Context exposes the session's lifecycle context.
func (s *IsolatedSession) Context() context.Context { return s.ctx }

// Browser returns the owning browser.
func (s *IsolatedSession) Browser() *Browser { return s.browser }

// Storage returns the session's private storage state.
func (s *IsolatedSession) Storage() *Storage { return s.storage }

// NewDocument opens a new document (a navigable page) owned by this session.
func (s *IsolatedSession) NewDocument(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, schemas.ErrSessionDisconnected
	}
	s.mu.Unlock()

	drv, err := s.browser.mgr.driver.NewDocument(ctx, s.id)
	if err != nil {
		return nil, err
	}

	doc := newDocument(s, drv)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		// Lost the race with Close; roll the document back.
		doc.Close(ctx)
		return nil, schemas.ErrSessionDisconnected
	}
	s.documents = append(s.documents, doc)
	s.mu.Unlock()

	doc.logger.Info("Document created.")
	return doc, nil
}

// Documents returns a snapshot of the session's live documents.
func (s *IsolatedSession) Documents() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Document, len(s.documents))
	copy(out, s.documents)
	return out
}

// Close closes the session and all of its documents, children first.
// Closing twice is a no-op. No document may outlive its owning session;
// that is enforced here by the cascade, not by garbage collection.
func (s *IsolatedSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	docs := make([]*Document, len(s.documents))
	copy(docs, s.documents)
	s.mu.Unlock()

	s.logger.Info("Closing session.", zap.Int("documents", len(docs)))

	var firstErr error
	for _, d := range docs {
		if err := d.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.cancel(schemas.ErrSessionDisconnected)
	s.browser.removeSession(s.id)
	s.browser.mgr.emitClose(CloseEvent{Kind: KindSession, ID: s.id})
	return firstErr
}

func (s *IsolatedSession) removeDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.documents {
		if d.id == id {
			s.documents = append(s.documents[:i], s.documents[i+1:]...)
			return
		}
	}
}
