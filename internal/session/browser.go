// internal/session/browser.go
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Browser is the root handle to one launched automation-capable process.
// It owns its isolated sessions; closing it cascades to everything beneath
// it and is the only operation guaranteed to release the process.
type Browser struct {
	id     string
	mgr    *Manager
	logger *zap.Logger

	// ctx is the browser's lifecycle context. It is canceled with
	// ErrSessionDisconnected on close or disconnect so every in-flight
	// operation on the subtree aborts immediately.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu           sync.Mutex
	sessions     []*IsolatedSession
	closed       bool
	disconnected bool
}

// ID returns the browser's identifier.
func (b *Browser) ID() string { return b.id }

// Context exposes the lifecycle context for operations scoped to this
// browser.
func (b *Browser) Context() context.Context { return b.ctx }

// NewSession creates an isolated session (its own cookie and storage state,
// never shared with sibling sessions) owned by this browser.
func (b *Browser) NewSession(ctx context.Context) (*IsolatedSession, error) {
	b.mu.Lock()
	if b.closed || b.disconnected {
		b.mu.Unlock()
		return nil, schemas.ErrSessionDisconnected
	}
	b.mu.Unlock()

	sctx, scancel := context.WithCancelCause(b.ctx)
	s := &IsolatedSession{
		id:      uuid.New().String(),
		browser: b,
		ctx:     sctx,
		cancel:  scancel,
		storage: NewStorage(),
	}
	s.logger = b.logger.Named("session").With(zap.String("session_id", s.id))

	b.mu.Lock()
	if b.closed || b.disconnected {
		b.mu.Unlock()
		scancel(schemas.ErrSessionDisconnected)
		return nil, schemas.ErrSessionDisconnected
	}
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()

	s.logger.Info("Isolated session created.")
	return s, nil
}

// Close closes the browser and all of its descendants, children first, then
// releases the underlying process. Closing twice is a no-op.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sessions := make([]*IsolatedSession, len(b.sessions))
	copy(sessions, b.sessions)
	b.mu.Unlock()

	b.logger.Info("Closing browser.", zap.Int("sessions", len(sessions)))

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Abort anything still holding the lifecycle context.
	b.cancel(schemas.ErrSessionDisconnected)

	if err := b.mgr.driver.Close(ctx); err != nil {
		b.logger.Warn("Driver close failed.", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	b.mgr.removeBrowser(b.id)
	b.mgr.emitClose(CloseEvent{Kind: KindBrowser, ID: b.id})
	return firstErr
}

// Disconnect marks the underlying process unreachable. Every in-flight
// operation on the subtree terminates with ErrSessionDisconnected instead
// of waiting out its deadline, and subsequent operations fail the same way.
// Unlike Close, no close events are emitted; the nodes still exist, they
// just cannot reach the process anymore.
func (b *Browser) Disconnect() {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return
	}
	b.disconnected = true
	b.mu.Unlock()

	b.logger.Warn("Browser process unreachable; aborting in-flight operations.")
	b.cancel(schemas.ErrSessionDisconnected)
}

// Disconnected reports whether the process has been marked unreachable.
func (b *Browser) Disconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

// Sessions returns a snapshot of the browser's live sessions.
func (b *Browser) Sessions() []*IsolatedSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*IsolatedSession, len(b.sessions))
	copy(out, b.sessions)
	return out
}

func (b *Browser) removeSession(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.sessions {
		if s.id == id {
			b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
			return
		}
	}
}
