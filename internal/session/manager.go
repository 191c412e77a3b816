// internal/session/manager.go
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
	"github.com/xkilldash9x/stagehand/internal/config"
	"github.com/xkilldash9x/stagehand/internal/retry"
)

// NodeKind identifies a level of the session hierarchy in close events.
type NodeKind string

const (
	KindBrowser  NodeKind = "browser"
	KindSession  NodeKind = "session"
	KindDocument NodeKind = "document"
	KindFrame    NodeKind = "frame"
)

// CloseEvent is emitted once per node when it is closed, in strict
// child-before-parent order. Closing an already closed node emits nothing.
type CloseEvent struct {
	Kind NodeKind
	ID   string
}

// Manager is the session hierarchy registry. It is the only structure
// mutated by multiple concurrent flows (node creation and closure);
// structural mutations are serialized behind its mutex while unrelated
// subtrees progress independently.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config
	driver schemas.Driver
	engine *retry.Engine

	mu        sync.RWMutex
	browsers  map[string]*Browser
	listeners []func(CloseEvent)
}

// NewManager creates the hierarchy manager. The driver is the opaque
// process collaborator; the engine is shared by every document the manager
// creates.
func NewManager(cfg *config.Config, driver schemas.Driver, engine *retry.Engine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger.Named("session_manager"),
		cfg:      cfg,
		driver:   driver,
		engine:   engine,
		browsers: make(map[string]*Browser),
	}
}

// OnClose registers a listener for node close events. Listeners run inline
// during close, so they must be fast and must not call back into the
// hierarchy.
func (m *Manager) OnClose(fn func(CloseEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) emitClose(ev CloseEvent) {
	m.mu.RLock()
	listeners := make([]func(CloseEvent), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// LaunchBrowser starts the underlying process (if not already running) and
// returns a new root handle that owns everything created beneath it.
func (m *Manager) LaunchBrowser(ctx context.Context) (*Browser, error) {
	launchTimeout := m.cfg.Browser.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = 60 * time.Second
	}
	launchCtx, cancel := context.WithTimeout(ctx, launchTimeout)
	defer cancel()

	if err := m.driver.Launch(launchCtx); err != nil {
		return nil, err
	}

	// The browser's lifecycle context deliberately does not inherit the
	// launch context; only Close or Disconnect ends it.
	bctx, bcancel := context.WithCancelCause(context.Background())
	b := &Browser{
		id:     uuid.New().String(),
		mgr:    m,
		ctx:    bctx,
		cancel: bcancel,
	}
	b.logger = m.logger.Named("browser").With(zap.String("browser_id", b.id))

	m.mu.Lock()
	m.browsers[b.id] = b
	m.mu.Unlock()

	b.logger.Info("Browser launched.")
	return b, nil
}

func (m *Manager) removeBrowser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.browsers, id)
}

// Shutdown closes every browser the manager still tracks.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	browsers := make([]*Browser, 0, len(m.browsers))
	for _, b := range m.browsers {
		browsers = append(browsers, b)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, b := range browsers {
		if err := b.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.logger.Info("Session manager shut down.", zap.Int("browsers_closed", len(browsers)))
	return firstErr
}

// Engine returns the shared retry engine.
func (m *Manager) Engine() *retry.Engine { return m.engine }

// joinContext derives an operation context from op that is additionally
// canceled when lifecycle ends, carrying lifecycle's cancellation cause
// (session close cancels with ErrSessionDisconnected). The returned stop
// function must be called to release the link.
func joinContext(op, lifecycle context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(op)
	stop := context.AfterFunc(lifecycle, func() {
		cancel(context.Cause(lifecycle))
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}
