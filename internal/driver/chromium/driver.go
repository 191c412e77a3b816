// internal/driver/chromium/driver.go
package chromium

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/api/schemas"
	"github.com/xkilldash9x/stagehand/internal/config"
)

// Driver owns one Chromium process. Each isolated session maps to its own
// BrowserContext (a private cookie/storage partition); each document maps
// to a target created inside that partition.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu            sync.Mutex
	launched      bool
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	partitions    map[string]cdp.BrowserContextID
	documents     map[target.ID]*DocumentDriver
}

// NewDriver creates an unlaunched Chromium driver.
func NewDriver(cfg config.BrowserConfig, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		cfg:        cfg,
		logger:     logger.Named("chromium"),
		partitions: make(map[string]cdp.BrowserContextID),
		documents:  make(map[target.ID]*DocumentDriver),
	}
}

// Launch starts the browser process and verifies it responds. Launching
// twice is a no-op.
func (d *Driver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return schemas.ErrSessionDisconnected
	}
	if d.launched {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := d.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	startCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	// Connect and confirm the process is alive. Target discovery lets us
	// see popups targets as they are spawned.
	err := chromedp.Run(startCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.SetDiscoverTargets(true).Do(c)
	}))
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	chromedp.ListenTarget(browserCtx, d.routeTargetEvents)

	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.launched = true
	d.logger.Info("Browser launched.", zap.Bool("headless", d.cfg.Headless))
	return nil
}

// allocatorOptions assembles the launch flags, starting from chromedp's
// defaults plus any configured extras.
func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", d.cfg.Headless),
	)
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}

	for _, arg := range d.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Container environments need the sandbox relaxed.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// routeTargetEvents watches browser-level target creation and attributes
// popups to the document that opened them.
func (d *Driver) routeTargetEvents(ev interface{}) {
	created, ok := ev.(*target.EventTargetCreated)
	if !ok || created.TargetInfo == nil || created.TargetInfo.OpenerID == "" {
		return
	}
	d.mu.Lock()
	opener := d.documents[created.TargetInfo.OpenerID]
	d.mu.Unlock()
	if opener == nil {
		return
	}
	opener.emit(schemas.DriverEvent{
		Type:          schemas.EventPopupOpened,
		PopupTargetID: string(created.TargetInfo.TargetID),
	})
}

// NewDocument opens a fresh target inside the session's storage partition,
// creating the partition on first use.
func (d *Driver) NewDocument(ctx context.Context, sessionID string) (schemas.DocumentDriver, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, schemas.ErrSessionDisconnected
	}
	if !d.launched {
		d.mu.Unlock()
		return nil, fmt.Errorf("driver not launched")
	}
	browserCtx := d.browserCtx
	partition, havePartition := d.partitions[sessionID]
	d.mu.Unlock()

	var targetID target.ID
	err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		if !havePartition {
			partition, err = target.CreateBrowserContext().Do(c)
			if err != nil {
				return fmt.Errorf("failed to create browser context: %w", err)
			}
			d.mu.Lock()
			d.partitions[sessionID] = partition
			d.mu.Unlock()
		}
		targetID, err = target.CreateTarget("about:blank").
			WithBrowserContextID(partition).
			Do(c)
		if err != nil {
			return fmt.Errorf("failed to create target: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	return d.attach(targetID)
}

// AdoptPopup attaches to a target previously announced as a popup.
func (d *Driver) AdoptPopup(ctx context.Context, sessionID, targetID string) (schemas.DocumentDriver, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, schemas.ErrSessionDisconnected
	}
	if !d.launched {
		d.mu.Unlock()
		return nil, fmt.Errorf("driver not launched")
	}
	d.mu.Unlock()

	return d.attach(target.ID(targetID))
}

func (d *Driver) attach(id target.ID) (*DocumentDriver, error) {
	doc, err := newDocumentDriver(d.browserCtx, id, d.logger, d.forget)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.documents[id] = doc
	d.mu.Unlock()
	return doc, nil
}

func (d *Driver) forget(id target.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.documents, id)
}

// Close terminates the browser process and every partition it owns.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	docs := make([]*DocumentDriver, 0, len(d.documents))
	for _, doc := range d.documents {
		docs = append(docs, doc)
	}
	d.documents = make(map[target.ID]*DocumentDriver)
	launched := d.launched
	browserCancel := d.browserCancel
	allocCancel := d.allocCancel
	d.mu.Unlock()

	for _, doc := range docs {
		_ = doc.Close(ctx)
	}
	if launched {
		browserCancel()
		allocCancel()
	}
	d.logger.Info("Browser closed.")
	return nil
}
