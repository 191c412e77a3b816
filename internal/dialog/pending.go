// internal/dialog/pending.go
package dialog

import (
	"sync"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Resolution is the caller's decision for one pending dialog.
type Resolution struct {
	Accept bool
	Text   string
}

// PendingDialog is one outstanding dialog interception event. It must be
// resolved exactly once; the action that triggered the dialog stays
// suspended until that happens. A second resolution attempt fails with
// ErrAlreadyResolved.
type PendingDialog struct {
	info schemas.DialogInfo

	mu       sync.Mutex
	resolved bool
	apply    func(Resolution) error
}

func newPendingDialog(info schemas.DialogInfo, apply func(Resolution) error) *PendingDialog {
	return &PendingDialog{info: info, apply: apply}
}

// Kind returns the dialog variant.
func (d *PendingDialog) Kind() schemas.DialogKind { return d.info.Kind }

// Message returns the dialog's message text.
func (d *PendingDialog) Message() string { return d.info.Message }

// DefaultText returns the default value of a prompt dialog.
func (d *PendingDialog) DefaultText() string { return d.info.DefaultText }

// Accept resolves the dialog positively. For prompts the default text is
// submitted.
func (d *PendingDialog) Accept() error {
	return d.settle(Resolution{Accept: true, Text: d.info.DefaultText})
}

// AcceptWithText resolves the dialog positively with the given text. The
// text is only meaningful for prompts; for other kinds it is ignored.
func (d *PendingDialog) AcceptWithText(text string) error {
	if d.info.Kind != schemas.DialogPrompt {
		text = ""
	}
	return d.settle(Resolution{Accept: true, Text: text})
}

// Dismiss resolves the dialog negatively. Any prompt text is discarded.
func (d *PendingDialog) Dismiss() error {
	return d.settle(Resolution{Accept: false})
}

func (d *PendingDialog) settle(res Resolution) error {
	d.mu.Lock()
	if d.resolved {
		d.mu.Unlock()
		return schemas.ErrAlreadyResolved
	}
	d.resolved = true
	d.mu.Unlock()

	return d.apply(res)
}

// Resolved reports whether a decision has already been applied.
func (d *PendingDialog) Resolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolved
}
