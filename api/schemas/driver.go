// api/schemas/driver.go
package schemas

import "context"

// ActionType enumerates the input actions a document driver can perform.
type ActionType string

const (
	ActionClick ActionType = "click"
	ActionFill  ActionType = "fill"
	ActionPress ActionType = "press"
)

// Action is one input action dispatched to a driver after the target has
// satisfied the actionability checks.
type Action struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector"`
	// Value is the text for fill actions or the key for press actions.
	Value string `json:"value,omitempty"`
}

// EventType enumerates the raw events a document driver delivers to the core.
type EventType string

const (
	// EventDialogOpened: the page opened a native dialog; the in-flight
	// action is suspended inside the driver until ResolveDialog is called.
	EventDialogOpened EventType = "dialog_opened"
	// EventPopupOpened: the page spawned a new browsing target.
	EventPopupOpened EventType = "popup_opened"
	// EventNavigated: the main frame committed a navigation.
	EventNavigated EventType = "navigated"
	// EventFrameAttached / EventFrameDetached track the sub-frame tree.
	EventFrameAttached EventType = "frame_attached"
	EventFrameDetached EventType = "frame_detached"
	// EventDisconnected: the underlying process or target is gone.
	EventDisconnected EventType = "disconnected"
)

// DriverEvent is one raw event from the controlled document. Exactly the
// fields relevant to the Type are populated.
type DriverEvent struct {
	Type EventType `json:"type"`

	Dialog *DialogInfo `json:"dialog,omitempty"`

	// PopupTargetID identifies the newly created target for popup events.
	PopupTargetID string `json:"popup_target_id,omitempty"`

	// URL is the committed URL for navigation events.
	URL string `json:"url,omitempty"`

	// FrameID and ParentFrameID describe frame tree mutations. An empty
	// ParentFrameID on attach means the frame is a child of the root.
	FrameID       string `json:"frame_id,omitempty"`
	ParentFrameID string `json:"parent_frame_id,omitempty"`
}

// DocumentDriver is the transport boundary for a single controlled document.
// It delivers raw dialog/popup/navigation events to the core and accepts
// action and resolution commands back. Implementations must be safe for
// concurrent use; the core guarantees actions on one document are issued
// sequentially.
type DocumentDriver interface {
	ElementProbe

	// Navigate loads the given URL in the main frame.
	Navigate(ctx context.Context, url string) error

	// Perform executes one input action. If the action causes the page to
	// open a native dialog, Perform blocks until the dialog is resolved
	// through ResolveDialog or ctx expires.
	Perform(ctx context.Context, action Action) error

	// Events returns the event stream. The channel is closed when the
	// driver shuts down.
	Events() <-chan DriverEvent

	// ResolveDialog applies a decision to the currently open dialog.
	ResolveDialog(ctx context.Context, accept bool, text string) error

	// Close releases the underlying target. Closing twice is a no-op.
	Close(ctx context.Context) error
}

// Driver is the process boundary: it owns one launched browser-like process
// and mints per-document transports inside isolated storage partitions.
type Driver interface {
	// Launch starts the underlying process. Calling Launch on a launched
	// driver is a no-op.
	Launch(ctx context.Context) error

	// NewDocument opens a fresh document inside the given isolation
	// partition and returns its transport.
	NewDocument(ctx context.Context, sessionID string) (DocumentDriver, error)

	// AdoptPopup attaches to a target previously announced through an
	// EventPopupOpened and returns its transport.
	AdoptPopup(ctx context.Context, sessionID, targetID string) (DocumentDriver, error)

	// Close terminates the process and every target it owns.
	Close(ctx context.Context) error
}
