// api/schemas/dialog.go
package schemas

// DialogKind is the tagged variant of a native browser dialog. Keeping it a
// closed set of constants makes handling exhaustively checkable.
type DialogKind string

const (
	// DialogAlert is a purely informational dialog; accepting and
	// dismissing are equivalent.
	DialogAlert DialogKind = "alert"
	// DialogConfirm asks for a yes/no decision.
	DialogConfirm DialogKind = "confirm"
	// DialogPrompt asks for a line of text and carries a default value.
	DialogPrompt DialogKind = "prompt"
)

// DialogInfo is the raw dialog description delivered by a driver when the
// page opens a native dialog.
type DialogInfo struct {
	Kind        DialogKind `json:"kind"`
	Message     string     `json:"message"`
	DefaultText string     `json:"default_text,omitempty"`
}
