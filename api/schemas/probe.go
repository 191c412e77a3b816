// api/schemas/probe.go
package schemas

import "context"

// Box is an element's bounding box in CSS pixels, relative to the viewport.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Equal reports whether two boxes describe the same position and size.
// Comparing the boxes of two consecutive polls is how the retry engine
// decides an element has stopped moving.
func (b *Box) Equal(other *Box) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.X == other.X && b.Y == other.Y && b.Width == other.Width && b.Height == other.Height
}

// ProbeResult is one observation of a target's state, produced by an
// external matching engine. The orchestration core never walks the DOM
// itself; it only evaluates these snapshots.
type ProbeResult struct {
	// Exists reports whether the target is attached to the document.
	Exists bool `json:"exists"`
	// Visible reports whether the target has a non-empty, unhidden box.
	Visible bool `json:"visible"`
	// Enabled reports whether the target accepts input (not disabled).
	Enabled bool `json:"enabled"`
	// ReceivesEvents reports whether the target would receive pointer
	// events at its center point (not covered by another element).
	ReceivesEvents bool `json:"receives_events"`
	// Box is the current bounding box, nil when not attached or not laid out.
	Box *Box `json:"box,omitempty"`

	// Text is the target's visible text content.
	Text string `json:"text,omitempty"`
	// Attributes holds the target's attributes.
	Attributes map[string]string `json:"attributes,omitempty"`
	// Count is the number of nodes matching the selector.
	Count int `json:"count"`
}

// ElementProbe locates and reads the current state of a selector's target.
// Implementations are supplied by a driver (a real matching engine or a
// scripted fake); they must be safe for concurrent use.
type ElementProbe interface {
	Probe(ctx context.Context, selector string) (ProbeResult, error)
}
