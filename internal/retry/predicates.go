// internal/retry/predicates.go
package retry

import (
	"fmt"

	"github.com/xkilldash9x/stagehand/api/schemas"
)

// Failure reasons for the individual actionability sub-conditions. These
// strings end up in TimeoutError.LastReason, so they must stay concrete.
const (
	ReasonNotAttached      = "element not attached"
	ReasonNotVisible       = "element not visible"
	ReasonNotStable        = "element not stable (still moving)"
	ReasonDisabled         = "element disabled"
	ReasonNotReceiving     = "element does not receive pointer events"
	ReasonStillHidden      = "element still visible"
	ReasonNoPreviousSample = "waiting for a second sample to confirm stability"
)

// Actionable returns the composite actionability predicate used for action
// retries (click, fill): attached, visible, stable, enabled, and receiving
// pointer events must all hold on the same poll.
//
// Stability means the bounding box did not move between two consecutive
// polls, so the predicate is stateful and a fresh one must be created per
// operation.
func Actionable() Predicate {
	var prev *schemas.Box
	return func(r schemas.ProbeResult) (bool, string) {
		if !r.Exists {
			prev = nil
			return false, ReasonNotAttached
		}
		if !r.Visible {
			prev = nil
			return false, ReasonNotVisible
		}

		hadSample := prev != nil
		stable := hadSample && r.Box != nil && prev.Equal(r.Box)
		prev = r.Box
		if !stable {
			if !hadSample {
				return false, ReasonNoPreviousSample
			}
			return false, ReasonNotStable
		}
		if !r.Enabled {
			return false, ReasonDisabled
		}
		if !r.ReceivesEvents {
			return false, ReasonNotReceiving
		}
		return true, ""
	}
}

// Visible succeeds once the target is attached and visible.
func Visible() Predicate {
	return func(r schemas.ProbeResult) (bool, string) {
		if !r.Exists {
			return false, ReasonNotAttached
		}
		if !r.Visible {
			return false, ReasonNotVisible
		}
		return true, ""
	}
}

// Hidden succeeds once the target is detached or not visible.
func Hidden() Predicate {
	return func(r schemas.ProbeResult) (bool, string) {
		if r.Exists && r.Visible {
			return false, ReasonStillHidden
		}
		return true, ""
	}
}

// TextEquals succeeds once the target's text matches want exactly.
func TextEquals(want string) Predicate {
	return func(r schemas.ProbeResult) (bool, string) {
		if !r.Exists {
			return false, ReasonNotAttached
		}
		if r.Text != want {
			return false, fmt.Sprintf("text is %q, expected %q", r.Text, want)
		}
		return true, ""
	}
}

// CountEquals succeeds once the selector matches exactly want nodes.
func CountEquals(want int) Predicate {
	return func(r schemas.ProbeResult) (bool, string) {
		if r.Count != want {
			return false, fmt.Sprintf("selector matches %d nodes, expected %d", r.Count, want)
		}
		return true, ""
	}
}

// AttributeEquals succeeds once the named attribute matches want.
func AttributeEquals(name, want string) Predicate {
	return func(r schemas.ProbeResult) (bool, string) {
		if !r.Exists {
			return false, ReasonNotAttached
		}
		got, ok := r.Attributes[name]
		if !ok {
			return false, fmt.Sprintf("attribute %q not present", name)
		}
		if got != want {
			return false, fmt.Sprintf("attribute %q is %q, expected %q", name, got, want)
		}
		return true, ""
	}
}
