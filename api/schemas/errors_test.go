// api/schemas/errors_test.go
package schemas

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutErrorTaxonomy(t *testing.T) {
	err := NewTimeoutError(5*time.Second, "element not visible")

	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	assert.Contains(t, err.Error(), "5s")
	assert.Contains(t, err.Error(), "element not visible")

	// Wrapping preserves both the sentinel match and the typed detail.
	wrapped := fmt.Errorf("click %q: %w", "#submit", err)
	assert.ErrorIs(t, wrapped, ErrTimeoutExceeded)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, wrapped, &timeoutErr)
	assert.Equal(t, 5*time.Second, timeoutErr.Timeout)
	assert.Equal(t, "element not visible", timeoutErr.LastReason)

	// A timeout is not a disconnection.
	assert.NotErrorIs(t, err, ErrSessionDisconnected)
}

func TestTimeoutErrorWithoutReason(t *testing.T) {
	err := NewTimeoutError(time.Second, "")
	assert.Equal(t, "timeout 1s exceeded", err.Error())
}

func TestFixtureErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &FixtureError{Fixture: "database", Err: cause}

	assert.ErrorIs(t, err, ErrFixtureSetupFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"database"`)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCycleErrorShowsFullPath(t *testing.T) {
	err := &CycleError{Path: []string{"a", "b", "c", "a"}}

	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Equal(t, "fixture dependency cycle: a -> b -> c -> a", err.Error())
}

func TestBoxEqual(t *testing.T) {
	a := &Box{X: 1, Y: 2, Width: 3, Height: 4}
	b := &Box{X: 1, Y: 2, Width: 3, Height: 4}
	c := &Box{X: 1, Y: 2, Width: 3, Height: 5}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	var nilBox *Box
	assert.True(t, nilBox.Equal(nil))
}
