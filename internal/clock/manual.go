// internal/clock/manual.go
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a hand-advanced Clock for tests. Time only moves when Advance
// is called; each Advance fires the waiters whose deadlines it reaches,
// earliest first. Goroutines released by the same Advance wake under
// scheduler control, so tests that care about wake order advance one
// deadline at a time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*manualWaiter
}

type manualWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManual creates a manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := context.Cause(ctx); err != nil {
			return err
		}
		return nil
	}
	ch := m.addWaiter(d)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	return m.addWaiter(d)
}

func (m *Manual) addWaiter(d time.Duration) chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	m.waiters = append(m.waiters, &manualWaiter{deadline: m.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d, firing every waiter whose deadline
// has been reached, earliest first.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	target := m.now

	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].deadline.Before(m.waiters[j].deadline)
	})
	var due []*manualWaiter
	var remaining []*manualWaiter
	for _, w := range m.waiters {
		if !w.deadline.After(target) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- target
	}
}

// SleeperCount returns the number of outstanding sleepers. Tests use this
// to wait until a polling loop has parked before advancing time.
func (m *Manual) SleeperCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
