package session

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop prevents the callback from running if it has not started yet.
	Stop() bool
}

// TimeProvider is an interface for getting the current time and scheduling
// callbacks. This allows injecting a mock time provider for deterministic
// testing.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc runs f in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// RealTimeProvider implements TimeProvider using the actual system time.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f using the standard library.
func (RealTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// getTimeProvider returns the provided TimeProvider if non-nil,
// otherwise returns the system clock.
func getTimeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}

// MockTimeProvider is a deterministic time provider for testing. Scheduled
// callbacks run only when Advance moves the clock past their deadline.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
	timers      []*mockTimer
}

// NewMockTimeProvider creates a MockTimeProvider starting at the specified time.
func NewMockTimeProvider(startTime time.Time) *MockTimeProvider {
	return &MockTimeProvider{currentTime: startTime}
}

// Now returns the mock time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// AfterFunc schedules f at Now()+d on the mock clock.
func (m *MockTimeProvider) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTimer{owner: m, deadline: m.currentTime.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the mock time forward and runs every callback that became
// due, in deadline order, on the calling goroutine.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.currentTime = m.currentTime.Add(d)
	now := m.currentTime

	var due, rest []*mockTimer
	for _, t := range m.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.timers = rest
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.f()
	}
}

// Pending returns how many callbacks are scheduled and not stopped.
func (m *MockTimeProvider) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type mockTimer struct {
	owner    *MockTimeProvider
	deadline time.Time
	f        func()
}

func (t *mockTimer) Stop() bool {
	m := t.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}
