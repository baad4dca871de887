// Package clock abstracts the time operations the request layer depends on
// so retry waits can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and timer channels.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives once d has elapsed. If d <= 0
	// the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Recorder is a Clock for tests. After fires immediately and advances the
// recorder's notion of now by d, recording every requested wait.
type Recorder struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// NewRecorder returns a Recorder starting at the given time.
func NewRecorder(start time.Time) *Recorder {
	return &Recorder{current: start}
}

// Now returns the recorder's current time.
func (r *Recorder) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// After records d, advances time by d and returns a channel that is already
// ready.
func (r *Recorder) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.waits = append(r.waits, d)
	if d > 0 {
		r.current = r.current.Add(d)
	}
	ch := make(chan time.Time, 1)
	ch <- r.current
	return ch
}

// Waits returns a copy of every duration passed to After.
func (r *Recorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
