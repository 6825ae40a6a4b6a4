// Package speaking turns a stream of audio levels into debounced speaking
// transitions.
package speaking

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 0.1
	DefaultHold      = 200 * time.Millisecond
)

type Timer interface {
	Stop() bool
}

// Clock schedules f after d. The real clock is time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	// Threshold starts speaking; Release stops it. Release defaults to
	// Threshold, a lower value widens the hysteresis band.
	Threshold float64
	Release   float64
	Hold      time.Duration
	Clock     Clock
}

// Debouncer commits a new speaking state only after the level stayed on the
// other side of the threshold for Hold. Each committed change is published
// exactly once.
type Debouncer struct {
	mu       sync.Mutex
	pubMu    sync.Mutex
	opts     Options
	publish  func(bool)
	speaking bool
	pending  Timer
	gen      uint64
}

func New(opts Options, publish func(speaking bool)) *Debouncer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Release <= 0 || opts.Release > opts.Threshold {
		opts.Release = opts.Threshold
	}
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Debouncer{opts: opts, publish: publish}
}

// Sample feeds one normalized level in [0, 1].
func (d *Debouncer) Sample(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	crossing := level >= d.opts.Threshold
	if d.speaking {
		crossing = level < d.opts.Release
	}
	if !crossing {
		d.cancelLocked()
		return
	}
	if d.pending != nil {
		return
	}
	d.gen++
	gen, next := d.gen, !d.speaking
	d.pending = d.opts.Clock.AfterFunc(d.opts.Hold, func() { d.fire(gen, next) })
}

func (d *Debouncer) fire(gen uint64, next bool) {
	d.mu.Lock()
	// a cancelled timer may still fire if Stop lost the race
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.speaking = next
	d.pubMu.Lock()
	d.mu.Unlock()
	defer d.pubMu.Unlock()
	if d.publish != nil {
		d.publish(next)
	}
}

func (d *Debouncer) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset drops any pending transition and forces the silent state without
// publishing, e.g. when the microphone is switched off.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.speaking = false
}

func (d *Debouncer) cancelLocked() {
	if d.pending == nil {
		return
	}
	d.pending.Stop()
	d.pending = nil
	d.gen++
}
