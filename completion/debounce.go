package completion

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of events. The first event of a burst fires
// immediately. Later events inside the window replace each other and the
// latest fires once the window passes without new events.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending func()
	stopped bool
	// seq identifies the armed timer so a stale expiry is ignored.
	seq uint64
}

// NewDebouncer returns a debouncer with the given quiet window.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger submits f. It runs f synchronously when the debouncer is idle,
// otherwise it schedules f for the end of the current window.
func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.delay <= 0 {
		d.mu.Unlock()
		f()
		return
	}

	if d.timer == nil {
		d.armLocked()
		d.mu.Unlock()
		f()
		return
	}

	d.pending = f
	d.timer.Stop()
	d.armLocked()
	d.mu.Unlock()
}

func (d *Debouncer) armLocked() {
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() { d.expire(seq) })
}

func (d *Debouncer) expire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq {
		d.mu.Unlock()
		return
	}
	f := d.pending
	d.pending = nil
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if f != nil && !stopped {
		f()
	}
}

// SetDelay changes the window for bursts that start after the call.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Stop drops any pending event. Trigger is a no-op afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
