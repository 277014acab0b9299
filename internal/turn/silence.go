package turn

import (
	"sync"
	"time"
)

const (
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 2 * time.Second
)

// SilenceDetector arms a timer when the input volume drops below a
// threshold and disarms it when the volume comes back. At most one timer is
// pending at a time; repeated quiet observations do not push it back.
//
// Each armed timer carries a token. A firing is delivered to the OnSilence
// callback with its token and only counts once confirmed with
// [SilenceDetector.Fire], which rejects tokens of timers that were
// cancelled in the meantime.
type SilenceDetector struct {
	clock Clock

	mu        sync.Mutex
	threshold float64
	duration  time.Duration
	pending   bool
	token     uint64
	timer     Timer
	onSilence func(token uint64)
}

// NewSilenceDetector returns a detector with the given settings. Zero
// values select the defaults; a nil clock uses real time.
func NewSilenceDetector(threshold float64, duration time.Duration, clock Clock) *SilenceDetector {
	if clock == nil {
		clock = realClock{}
	}
	d := &SilenceDetector{clock: clock}
	d.SetConfig(threshold, duration)
	return d
}

// SetConfig changes the threshold and quiet period. A pending timer keeps
// its original deadline; the new values apply from the next arm.
func (d *SilenceDetector) SetConfig(threshold float64, duration time.Duration) {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	if duration <= 0 {
		duration = DefaultSilenceDuration
	}
	d.mu.Lock()
	d.threshold, d.duration = threshold, duration
	d.mu.Unlock()
}

// Config returns the current threshold and quiet period.
func (d *SilenceDetector) Config() (float64, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold, d.duration
}

// OnSilence sets the callback run when a timer elapses. It is called on the
// timer's goroutine and should only hand the token on.
func (d *SilenceDetector) OnSilence(cb func(token uint64)) {
	d.mu.Lock()
	d.onSilence = cb
	d.mu.Unlock()
}

// Observe feeds one volume sample.
func (d *SilenceDetector) Observe(volume float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if volume >= d.threshold {
		d.cancelLocked()
		return
	}
	if d.pending {
		return
	}
	d.pending = true
	d.token++
	token := d.token
	d.timer = d.clock.AfterFunc(d.duration, func() {
		d.mu.Lock()
		cb := d.onSilence
		d.mu.Unlock()
		if cb != nil {
			cb(token)
		}
	})
}

// Fire confirms a timer firing. It reports false for a token whose timer
// was cancelled or superseded, and clears the pending state otherwise.
func (d *SilenceDetector) Fire(token uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pending || token != d.token {
		return false
	}
	d.pending = false
	d.timer = nil
	return true
}

// Cancel disarms a pending timer.
func (d *SilenceDetector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *SilenceDetector) cancelLocked() {
	if !d.pending {
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	// Invalidate a firing that is already on its way.
	d.token++
}

// Pending reports whether a timer is armed.
func (d *SilenceDetector) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
