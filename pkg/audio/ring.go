package audio

import (
	"sync"
	"time"
)

// Ring keeps the most recent mono samples of a capture stream. The capture
// pump writes into it and the analyzer takes fixed-size snapshots on every
// poll. Ring is safe for concurrent use.
type Ring struct {
	staleAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	buf     []float32
	next    int
	count   int
	written time.Time
}

// RingOption configures a [Ring].
type RingOption func(*Ring)

// WithStaleAfter makes snapshots read as silence once no samples have been
// written for longer than d, so a stream that stops mid-utterance does not
// freeze its last window. now supplies the current time; nil means
// [time.Now].
func WithStaleAfter(d time.Duration, now func() time.Time) RingOption {
	return func(r *Ring) {
		r.staleAfter = d
		if now != nil {
			r.now = now
		}
	}
}

// NewRing returns a ring holding up to size samples. size must be positive.
func NewRing(size int, opts ...RingOption) *Ring {
	if size <= 0 {
		size = 1
	}
	r := &Ring{buf: make([]float32, size), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Len returns the capacity of the ring.
func (r *Ring) Len() int { return len(r.buf) }

// Write appends samples, overwriting the oldest ones once the ring is full.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(samples) > len(r.buf) {
		samples = samples[len(samples)-len(r.buf):]
	}
	for _, s := range samples {
		r.buf[r.next] = s
		r.next = (r.next + 1) % len(r.buf)
	}
	r.count = min(r.count+len(samples), len(r.buf))
	if r.staleAfter > 0 {
		r.written = r.now()
	}
}

// WriteFrame decodes a PCM frame to mono and appends it.
func (r *Ring) WriteFrame(f AudioFrame) {
	r.Write(Float32Mono(f.Data, f.Channels))
}

// Snapshot copies the newest len(dst) samples into dst in chronological
// order. When fewer samples have been written, the leading part of dst is
// zero-filled. A stale ring yields all zeros.
func (r *Ring) Snapshot(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.staleAfter > 0 && r.count > 0 && r.now().Sub(r.written) > r.staleAfter {
		clear(dst)
		return
	}
	n := min(len(dst), r.count)
	pad := len(dst) - n
	clear(dst[:pad])
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := range n {
		dst[pad+i] = r.buf[(start+i)%len(r.buf)]
	}
}

// Reset discards all buffered samples.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next = 0
	r.count = 0
}
