// Package ringbuf provides a bounded, overwrite-oldest ring buffer of
// model.Sample. One feed goroutine owns writes; any number of readers take
// immutable copies through Snapshot, so a reader never observes a buffer
// that is being mutated.
package ringbuf

import (
	"sync"
	"sync/atomic"

	"cryptosignal/internal/model"
)

// DefaultCapacity matches the number of recent samples kept per asset.
const DefaultCapacity = 500

// Ring keeps the last Cap() samples pushed into it.
type Ring struct {
	mu   sync.RWMutex
	buf  []model.Sample
	head int // next write position
	size int

	// Monotonic push counter; readers can skip work when unchanged.
	version atomic.Uint64

	// Samples overwritten because the buffer was full (atomic, for metrics).
	evicted atomic.Uint64
}

// New creates a ring with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]model.Sample, capacity)}
}

// Push appends a sample, overwriting the oldest one when full.
// Returns true if an older sample was evicted.
func (r *Ring) Push(s model.Sample) bool {
	r.mu.Lock()
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	evicted := r.size == len(r.buf)
	if !evicted {
		r.size++
	}
	r.mu.Unlock()

	if evicted {
		r.evicted.Add(1)
	}
	r.version.Add(1)
	return evicted
}

// Snapshot returns a copy of the buffered samples, oldest first.
// The returned slice is owned by the caller.
func (r *Ring) Snapshot() []model.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Sample, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Last returns the most recently pushed sample.
func (r *Ring) Last() (model.Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.size == 0 {
		return model.Sample{}, false
	}
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)], true
}

// Len returns the current number of samples in the buffer.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Version returns the number of pushes so far.
func (r *Ring) Version() uint64 {
	return r.version.Load()
}

// Evicted returns the total number of samples overwritten.
func (r *Ring) Evicted() uint64 {
	return r.evicted.Load()
}
