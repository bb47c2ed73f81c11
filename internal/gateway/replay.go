package gateway

import (
	"sort"
	"sync"
)

// DefaultReplayCapacity is the number of envelopes kept for backfill.
const DefaultReplayCapacity = 500

// ReplayEntry is one broadcast envelope and its sequence number.
type ReplayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer is a fixed-size ring of recent envelopes. Seqs must be pushed
// in increasing order, which lets Range binary search.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []ReplayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayBuffer{buf: make([]ReplayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = ReplayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// Range returns entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []ReplayEntry {
	if toSeq < fromSeq {
		return nil
	}
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	start := sort.Search(n, func(i int) bool { return rb.at(i).Seq >= fromSeq })
	var out []ReplayEntry
	for i := start; i < n; i++ {
		e := rb.at(i)
		if e.Seq > toSeq {
			break
		}
		out = append(out, e)
	}
	return out
}

// Oldest returns the lowest seq still buffered, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.len() == 0 {
		return 0
	}
	return rb.at(0).Seq
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// at maps a logical index (0 = oldest) to its entry.
func (rb *ReplayBuffer) at(i int) ReplayEntry {
	if rb.full {
		return rb.buf[(rb.pos+i)%len(rb.buf)]
	}
	return rb.buf[i]
}
