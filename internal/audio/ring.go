package audio

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded FIFO of SampleBlocks between the capture goroutine and
// the control loop. Push never blocks: when full, the oldest block is
// evicted and the drop counter incremented, so the capture side is never
// stalled by a slow consumer.
type Ring struct {
	mu      sync.Mutex
	blocks  []SampleBlock
	head    int // index of oldest block
	n       int
	dropped atomic.Uint64
}

// NewRing creates a ring holding at most capacity blocks.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{blocks: make([]SampleBlock, capacity)}
}

// Push appends a block, evicting the oldest when full.
func (r *Ring) Push(b SampleBlock) {
	r.mu.Lock()
	capacity := len(r.blocks)
	if r.n == capacity {
		// Evict oldest.
		r.head = (r.head + 1) % capacity
		r.n--
		r.dropped.Add(1)
	}
	r.blocks[(r.head+r.n)%capacity] = b
	r.n++
	r.mu.Unlock()
}

// PopAll drains every buffered block in arrival order.
func (r *Ring) PopAll() []SampleBlock {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == 0 {
		return nil
	}
	out := make([]SampleBlock, r.n)
	capacity := len(r.blocks)
	for i := 0; i < r.n; i++ {
		out[i] = r.blocks[(r.head+i)%capacity]
	}
	r.head = 0
	r.n = 0
	return out
}

// Len returns the number of buffered blocks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Dropped returns the total number of evicted blocks.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
