package encode

import (
	"errors"
	"sync"
)

// ErrQueueDrained is returned when writing to or draining a queue that
// was already drained.
var ErrQueueDrained = errors.New("chunk queue already drained")

// ChunkQueue collects encoded output in arrival order. It is append-only
// until drained, and drained exactly once.
type ChunkQueue struct {
	mu      sync.Mutex
	chunks  [][]byte
	size    int
	drained bool
}

// NewChunkQueue creates an empty queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{}
}

// Write appends a copy of p as one chunk.
func (q *ChunkQueue) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.drained {
		return 0, ErrQueueDrained
	}
	if len(p) == 0 {
		return 0, nil
	}
	q.chunks = append(q.chunks, append([]byte(nil), p...))
	q.size += len(p)
	return len(p), nil
}

// Len returns the number of chunks received.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Size returns the total number of bytes received.
func (q *ChunkQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Bytes drains the queue, returning every chunk concatenated in order.
func (q *ChunkQueue) Bytes() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.drained {
		return nil, ErrQueueDrained
	}
	out := make([]byte, 0, q.size)
	for _, c := range q.chunks {
		out = append(out, c...)
	}
	q.chunks = nil
	q.drained = true
	return out, nil
}
