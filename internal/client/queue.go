package client

import "sync"

// Chunk is one received audio segment.
type Chunk struct {
	Index int
	Audio []byte
	Text  string
}

// ChunkQueue holds a turn's chunks in arrival order. Readers wait on Changed
// for new chunks or the end marker.
type ChunkQueue struct {
	mu      sync.Mutex
	chunks  []Chunk
	ended   bool
	total   int
	changed chan struct{}
}

// NewChunkQueue returns an empty queue.
func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{changed: make(chan struct{})}
}

// Push appends a chunk. Chunks pushed after End are ignored.
func (q *ChunkQueue) Push(c Chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.chunks = append(q.chunks, c)
	q.signal()
}

// End marks that no more chunks will arrive. total is the count the server
// reported.
func (q *ChunkQueue) End(total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ended {
		return
	}
	q.ended = true
	q.total = total
	q.signal()
}

// At returns the chunk at position i, if it has arrived.
func (q *ChunkQueue) At(i int) (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.chunks) {
		return Chunk{}, false
	}
	return q.chunks[i], true
}

// Len returns the number of chunks enqueued.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Ended reports whether the end marker arrived.
func (q *ChunkQueue) Ended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ended
}

// Total returns the chunk count carried by the end marker.
func (q *ChunkQueue) Total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// Changed returns a channel closed on the next Push or End.
func (q *ChunkQueue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

// signal wakes waiters. Callers hold mu.
func (q *ChunkQueue) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}
