package runner

import (
	"sync"

	"github.com/link-foundation/command-stream-go/execspec"
)

// chunkQueue is an unbounded, single-producer fan-out buffer for one
// Iterate consumer: push never blocks the producer (the Runner's own
// output-handling goroutine) regardless of whether, or how fast, anything
// is pulling from next — a consumer that never calls Iterate must not be
// able to stall Await (spec.md §5: "a consumer that never iterates does
// not by itself kill the child"). Modeled on zmux-server's slotPool
// (internal/infrastructure/processmgr/slot_pool.go), which guards a
// sync.Cond-signalled condition with the same single mutex rather than a
// fixed-capacity channel.
type chunkQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []execspec.ChunkEvent
	closed bool
}

func newChunkQueue() *chunkQueue {
	q := &chunkQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends ev to the buffer and wakes any waiting consumer. It never
// blocks: the buffer grows to hold whatever has not yet been pulled.
func (q *chunkQueue) push(ev execspec.ChunkEvent) {
	q.mu.Lock()
	q.buf = append(q.buf, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// close marks the queue as drained of future pushes; pending next calls
// return their buffered backlog first, then (false) once it is empty.
func (q *chunkQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// next blocks until a chunk is available or the queue is closed and
// drained, matching I1's "end" only after every pending chunk is emitted.
func (q *chunkQueue) next() (execspec.ChunkEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return execspec.ChunkEvent{}, false
	}
	ev := q.buf[0]
	q.buf = q.buf[1:]
	return ev, true
}
