package signaling

import (
	"sync"
	"sync/atomic"
)

// sendQueue is a byte-bounded FIFO of outbound frames.
//
// Relaying enqueues into it so a slow recipient never stalls the sender's
// read loop or the registry.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte

	drops atomic.Uint64
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends frame if it fits within the byte budget. It never blocks.
func (q *sendQueue) Enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.drops.Add(1)
		return ErrTransportClosed
	}
	if q.curBytes+len(frame) > q.maxBytes {
		q.drops.Add(1)
		return ErrSendQueueFull
	}

	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a frame is available or the queue is closed.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = nil
	q.frames = q.frames[:len(q.frames)-1]
	q.curBytes -= len(frame)
	return frame, true
}

// Close discards pending frames and wakes any waiting Dequeue.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
