package core

import "github.com/gammazero/deque"

const compactMinStale = 64

// queuedHandle is one insertion of a handle; seq tells a live insertion from
// a tombstone left behind by Remove or a later Push.
type queuedHandle struct {
	h   *Handle
	seq uint64
}

// readyQueue is a FIFO set of handles: insertion order is kept and a handle
// is never queued twice. Removal is lazy, tombstones are skipped when they
// reach the front. Not safe for concurrent use; the scheduler guards it with
// its own mutex.
type readyQueue struct {
	order   deque.Deque[queuedHandle]
	members map[*Handle]uint64
	seq     uint64
	stale   int
}

func newReadyQueue() *readyQueue {
	return &readyQueue{members: make(map[*Handle]uint64)}
}

func (q *readyQueue) Len() int { return len(q.members) }

func (q *readyQueue) Contains(h *Handle) bool {
	_, ok := q.members[h]
	return ok
}

// Push appends h at the back, moving it there if it was already queued.
func (q *readyQueue) Push(h *Handle) {
	if _, ok := q.members[h]; ok {
		q.stale++
	}
	q.seq++
	q.members[h] = q.seq
	q.order.PushBack(queuedHandle{h: h, seq: q.seq})
	q.maybeCompact()
}

// Remove drops h if it is queued.
func (q *readyQueue) Remove(h *Handle) bool {
	if _, ok := q.members[h]; !ok {
		return false
	}
	delete(q.members, h)
	q.stale++
	q.maybeCompact()
	return true
}

// PopFront removes and returns the oldest queued handle.
func (q *readyQueue) PopFront() (*Handle, bool) {
	for q.order.Len() > 0 {
		e := q.order.PopFront()
		if q.live(e) {
			delete(q.members, e.h)
			return e.h, true
		}
		q.stale--
	}
	return nil, false
}

// Handles returns the queued handles in FIFO order.
func (q *readyQueue) Handles() []*Handle {
	out := make([]*Handle, 0, len(q.members))
	for i := 0; i < q.order.Len(); i++ {
		if e := q.order.At(i); q.live(e) {
			out = append(out, e.h)
		}
	}
	return out
}

func (q *readyQueue) live(e queuedHandle) bool {
	seq, ok := q.members[e.h]
	return ok && seq == e.seq
}

// maybeCompact rebuilds the deque once tombstones outnumber live entries.
func (q *readyQueue) maybeCompact() {
	if q.stale < compactMinStale || q.stale < len(q.members) {
		return
	}
	for range q.order.Len() {
		e := q.order.PopFront()
		if q.live(e) {
			q.order.PushBack(e)
		}
	}
	q.stale = 0
}
