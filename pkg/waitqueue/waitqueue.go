// Package waitqueue implements the intrusive, single-producer FIFO of
// waiters used to stash requests blocked on a cache-page fetch or a
// reference-block write (this design). Each waiter carries an opaque
// payload; what "notifying" a waiter means (invoke its completion, push it
// back onto a funnel queue, close a channel) is supplied by the caller at
// notify time rather than stored on the waiter, the same way the teacher's
// VActor (plugin/tfd/vactors.go) is a plain ordered container and lets its
// router decide what to do with what comes out.
//
// Queue is a hand-rolled singly linked list rather than container/list:
// the spec requires TransferAll to be O(1), which container/list's
// PushBackList cannot provide (it walks and re-inserts every element).
package waitqueue

// Waiter is the intrusive link node. A zero Waiter is ready to enqueue
// once Value is set. A Waiter must not be enqueued on two queues, or
// enqueued twice on the same queue, at once — the caller is responsible
// for that invariant, exactly as this design states.
type Waiter struct {
	next  *Waiter
	Value any
}

// Queue is an intrusive FIFO of *Waiter. The zero value is an empty,
// ready-to-use queue.
type Queue struct {
	head, tail *Waiter
	count      int
}

// Enqueue appends w to the tail of the queue.
func (q *Queue) Enqueue(w *Waiter) {
	w.next = nil
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.next = w
	}
	q.tail = w
	q.count++
}

// NotifyNext dequeues the head waiter, if any, and invokes cb(head, ctx).
// Returns false without invoking cb iff the queue was empty.
func (q *Queue) NotifyNext(cb func(w *Waiter, ctx any), ctx any) bool {
	w := q.head
	if w == nil {
		return false
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	w.next = nil
	cb(w, ctx)
	return true
}

// NotifyAll repeatedly calls NotifyNext until the queue is empty.
func (q *Queue) NotifyAll(cb func(w *Waiter, ctx any), ctx any) {
	for q.NotifyNext(cb, ctx) {
	}
}

// TransferAll concatenates q onto the end of dst and empties q, in O(1).
func (q *Queue) TransferAll(dst *Queue) {
	if q.head == nil {
		return
	}
	if dst.tail == nil {
		dst.head = q.head
	} else {
		dst.tail.next = q.head
	}
	dst.tail = q.tail
	dst.count += q.count
	q.head, q.tail, q.count = nil, nil, 0
}

// Count returns the number of waiters currently queued.
func (q *Queue) Count() int { return q.count }

// HasWaiters reports whether the queue is non-empty.
func (q *Queue) HasWaiters() bool { return q.head != nil }

// GetFirst returns the head waiter without dequeuing it, or nil if empty.
func (q *Queue) GetFirst() *Waiter { return q.head }

// GetNext returns the waiter following w in iteration order, or nil at the
// end of the queue. GetFirst/GetNext let a caller walk the queue (e.g. to
// find a waiter matching a predicate) without consuming it.
func (q *Queue) GetNext(w *Waiter) *Waiter { return w.next }

// Remove unlinks w from the queue if present, returning true iff it was
// found. Unlike NotifyNext, this does not require w to be at the head —
// callers that complete work out of FIFO order (e.g. a reference-block
// write finishing for a block that is not the oldest dirtied one) use
// this to retire exactly the waiter that completed.
func (q *Queue) Remove(w *Waiter) bool {
	var prev *Waiter
	for cur := q.head; cur != nil; prev, cur = cur, cur.next {
		if cur != w {
			continue
		}
		if prev == nil {
			q.head = cur.next
		} else {
			prev.next = cur.next
		}
		if cur == q.tail {
			q.tail = prev
		}
		cur.next = nil
		q.count--
		return true
	}
	return false
}
