package group

import "container/list"

// TimestampTracker maintains the minimum timestamp of a FIFO-ordered
// multiset of records under AddStamped/RemoveStamped, where removals are
// guaranteed by the caller to occur in the same order as additions.
//
// Left as an interface so alternative policies (e.g. first-encountered,
// or a fixed decaying window) can be substituted without touching
// RecordQueue or StreamGroup.
type TimestampTracker interface {
	AddStamped(r *StampedRecord)
	RemoveStamped(r *StampedRecord)
	Get() int64
}

// minTimestampTracker is the monotone-minimum deque: on Add, every element
// with a strictly greater timestamp than the incoming one is evicted from
// the back before the new element is pushed, so the front always holds the
// minimum of the currently-tracked set. Ties preserve FIFO order — an
// existing element is never evicted by one with an equal timestamp.
type minTimestampTracker struct {
	deque *list.List // of *StampedRecord, front = minimum
}

// NewMinTimestampTracker returns the tracker described in SPEC_FULL.md §4.1.
func NewMinTimestampTracker() TimestampTracker {
	return &minTimestampTracker{deque: list.New()}
}

func (t *minTimestampTracker) AddStamped(r *StampedRecord) {
	for back := t.deque.Back(); back != nil; back = t.deque.Back() {
		if back.Value.(*StampedRecord).Timestamp <= r.Timestamp {
			break
		}
		t.deque.Remove(back)
	}
	t.deque.PushBack(r)
}

func (t *minTimestampTracker) RemoveStamped(r *StampedRecord) {
	front := t.deque.Front()
	if front == nil || front.Value.(*StampedRecord) != r {
		return
	}
	t.deque.Remove(front)
}

func (t *minTimestampTracker) Get() int64 {
	if front := t.deque.Front(); front != nil {
		return front.Value.(*StampedRecord).Timestamp
	}
	return NoTimestamp
}
