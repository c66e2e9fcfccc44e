package group

import "container/heap"

// Chooser selects the next RecordQueue to drain. Callers guarantee each
// resident queue is added at most once while it is held by the Chooser.
// Both variants are single-thread-owned: StreamGroup only ever touches a
// Chooser from inside process/addPartition/close, all under its own lock.
type Chooser interface {
	Add(q *RecordQueue)
	Next() *RecordQueue
	Close()
}

// NewFIFOChooser returns the strict-arrival-order variant.
func NewFIFOChooser() Chooser {
	return &fifoChooser{}
}

type fifoChooser struct {
	queues []*RecordQueue
}

func (c *fifoChooser) Add(q *RecordQueue) {
	c.queues = append(c.queues, q)
}

func (c *fifoChooser) Next() *RecordQueue {
	if len(c.queues) == 0 {
		return nil
	}
	q := c.queues[0]
	c.queues = c.queues[1:]
	return q
}

func (c *fifoChooser) Close() {
	c.queues = nil
}

// NewTimeBasedChooser returns the variant ordered by (trackedTimestamp,
// arrivalSequence) ascending, biasing drain order toward whichever
// partition is furthest behind in event time.
func NewTimeBasedChooser() Chooser {
	return &timeBasedChooser{}
}

type timeBasedEntry struct {
	queue     *RecordQueue
	timestamp int64
	sequence  uint64
}

type timeBasedHeap []timeBasedEntry

func (h timeBasedHeap) Len() int { return len(h) }

func (h timeBasedHeap) Less(i, j int) bool {
	if h[i].timestamp != h[j].timestamp {
		return h[i].timestamp < h[j].timestamp
	}
	return h[i].sequence < h[j].sequence
}

func (h timeBasedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timeBasedHeap) Push(x any) {
	*h = append(*h, x.(timeBasedEntry))
}

func (h *timeBasedHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

type timeBasedChooser struct {
	heap     timeBasedHeap
	sequence uint64
}

func (c *timeBasedChooser) Add(q *RecordQueue) {
	c.sequence++
	heap.Push(&c.heap, timeBasedEntry{
		queue:     q,
		timestamp: q.TrackedTimestamp(),
		sequence:  c.sequence,
	})
}

func (c *timeBasedChooser) Next() *RecordQueue {
	if c.heap.Len() == 0 {
		return nil
	}
	entry := heap.Pop(&c.heap).(timeBasedEntry)
	return entry.queue
}

func (c *timeBasedChooser) Close() {
	c.heap = nil
}
