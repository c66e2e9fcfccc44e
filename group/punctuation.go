package group

import (
	"container/heap"
	"fmt"
)

// Punctuator is invoked synchronously inside StreamGroup.Process whenever
// stream time reaches one of its scheduled targets.
type Punctuator interface {
	Punctuate(streamTime int64) error
}

// PunctuatorFunc adapts a plain function to a Punctuator.
type PunctuatorFunc func(streamTime int64) error

func (f PunctuatorFunc) Punctuate(streamTime int64) error {
	return f(streamTime)
}

type punctuationEntry struct {
	nextFiringTime int64
	interval       int64
	processor      Punctuator
	sequence       uint64
}

type punctuationHeap []*punctuationEntry

func (h punctuationHeap) Len() int { return len(h) }

func (h punctuationHeap) Less(i, j int) bool {
	if h[i].nextFiringTime != h[j].nextFiringTime {
		return h[i].nextFiringTime < h[j].nextFiringTime
	}
	return h[i].sequence < h[j].sequence
}

func (h punctuationHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *punctuationHeap) Push(x any) {
	*h = append(*h, x.(*punctuationEntry))
}

func (h *punctuationHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// PunctuationQueue is the ordered collection of (nextFiringTime, interval,
// processor) schedules described in SPEC_FULL.md §4.4. It belongs to one
// StreamGroup; it is not safe for concurrent use from multiple goroutines
// without the caller's own locking (StreamGroup supplies that).
type PunctuationQueue struct {
	heap     punctuationHeap
	sequence uint64
}

// NewPunctuationQueue returns an empty queue.
func NewPunctuationQueue() *PunctuationQueue {
	return &PunctuationQueue{}
}

// Schedule registers processor to fire every intervalMs of stream time,
// starting at initialStreamTime+intervalMs. intervalMs must be positive.
func (pq *PunctuationQueue) Schedule(processor Punctuator, intervalMs, initialStreamTime int64) error {
	if intervalMs <= 0 {
		return fmt.Errorf("%w: punctuation interval must be positive, got %d", ErrInvalidConfiguration, intervalMs)
	}

	pq.sequence++
	heap.Push(&pq.heap, &punctuationEntry{
		nextFiringTime: initialStreamTime + intervalMs,
		interval:       intervalMs,
		processor:      processor,
		sequence:       pq.sequence,
	})
	return nil
}

// MayPunctuate fires every schedule whose nextFiringTime has matured at or
// before streamTime, in increasing nextFiringTime order, each invoked with
// the same streamTime argument. Firings are not coalesced: a schedule that
// has fallen behind by several intervals fires once per matured interval.
//
// Each schedule's next firing time is advanced before the processor is
// invoked, so a failing Punctuate call does not desynchronize the schedule
// from future process calls.
func (pq *PunctuationQueue) MayPunctuate(streamTime int64) error {
	for pq.heap.Len() > 0 && pq.heap[0].nextFiringTime <= streamTime {
		entry := heap.Pop(&pq.heap).(*punctuationEntry)
		entry.nextFiringTime += entry.interval
		heap.Push(&pq.heap, entry)

		if err := entry.processor.Punctuate(streamTime); err != nil {
			return fmt.Errorf("punctuate: %w", err)
		}
	}
	return nil
}

// Len reports the number of scheduled punctuations.
func (pq *PunctuationQueue) Len() int {
	return pq.heap.Len()
}
