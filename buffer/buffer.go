package buffer

import (
	"container/heap"

	"github.com/c360/timemerge/record"
)

// recordHeap implements heap.Interface as a min-heap over the record
// ordering key (timestamp, channel, seq).
type recordHeap []record.Record

func (h recordHeap) Len() int            { return len(h) }
func (h recordHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h recordHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x interface{}) { *h = append(*h, x.(record.Record)) }

func (h *recordHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Buffer is the fixed-capacity in-memory working set of pending records.
// Insert reports when the buffer has filled so the caller can drain it to a
// spill file; the drain order is ascending by construction (heap pop order),
// so spill files are born sorted.
//
// Buffer performs no synchronization; the engine guards it together with the
// watermark tracker.
type Buffer struct {
	heap     recordHeap
	capacity int
}

// New creates a buffer holding at most capacity records. Capacity is fixed
// for the buffer's lifetime; it panics on capacity < 1 since a zero-capacity
// working set cannot make progress.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("buffer: capacity must be at least 1")
	}
	return &Buffer{
		heap:     make(recordHeap, 0, capacity),
		capacity: capacity,
	}
}

// Insert adds a record and reports whether the buffer is now full. A true
// result is an overflow status, not an error: the caller must drain before
// the next insert so the size never exceeds capacity.
func (b *Buffer) Insert(rec record.Record) bool {
	heap.Push(&b.heap, rec)
	return len(b.heap) >= b.capacity
}

// DrainSorted extracts every record in ascending order, emptying the buffer.
func (b *Buffer) DrainSorted() []record.Record {
	out := make([]record.Record, 0, len(b.heap))
	for len(b.heap) > 0 {
		out = append(out, heap.Pop(&b.heap).(record.Record))
	}
	return out
}

// DrainSafe extracts, in ascending order, every record with timestamp at or
// below max, leaving later records buffered. The engine snapshots the
// buffer's safe prefix this way at the start of a merge pass.
func (b *Buffer) DrainSafe(max record.Timestamp) []record.Record {
	var out []record.Record
	for len(b.heap) > 0 && b.heap[0].Timestamp <= max {
		out = append(out, heap.Pop(&b.heap).(record.Record))
	}
	return out
}

// PeekMin returns the minimum record without removing it.
func (b *Buffer) PeekMin() (record.Record, bool) {
	if len(b.heap) == 0 {
		return record.Record{}, false
	}
	return b.heap[0], true
}

// PopMin removes and returns the minimum record. It exposes the buffer as a
// merge source without requiring a full drain.
func (b *Buffer) PopMin() (record.Record, bool) {
	if len(b.heap) == 0 {
		return record.Record{}, false
	}
	return heap.Pop(&b.heap).(record.Record), true
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int { return len(b.heap) }

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return b.capacity }
