package merge

import (
	"container/heap"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/record"
)

// sourceHeap orders sources by their peeked record's key (timestamp,
// channel, seq). Every source in the heap has at least one unread record.
type sourceHeap []Source

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	a, _ := h[i].Peek()
	b, _ := h[j].Peek()
	return a.Less(b)
}

func (h sourceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x interface{}) { *h = append(*h, x.(Source)) }

func (h *sourceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Pass runs one draining phase of the k-way merge: it repeatedly selects the
// globally minimum record across sources and emits it while its timestamp is
// at or below the watermark. The pass stops at the first record beyond the
// watermark, leaving every source positioned for the next pass.
//
// It returns the number of records emitted. On a sink or source failure the
// pass aborts with the count emitted so far; no record is marked consumed
// unless it was actually emitted.
func Pass(wm record.Timestamp, sources []Source, sink Sink) (int, error) {
	h := make(sourceHeap, 0, len(sources))
	for _, src := range sources {
		if _, ok := src.Peek(); ok {
			h = append(h, src)
		}
	}
	heap.Init(&h)

	emitted := 0
	for len(h) > 0 {
		src := h[0]
		rec, _ := src.Peek()
		if rec.Timestamp > wm {
			// Nothing across any source is safe beyond this point; the
			// heap minimum bounds everything else.
			break
		}

		if err := sink.Emit(rec); err != nil {
			return emitted, errors.WrapTransient(err, "merge", "Pass", "emit record")
		}
		emitted++

		if err := src.Advance(); err != nil {
			return emitted, err
		}
		if _, ok := src.Peek(); ok {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return emitted, nil
}
