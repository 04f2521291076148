package ingest

// headKey identifies a partition's current head/tail candidate for
// the merge heaps below: ordering is by (ts, partition, offset), a
// deterministic tie-break so equal timestamps never reorder output
// between runs.
type headKey struct {
	partition int32
	ts        int64
	offset    int64
}

func less(a, b headKey) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	if a.partition != b.partition {
		return a.partition < b.partition
	}
	return a.offset < b.offset
}

// mergeHeap is a container/heap.Interface ordered ascending (oldest)
// or descending (newest) by headKey, selected by desc.
type mergeHeap struct {
	items []headKey
	desc  bool
}

func newMergeHeap(desc bool) *mergeHeap { return &mergeHeap{desc: desc} }

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	if h.desc {
		return less(h.items[j], h.items[i])
	}
	return less(h.items[i], h.items[j])
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(headKey)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
