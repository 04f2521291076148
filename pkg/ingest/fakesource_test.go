package ingest

import (
	"context"
	"sync"
	"time"
)

// fakeSource is a deterministic in-memory RawSource double used by
// planner/scheduler/engine tests: pre-seeded per-partition record
// queues served one at a time via Poll, with explicit low/high
// watermarks independent of queue contents so tests can model
// partially-consumed logs.
type fakeSource struct {
	mu         sync.Mutex
	partitions []int32
	topics     []string // topic names FetchMetadata reports when called with no filter
	watermarks map[int32][2]int64 // low, high
	queues     map[int32][]Record
	assigned   map[int32]int64 // partition -> next offset to serve
	metaErr    error
	closed     bool
}

func newFakeSource(partitions []int32) *fakeSource {
	return &fakeSource{
		partitions: partitions,
		topics:     []string{"t"},
		watermarks: make(map[int32][2]int64),
		queues:     make(map[int32][]Record),
		assigned:   make(map[int32]int64),
	}
}

// setTopics overrides the topic names FetchMetadata reports for an
// all-topics (no-filter) call.
func (f *fakeSource) setTopics(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = names
}

// seed appends rec to partition p's queue and extends the high
// watermark to rec.Offset+1 if necessary.
func (f *fakeSource) seed(p int32, rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[p] = append(f.queues[p], rec)
	wm := f.watermarks[p]
	if rec.Offset+1 > wm[1] {
		wm[1] = rec.Offset + 1
	}
	f.watermarks[p] = wm
}

func (f *fakeSource) setWatermarks(p int32, low, high int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watermarks[p] = [2]int64{low, high}
}

func (f *fakeSource) FetchMetadata(ctx context.Context, topics ...string) (map[string][]int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaErr != nil {
		return nil, f.metaErr
	}

	ids := make([]int32, len(f.partitions))
	copy(ids, f.partitions)

	names := topics
	if len(names) == 0 {
		names = f.topics
	}
	out := make(map[string][]int32, len(names))
	for _, name := range names {
		out[name] = ids
	}
	return out, nil
}

func (f *fakeSource) FetchWatermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wm := f.watermarks[partition]
	return wm[0], wm[1], nil
}

func (f *fakeSource) Assign(ctx context.Context, assignments []PartitionAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = make(map[int32]int64, len(assignments))
	for _, a := range assignments {
		switch a.Start.Kind {
		case StartingOffsetBeginning:
			f.assigned[a.Partition] = f.watermarks[a.Partition][0]
		default:
			f.assigned[a.Partition] = a.Start.Offset
		}
	}
	return nil
}

// Poll serves the next not-yet-served record whose offset is >= the
// assigned starting offset for its partition, scanning partitions in
// ascending order each call (deterministic, not meant to model real
// broker fan-out fairness).
func (f *fakeSource) Poll(ctx context.Context, timeout time.Duration) PollResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.partitions {
		start, ok := f.assigned[p]
		if !ok {
			continue
		}
		q := f.queues[p]
		for i, rec := range q {
			if rec.Offset < start {
				continue
			}
			f.queues[p] = append(q[:i:i], q[i+1:]...)
			return PollResult{Record: &rec}
		}
	}
	return PollResult{}
}

func (f *fakeSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
