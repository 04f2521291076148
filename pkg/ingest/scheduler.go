package ingest

import (
	"container/heap"
	"context"
)

// strategy selects one of three merge algorithms.
type strategy int

const (
	strategySequential strategy = iota
	strategyMergeOldest
	strategyMergeNewest
)

// chooseStrategy implements the selection rule: a
// single-partition plan is always Sequential unless reading from
// newest, in which case Merge-Newest applies regardless of partition
// count.
func chooseStrategy(cfg KafkaConfig, partitions []int32) strategy {
	if cfg.StartFrom == StartNewest {
		return strategyMergeNewest
	}
	if len(partitions) == 1 {
		return strategySequential
	}
	return strategyMergeOldest
}

// schedulerState is the mutable merge state owned by the engine for
// the lifetime of one plan: buffers and doneSet persist across
// consume_next calls until apply_filters clears them.
type schedulerState struct {
	plan     planSnapshot
	strategy strategy
	buffers  map[int32]*partitionBuffer
	done     doneSet
}

func newSchedulerState(plan planSnapshot, strat strategy) *schedulerState {
	buffers := make(map[int32]*partitionBuffer, len(plan.partitions))
	for _, p := range plan.partitions {
		buffers[p] = newPartitionBuffer()
	}
	return &schedulerState{plan: plan, strategy: strat, buffers: buffers, done: make(doneSet)}
}

func (s *schedulerState) allBuffersEmpty() bool {
	for _, b := range s.buffers {
		if !b.empty() {
			return false
		}
	}
	return true
}

func (s *schedulerState) globallyDone() bool {
	return s.done.allDone(s.plan.partitions) && s.allBuffersEmpty()
}

// decodeRecord applies decoder to a raw Record and builds its
// DecodedRecord, including sort key computation.
func decodeRecord(decoder Decoder, rec Record) bufferedRecord {
	keyText, valueText, decErr := decoder.Decode(rec.Key, rec.Value)
	dr := DecodedRecord{
		ID:        recordID(rec.Partition, rec.Offset),
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       keyText,
		Value:     valueText,
		Timestamp: rec.Timestamp.render(),
	}
	if decErr != nil {
		dr.DecodeError = decErr.Error()
		metricDecodeErrors.WithLabelValues(decodeCodecLabel(decoder)).Inc()
	}
	return bufferedRecord{tsMillis: rec.Timestamp.sortMillis(), record: dr}
}

// decodeCodecLabel names the decoder variant for metric labelling,
// since Decoder itself carries no codec tag.
func decodeCodecLabel(decoder Decoder) string {
	if _, ok := decoder.(*protoDecoder); ok {
		return "protobuf"
	}
	return "text"
}

// consumeNext dispatches to the strategy selected for this plan.
func (s *schedulerState) consumeNext(ctx context.Context, source RawSource, decoder Decoder, limit int) ([]DecodedRecord, error) {
	if s.globallyDone() {
		return nil, nil
	}

	switch s.strategy {
	case strategySequential:
		return s.consumeSequential(ctx, source, decoder, limit)
	case strategyMergeNewest:
		return s.consumeMergeNewest(ctx, source, decoder, limit)
	default:
		return s.consumeMergeOldest(ctx, source, decoder, limit)
	}
}

// --- S1: Sequential ---------------------------------------------------

func (s *schedulerState) consumeSequential(ctx context.Context, source RawSource, decoder Decoder, limit int) ([]DecodedRecord, error) {
	out := make([]DecodedRecord, 0, limit)
	idle := 0
	errStreak := 0
	var lastErr error

	for len(out) < limit && idle < idleLimitBatch {
		if s.globallyDone() {
			break
		}
		res := source.Poll(ctx, pollTimeout)
		if res.idle() {
			idle++
			errStreak = 0
			continue
		}
		if res.Err != nil {
			idle++
			errStreak++
			lastErr = res.Err
			if errStreak >= idleLimitBatch {
				return out, newSourceError("poll", lastErr)
			}
			continue
		}
		idle = 0
		errStreak = 0

		rec := *res.Record
		p := rec.Partition
		end := s.plan.endOffsets[p]

		if rec.Offset >= end {
			s.done.mark(p)
			continue
		}

		br := decodeRecord(decoder, rec)
		out = append(out, br.record)

		if rec.Offset == end-1 {
			s.done.mark(p)
		}
	}

	return out, nil
}

// --- S2: Merge-Oldest ---------------------------------------------------

func (s *schedulerState) consumeMergeOldest(ctx context.Context, source RawSource, decoder Decoder, limit int) ([]DecodedRecord, error) {
	s.fillHeads(ctx, source, decoder)

	h := newMergeHeap(false)
	heap.Init(h)
	for p, buf := range s.buffers {
		if hd, ok := buf.peekFront(); ok {
			heap.Push(h, headKey{partition: p, ts: hd.tsMillis, offset: hd.record.Offset})
		}
	}

	out := make([]DecodedRecord, 0, limit)
	globalIdle := 0

	for len(out) < limit {
		if h.Len() == 0 {
			if s.globallyDone() {
				break
			}
			if globalIdle >= idleLimitBatch {
				break
			}
			res := source.Poll(ctx, pollTimeout)
			if res.idle() || res.Err != nil {
				globalIdle++
				continue
			}
			globalIdle = 0
			if hk, buffered := s.bufferPolled(*res.Record, decoder); buffered {
				heap.Push(h, hk)
			}
			continue
		}

		top := heap.Pop(h).(headKey)
		p := top.partition
		buf := s.buffers[p]
		br, ok := buf.popFront()
		if !ok {
			// Stale entry: the head was consumed by a concurrent path.
			continue
		}
		out = append(out, br.record)

		if hd, ok := buf.peekFront(); ok {
			heap.Push(h, headKey{partition: p, ts: hd.tsMillis, offset: hd.record.Offset})
			continue
		}

		if s.done.isDone(p) {
			continue
		}

		// Targeted refill for the partition that just went head-empty.
		refillIdle := 0
		for refillIdle < idleLimitRefill {
			if s.done.isDone(p) {
				break
			}
			res := source.Poll(ctx, pollTimeout)
			if res.idle() || res.Err != nil {
				refillIdle++
				continue
			}
			refillIdle = 0
			rec := *res.Record
			gotHead := s.bufferAndMaybeHead(rec, decoder, p)
			if gotHead {
				if hd, ok := buf.peekFront(); ok {
					heap.Push(h, headKey{partition: p, ts: hd.tsMillis, offset: hd.record.Offset})
				}
				break
			}
			if s.done.isDone(p) {
				break
			}
		}
	}

	return out, nil
}

// fillHeads implements Phase A of Merge-Oldest: poll until every
// not-done partition has at least one buffered record, or the idle
// budget runs out.
func (s *schedulerState) fillHeads(ctx context.Context, source RawSource, decoder Decoder) {
	idle := 0
	for idle < idleLimitFill {
		needed := false
		for _, p := range s.plan.partitions {
			if !s.done.isDone(p) && s.buffers[p].empty() {
				needed = true
				break
			}
		}
		if !needed {
			return
		}

		res := source.Poll(ctx, pollTimeout)
		if res.idle() || res.Err != nil {
			idle++
			continue
		}
		idle = 0
		s.bufferPolled(*res.Record, decoder)
	}
}

// bufferPolled applies end-offset bookkeeping and appends rec to its
// partition buffer. It returns rec's headKey and true only if the
// buffer was empty before this push (i.e. rec became the new head);
// it returns false both when rec was buffered behind an existing head
// and when rec was out-of-window and only marked done.
func (s *schedulerState) bufferPolled(rec Record, decoder Decoder) (headKey, bool) {
	p := rec.Partition
	end := s.plan.endOffsets[p]

	if rec.Offset >= end {
		s.done.mark(p)
		return headKey{}, false
	}

	buf := s.buffers[p]
	wasEmpty := buf.empty()
	br := decodeRecord(decoder, rec)
	buf.pushBack(br)

	if rec.Offset == end-1 {
		s.done.mark(p)
	}

	if wasEmpty {
		return headKey{partition: p, ts: br.tsMillis, offset: br.record.Offset}, true
	}
	return headKey{}, false
}

// bufferAndMaybeHead is bufferPolled specialised for the refill loop,
// which only cares whether targetPartition specifically gained a head.
func (s *schedulerState) bufferAndMaybeHead(rec Record, decoder Decoder, targetPartition int32) bool {
	hk, buffered := s.bufferPolled(rec, decoder)
	return buffered && hk.partition == targetPartition
}

// --- S3: Merge-Newest ---------------------------------------------------

func (s *schedulerState) consumeMergeNewest(ctx context.Context, source RawSource, decoder Decoder, limit int) ([]DecodedRecord, error) {
	s.drain(ctx, source, decoder, limit)

	h := newMergeHeap(true)
	heap.Init(h)
	for p, buf := range s.buffers {
		if tl, ok := buf.peekBack(); ok {
			heap.Push(h, headKey{partition: p, ts: tl.tsMillis, offset: tl.record.Offset})
		}
	}

	out := make([]DecodedRecord, 0, limit)
	for len(out) < limit && h.Len() > 0 {
		top := heap.Pop(h).(headKey)
		p := top.partition
		buf := s.buffers[p]
		br, ok := buf.popBack()
		if !ok {
			continue
		}
		out = append(out, br.record)

		if tl, ok := buf.peekBack(); ok {
			heap.Push(h, headKey{partition: p, ts: tl.tsMillis, offset: tl.record.Offset})
		}
	}

	return out, nil
}

// drain implements Phase A' of Merge-Newest. It buffers every
// in-window record until every partition is done, the idle budget is
// spent, or the total buffered count reaches limit.
func (s *schedulerState) drain(ctx context.Context, source RawSource, decoder Decoder, limit int) {
	idle := 0
	for idle < idleLimitDrain {
		if s.done.allDone(s.plan.partitions) {
			return
		}
		if s.totalBuffered() >= limit {
			return
		}

		res := source.Poll(ctx, pollTimeout)
		if res.idle() || res.Err != nil {
			idle++
			continue
		}
		idle = 0
		s.bufferPolled(*res.Record, decoder)
	}
}

func (s *schedulerState) totalBuffered() int {
	n := 0
	for _, b := range s.buffers {
		n += b.len()
	}
	return n
}
