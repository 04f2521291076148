package ingest

import (
	"context"
	"time"
)

// StartingOffsetKind selects how RawSource.assign should position a
// partition's fetch cursor.
type StartingOffsetKind int

const (
	// StartingOffsetBeginning seeks to the partition's low watermark.
	StartingOffsetBeginning StartingOffsetKind = iota
	// StartingOffsetExact seeks to a specific offset.
	StartingOffsetExact
)

// StartingOffset is the (kind, offset) pair RawSource.assign consumes.
type StartingOffset struct {
	Kind   StartingOffsetKind
	Offset int64
}

// Beginning is the StartingOffset value for StartingOffsetBeginning.
func Beginning() StartingOffset { return StartingOffset{Kind: StartingOffsetBeginning} }

// AtOffset is the StartingOffset value for StartingOffsetExact.
func AtOffset(o int64) StartingOffset {
	return StartingOffset{Kind: StartingOffsetExact, Offset: o}
}

// PartitionAssignment is one element of the slice RawSource.assign
// consumes.
type PartitionAssignment struct {
	Topic     string
	Partition int32
	Start     StartingOffset
}

// PollResult is the tri-state return of RawSource.poll: exactly one of
// Record/Err is set, or neither (an idle timeout).
type PollResult struct {
	Record *Record
	Err    error
}

func (r PollResult) idle() bool { return r.Record == nil && r.Err == nil }

// RawSource is the opaque blocking poll interface over a partitioned
// log. Implementations must be safe to call from a
// single owning goroutine; the engine never calls two RawSource
// methods concurrently on the same instance.
type RawSource interface {
	// FetchMetadata returns the partition ids for each named topic,
	// within a 5s timeout. With no topics given, every topic visible to
	// the broker is returned.
	FetchMetadata(ctx context.Context, topics ...string) (map[string][]int32, error)

	// FetchWatermarks returns (low, high) for one partition, within a
	// 5s timeout. high is one past the largest produced offset.
	FetchWatermarks(ctx context.Context, topic string, partition int32) (low, high int64, err error)

	// Assign installs the set of partitions/starting offsets this
	// source will subsequently poll.
	Assign(ctx context.Context, assignments []PartitionAssignment) error

	// Poll blocks up to timeout for the next record or error.
	Poll(ctx context.Context, timeout time.Duration) PollResult

	// Close releases the source. Guaranteed to be called exactly once
	// per reconfigure transition.
	Close()
}
