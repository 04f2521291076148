package ingest

import (
	"context"
	"time"

	"github.com/grafana/dskit/backoff"
)

// metadataBackoffConfig bounds the planner's retry budget for topic and
// watermark round-trips: a short ceiling so a transient broker hiccup
// doesn't stall a plan indefinitely, in the shape grafana-tempo's block
// builder uses for its own startup Kafka calls.
var metadataBackoffConfig = backoff.Config{
	MinBackoff: 100 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
	MaxRetries: 3,
}

// retryMetadataCall retries fn under metadataBackoffConfig, returning
// the last error once retries or the context are exhausted.
func retryMetadataCall(ctx context.Context, fn func() error) error {
	var err error
	boff := backoff.New(ctx, metadataBackoffConfig)
	for boff.Ongoing() {
		if err = fn(); err == nil {
			return nil
		}
		boff.Wait()
	}
	return err
}

// planSnapshot is the immutable-until-apply_filters plan state: the
// partition set, each partition's high watermark at plan time, and
// each partition's starting offset.
type planSnapshot struct {
	partitions      []int32
	endOffsets      map[int32]int64
	startingOffsets map[int32]int64
}

// planTopic runs the Assignment Planner algorithm
// against source, producing a planSnapshot plus the per-partition
// assignments the RawSource must be given.
func planTopic(ctx context.Context, source RawSource, cfg KafkaConfig) (planSnapshot, []PartitionAssignment, error) {
	sel, err := resolvePartitionSelector(cfg.Partition)
	if err != nil {
		return planSnapshot{}, nil, err
	}

	var partitions []int32
	if sel.All {
		var byTopic map[string][]int32
		err := retryMetadataCall(ctx, func() error {
			var err error
			byTopic, err = source.FetchMetadata(ctx, cfg.Topic)
			return err
		})
		if err != nil {
			return planSnapshot{}, nil, err
		}
		partitions = byTopic[cfg.Topic]
	} else {
		partitions = []int32{sel.ID}
	}

	snap := planSnapshot{
		partitions:      partitions,
		endOffsets:      make(map[int32]int64, len(partitions)),
		startingOffsets: make(map[int32]int64, len(partitions)),
	}
	assignments := make([]PartitionAssignment, 0, len(partitions))

	for _, p := range partitions {
		var low, high int64
		err := retryMetadataCall(ctx, func() error {
			var err error
			low, high, err = source.FetchWatermarks(ctx, cfg.Topic, p)
			return err
		})
		if err != nil {
			return planSnapshot{}, nil, err
		}
		snap.endOffsets[p] = high

		start := computeStartOffset(cfg, sel, low, high)
		snap.startingOffsets[p] = start

		assignments = append(assignments, PartitionAssignment{
			Topic:     cfg.Topic,
			Partition: p,
			Start:     AtOffset(start),
		})
	}

	return snap, assignments, nil
}

// computeStartOffset resolves a single partition's starting offset
// from the resolved selector, the requested start_from/start_offset,
// and the partition's current watermarks.
func computeStartOffset(cfg KafkaConfig, sel ResolvedPartition, low, high int64) int64 {
	if cfg.StartFrom == StartNewest {
		start := high - BackWindow
		if start < low {
			start = low
		}
		return start
	}

	if sel.All {
		// Cross-partition rewinding by offset has no defined meaning;
		// start_offset is ignored when reading every partition.
		return low
	}

	if cfg.StartOffset != nil {
		req := *cfg.StartOffset
		if req < low {
			return low
		}
		return req
	}

	return low
}
