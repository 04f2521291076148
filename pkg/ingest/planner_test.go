package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTopic_SinglePartitionOldest(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 10, 20)

	cfg := KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}

	snap, assignments, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, snap.partitions)
	assert.Equal(t, int64(20), snap.endOffsets[0])
	assert.Equal(t, int64(10), snap.startingOffsets[0])
	require.Len(t, assignments, 1)
	assert.Equal(t, int64(10), assignments[0].Start.Offset)
	assert.Equal(t, StartingOffsetExact, assignments[0].Start.Kind)
}

func TestPlanTopic_AllPartitionsIgnoresStartOffset(t *testing.T) {
	src := newFakeSource([]int32{0, 1})
	src.setWatermarks(0, 0, 100)
	src.setWatermarks(1, 5, 100)

	req := int64(50)
	cfg := KafkaConfig{Topic: "t", Partition: "all", StartFrom: StartOldest, StartOffset: &req}

	snap, _, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	// Every partition starts at its own low watermark regardless of
	// StartOffset when reading "all" partitions.
	assert.Equal(t, int64(0), snap.startingOffsets[0])
	assert.Equal(t, int64(5), snap.startingOffsets[1])
}

func TestPlanTopic_SinglePartitionExplicitStartOffset(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 0, 100)

	req := int64(40)
	cfg := KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest, StartOffset: &req}

	snap, _, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(40), snap.startingOffsets[0])
}

func TestPlanTopic_StartOffsetBelowLowClampsToLow(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 30, 100)

	req := int64(5)
	cfg := KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest, StartOffset: &req}

	snap, _, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(30), snap.startingOffsets[0])
}

func TestPlanTopic_NewestBacksWindowFromHigh(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 0, 5000)

	cfg := KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartNewest}

	snap, _, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(5000-BackWindow), snap.startingOffsets[0])
}

func TestPlanTopic_NewestClampsToLowWhenWindowExceedsLog(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 10, 50)

	cfg := KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartNewest}

	snap, _, err := planTopic(context.Background(), src, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.startingOffsets[0])
}

func TestPlanTopic_InvalidPartitionSelectorIsConfigError(t *testing.T) {
	src := newFakeSource([]int32{0})
	cfg := KafkaConfig{Topic: "t", Partition: "not-a-number", StartFrom: StartOldest}

	_, _, err := planTopic(context.Background(), src, cfg)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}
