package ingest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, src *fakeSource) *ReaderEngine {
	t.Helper()
	newSource := func(cfg KafkaConfig) (RawSource, error) { return src, nil }
	newDecoder := func(cfg KafkaConfig) (Decoder, error) { return newTextDecoder(), nil }
	return NewReaderEngine(newSource, newDecoder, prometheus.NewRegistry())
}

func TestReaderEngine_ConsumeNextBeforeReconfigureIsNotConfigured(t *testing.T) {
	e := newTestEngine(t, newFakeSource([]int32{0}))
	_, err := e.ConsumeNext(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReaderEngine_ReconfigureThenConsumeNextPlansAndEmits(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.seed(0, mkRecord(0, 0, 100))
	src.seed(0, mkRecord(0, 1, 101))
	src.setWatermarks(0, 0, 2)

	e := newTestEngine(t, src)
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	out, err := e.ConsumeNext(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, recordID(0, 0), out[0].ID)
	assert.Equal(t, recordID(0, 1), out[1].ID)
}

func TestReaderEngine_ApplyFiltersResetsAssignmentForNextConsume(t *testing.T) {
	src := newFakeSource([]int32{0, 1})
	src.seed(0, mkRecord(0, 0, 100))
	src.seed(1, mkRecord(1, 0, 100))
	src.setWatermarks(0, 0, 1)
	src.setWatermarks(1, 0, 1)

	e := newTestEngine(t, src)
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	out, err := e.ConsumeNext(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int32(0), out[0].Partition)

	require.NoError(t, e.ApplyFilters("1", nil, ""))

	out2, err := e.ConsumeNext(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out2, 1)
	assert.Equal(t, int32(1), out2[0].Partition)
}

func TestReaderEngine_ApplyFiltersBeforeConfigureIsNotConfigured(t *testing.T) {
	e := newTestEngine(t, newFakeSource([]int32{0}))
	err := e.ApplyFilters("0", nil, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReaderEngine_ReconfigureClosesPreviousSource(t *testing.T) {
	firstSrc := newFakeSource([]int32{0})
	secondSrc := newFakeSource([]int32{0})
	secondSrc.setWatermarks(0, 0, 0)

	calls := 0
	sources := []*fakeSource{firstSrc, secondSrc}
	newSource := func(cfg KafkaConfig) (RawSource, error) {
		s := sources[calls]
		calls++
		return s, nil
	}
	e := NewReaderEngine(newSource, func(KafkaConfig) (Decoder, error) { return newTextDecoder(), nil }, prometheus.NewRegistry())

	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))
	// Force the first source to be built.
	firstSrc.setWatermarks(0, 0, 0)
	_, err := e.ConsumeNext(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, firstSrc.isClosed())

	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t2", Partition: "0", StartFrom: StartOldest}))
	assert.True(t, firstSrc.isClosed())
}

func TestReaderEngine_TopicsReturnsSortedDedupedTopicNames(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setTopics("zeta", "alpha")
	e := newTestEngine(t, src)
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	topics, err := e.Topics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, topics)
}

func TestReaderEngine_TopicsBeforeConfigureIsNotConfigured(t *testing.T) {
	e := newTestEngine(t, newFakeSource([]int32{0}))
	_, err := e.Topics(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestReaderEngine_StatusReflectsState(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 0, 0)
	e := newTestEngine(t, src)

	assert.Equal(t, "kafka: not configured", e.Status())

	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))
	// The source is still built lazily at this point: Status stays
	// "not configured" until the first consume_next/stream_filtered
	// call actually assigns it.
	assert.Equal(t, "kafka: not configured", e.Status())

	_, err := e.ConsumeNext(context.Background(), 10)
	require.NoError(t, err)
	assert.Contains(t, e.Status(), "state=assigned")
}
