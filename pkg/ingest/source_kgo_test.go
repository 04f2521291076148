package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kafkascope/kafkascope/pkg/ingest/testkafka"
)

func TestKgoSource_FetchMetadataAndWatermarks(t *testing.T) {
	cluster, seedClient := testkafka.CreateCluster(t, 2, "orders")
	testkafka.ProduceText(t, seedClient, "orders", 0, "k0", "v0")
	testkafka.ProduceText(t, seedClient, "orders", 1, "k1", "v1")

	src, err := NewKgoSource("orders", prometheus.NewRegistry(), kgo.SeedBrokers(cluster.ListenAddrs()...))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	byTopic, err := src.FetchMetadata(ctx, "orders")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{0, 1}, byTopic["orders"])

	low, high, err := src.FetchWatermarks(ctx, "orders", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), low)
	assert.Equal(t, int64(1), high)
}

func TestKgoSource_FetchMetadataWithNoTopicsListsEveryTopic(t *testing.T) {
	cluster, seedClient := testkafka.CreateCluster(t, 1, "orders")

	ctx := context.Background()
	admin := kadm.NewClient(seedClient)
	_, err := admin.CreateTopics(ctx, 1, 1, nil, "shipments")
	require.NoError(t, err)

	src, err := NewKgoSource("orders", prometheus.NewRegistry(), kgo.SeedBrokers(cluster.ListenAddrs()...))
	require.NoError(t, err)
	defer src.Close()

	byTopic, err := src.FetchMetadata(ctx)
	require.NoError(t, err)
	assert.Contains(t, byTopic, "orders")
	assert.Contains(t, byTopic, "shipments")
}

func TestKgoSource_AssignThenPollReturnsProducedRecord(t *testing.T) {
	cluster, seedClient := testkafka.CreateCluster(t, 1, "events")
	testkafka.ProduceText(t, seedClient, "events", 0, "alpha", `{"n":1}`)

	src, err := NewKgoSource("events", prometheus.NewRegistry(), kgo.SeedBrokers(cluster.ListenAddrs()...))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	require.NoError(t, src.Assign(ctx, []PartitionAssignment{
		{Topic: "events", Partition: 0, Start: Beginning()},
	}))

	var got *Record
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res := src.Poll(ctx, 500*time.Millisecond)
		require.NoError(t, res.Err)
		if res.Record != nil {
			got = res.Record
			break
		}
	}
	require.NotNil(t, got, "expected a polled record before the deadline")
	assert.Equal(t, "alpha", string(got.Key))
	assert.Equal(t, `{"n":1}`, string(got.Value))
}
