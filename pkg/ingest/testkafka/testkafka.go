// Package testkafka provides an in-process fake Kafka cluster for
// pkg/ingest tests, built on franz-go's kfake.NewCluster.
package testkafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

// CreateCluster starts a single-broker fake cluster seeded with topic
// holding partitions partitions, and returns it alongside a bare
// kgo.Client dialed against it for test setup (producing seed
// records, fetching metadata directly, etc). Both are closed via
// t.Cleanup.
func CreateCluster(t *testing.T, partitions int32, topic string) (*kfake.Cluster, *kgo.Client) {
	t.Helper()

	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(partitions, topic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	addrs := cluster.ListenAddrs()
	client, err := kgo.NewClient(kgo.SeedBrokers(addrs...))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return cluster, client
}

// ProduceText synchronously produces one record with a plain-text key
// and value to topic/partition, returning its assigned offset.
func ProduceText(t *testing.T, client *kgo.Client, topic string, partition int32, key, value string) int64 {
	t.Helper()

	rec := &kgo.Record{Topic: topic, Partition: partition, Key: []byte(key), Value: []byte(value)}
	results := client.ProduceSync(context.Background(), rec)
	require.NoError(t, results.FirstErr())
	r, err := results[0].Into()
	require.NoError(t, err)
	return r.Offset
}
