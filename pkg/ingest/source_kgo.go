package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	ilog "github.com/kafkascope/kafkascope/pkg/util/log"
)

// pollErrLogger caps poll-error logging at 5/s: a stuck broker can
// otherwise produce one log line per 200ms poll indefinitely.
var pollErrLogger = ilog.NewRateLimitedLogger(5, level.Warn(ilog.Logger))

// kgoSource is the production RawSource, a thin wrapper over
// franz-go's kgo.Client and kadm.Client, instrumented with kprom so
// fetch/dial metrics are visible on the same registry as the rest of
// the process.
type kgoSource struct {
	client *kgo.Client
	admin  *kadm.Client
	topic  string

	// queued holds records from the most recent PollFetches call not
	// yet returned one-at-a-time through Poll.
	queued []Record
}

// NewKgoSource dials a client with the given options plus a kprom
// metrics hook registered against reg.
func NewKgoSource(topic string, reg prometheus.Registerer, extraOpts ...kgo.Opt) (RawSource, error) {
	metrics := kprom.NewMetrics("kafkascope", kprom.Registerer(reg))
	opts := append([]kgo.Opt{kgo.WithHooks(metrics)}, extraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, newSourceError("dial", err)
	}
	return &kgoSource{
		client: client,
		admin:  kadm.NewClient(client),
		topic:  topic,
	}, nil
}

func (s *kgoSource) FetchMetadata(ctx context.Context, topics ...string) (map[string][]int32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	td, err := s.admin.ListTopics(ctx, topics...)
	if err != nil {
		return nil, newSourceError("fetch_metadata", err)
	}

	out := make(map[string][]int32, len(td))
	for name, detail := range td {
		if detail.Err != nil {
			if len(topics) > 0 {
				return nil, &MetadataError{Topic: name}
			}
			continue
		}
		ids := make([]int32, 0, len(detail.Partitions))
		for p := range detail.Partitions {
			ids = append(ids, p)
		}
		out[name] = ids
	}

	for _, t := range topics {
		if _, ok := out[t]; !ok {
			return nil, &MetadataError{Topic: t}
		}
	}
	return out, nil
}

func (s *kgoSource) FetchWatermarks(ctx context.Context, topic string, partition int32) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	startOffsets, err := s.admin.ListStartOffsets(ctx, topic)
	if err != nil {
		return 0, 0, newSourceError("fetch_watermarks", err)
	}
	endOffsets, err := s.admin.ListEndOffsets(ctx, topic)
	if err != nil {
		return 0, 0, newSourceError("fetch_watermarks", err)
	}

	low, ok := lookupOffset(startOffsets, topic, partition)
	if !ok {
		return 0, 0, newSourceError("fetch_watermarks", fmt.Errorf("no start offset for %s/%d", topic, partition))
	}
	high, ok := lookupOffset(endOffsets, topic, partition)
	if !ok {
		return 0, 0, newSourceError("fetch_watermarks", fmt.Errorf("no end offset for %s/%d", topic, partition))
	}
	return low, high, nil
}

func lookupOffset(offsets kadm.ListedOffsets, topic string, partition int32) (int64, bool) {
	byPartition, ok := offsets[topic]
	if !ok {
		return 0, false
	}
	o, ok := byPartition[partition]
	if !ok || o.Err != nil {
		return 0, false
	}
	return o.Offset, true
}

func (s *kgoSource) Assign(ctx context.Context, assignments []PartitionAssignment) error {
	s.client.RemoveConsumePartitions(nil)

	byTopic := make(map[string]map[int32]kgo.Offset)
	for _, a := range assignments {
		m, ok := byTopic[a.Topic]
		if !ok {
			m = make(map[int32]kgo.Offset)
			byTopic[a.Topic] = m
		}
		switch a.Start.Kind {
		case StartingOffsetBeginning:
			m[a.Partition] = kgo.NewOffset().AtStart()
		default:
			m[a.Partition] = kgo.NewOffset().At(a.Start.Offset)
		}
	}
	s.client.AddConsumePartitions(byTopic)
	s.queued = nil
	return nil
}

func (s *kgoSource) Poll(ctx context.Context, timeout time.Duration) PollResult {
	if len(s.queued) > 0 {
		r := s.queued[0]
		s.queued = s.queued[1:]
		return PollResult{Record: &r}
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := s.client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return PollResult{Err: newSourceError("poll", fmt.Errorf("client closed"))}
	}

	var firstErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("%s/%d: %w", topic, partition, err)
		}
	})

	fetches.EachRecord(func(rec *kgo.Record) {
		s.queued = append(s.queued, kgoRecordToRecord(rec))
	})

	if len(s.queued) == 0 {
		if firstErr != nil {
			if HandleKafkaError(firstErr, s.client.ForceMetadataRefresh) {
				pollErrLogger.Log("msg", "retriable poll fetch error, treating as idle", "topic", s.topic, "err", firstErr)
				return PollResult{}
			}
			pollErrLogger.Log("msg", "poll fetch error", "topic", s.topic, "err", firstErr)
			return PollResult{Err: newSourceError("poll", firstErr)}
		}
		// context deadline with nothing fetched: idle.
		return PollResult{}
	}

	r := s.queued[0]
	s.queued = s.queued[1:]
	return PollResult{Record: &r}
}

func kgoRecordToRecord(rec *kgo.Record) Record {
	ts := RecordTimestamp{Kind: TimestampNotAvailable}
	if !rec.Timestamp.IsZero() {
		ts = RecordTimestamp{Kind: TimestampCreateTime, Millis: rec.Timestamp.UnixMilli()}
	}
	return Record{
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Timestamp: ts,
	}
}

func (s *kgoSource) Close() {
	level.Debug(ilog.Logger).Log("msg", "closing kafka source", "topic", s.topic)
	s.client.Close()
}
