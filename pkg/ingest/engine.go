package ingest

import (
	"context"
	"sort"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	ilog "github.com/kafkascope/kafkascope/pkg/util/log"
)

// SourceFactory builds the RawSource for a given KafkaConfig. Production
// callers supply one backed by NewKgoSource + pkg/security; tests
// supply an in-memory fake.
type SourceFactory func(cfg KafkaConfig) (RawSource, error)

// DecoderFactory builds the Decoder for a given KafkaConfig.
type DecoderFactory func(cfg KafkaConfig) (Decoder, error)

// DefaultDecoderFactory builds Text/JSON/Protobuf decoders, loading
// the protobuf descriptor set named by cfg.ProtobufSchema via load.
func DefaultDecoderFactory(load ProtoDescriptorLoader) DecoderFactory {
	return func(cfg KafkaConfig) (Decoder, error) {
		switch cfg.Codec {
		case CodecProtobuf:
			if cfg.ProtobufSchema == nil {
				return nil, newConfigError("protobuf codec requires protobuf_schema")
			}
			fds, err := load(cfg.ProtobufSchema.DescriptorSetPath)
			if err != nil {
				return nil, err
			}
			return NewProtobufDecoder(fds, cfg.ProtobufSchema.MessageFullName)
		default:
			return newTextDecoder(), nil
		}
	}
}

// ReaderEngine is the stateful facade over the connection, plan, and
// decode configuration. mu guards the config/source/decoder/plan
// bundle, since reconfigure and apply_filters always replace them
// together; sessionMu is a separate lock so a running stream_filtered
// session can be cancelled without blocking on an in-flight
// consume_next call. Starting a replacement session takes mu first,
// so it waits for an in-flight consume_next to return.
type ReaderEngine struct {
	newSource  SourceFactory
	newDecoder DecoderFactory

	mu      sync.Mutex // guards cfg, source, decoder, sched, assigned
	cfg     KafkaConfig
	source  RawSource
	decoder Decoder
	sched   *schedulerState
	assigned atomic.Bool

	sessionMu sync.Mutex
	session   *LoadSession
}

// NewReaderEngine constructs an unconfigured engine, registering its
// metrics against reg.
func NewReaderEngine(newSource SourceFactory, newDecoder DecoderFactory, reg prometheus.Registerer) *ReaderEngine {
	registerMetrics(reg)
	return &ReaderEngine{newSource: newSource, newDecoder: newDecoder}
}

// Reconfigure builds cfg's decoder first; if that fails it returns the
// error and leaves the previous configuration and source in place.
// Otherwise it releases any previous source and installs cfg as the
// active configuration with assigned=false, so the next
// consume_next/stream_filtered call replans from scratch.
func (e *ReaderEngine) Reconfigure(cfg KafkaConfig) error {
	decoder, err := e.newDecoder(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseLocked()

	e.cfg = cfg
	e.decoder = decoder
	e.sched = nil
	e.assigned.Store(false)

	e.cancelSessionLocked()

	level.Info(ilog.Logger).Log("msg", "kafka reconfigured", "broker", cfg.Broker, "topic", cfg.Topic)
	return nil
}

// ApplyFilters changes the partition selector and/or start position on
// an already-configured engine. Buffered-but-unemitted records are
// discarded and assigned flips back to false so the next
// consume_next/stream_filtered replans from scratch.
func (e *ReaderEngine) ApplyFilters(partition string, startOffset *int64, startFrom StartFrom) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.decoder == nil {
		return ErrNotConfigured
	}

	e.cfg.Partition = partition
	e.cfg.StartOffset = startOffset
	if startFrom != "" {
		e.cfg.StartFrom = startFrom
	}
	e.sched = nil
	e.assigned.Store(false)

	e.cancelSessionLocked()
	return nil
}

// releaseLocked closes the current source, if any. Runs on every
// reconfigure whose decoder builds, including when planning later
// fails, because it is called before the new source is even
// constructed.
func (e *ReaderEngine) releaseLocked() {
	if e.source != nil {
		e.source.Close()
		e.source = nil
	}
}

func (e *ReaderEngine) cancelSessionLocked() {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	if e.session != nil {
		e.session.cancel()
		e.session = nil
	}
}

// ensureAssigned runs the Assignment Planner exactly once per plan
// (callers hold mu; assigned is set only after planning and Assign
// succeed), building the source lazily from e.cfg if no call since
// reconfigure has built it yet.
func (e *ReaderEngine) ensureAssigned(ctx context.Context) error {
	if e.assigned.Load() {
		return nil
	}

	if e.source == nil {
		src, err := e.newSource(e.cfg)
		if err != nil {
			return err
		}
		e.source = src
	}

	snap, assignments, err := planTopic(ctx, e.source, e.cfg)
	if err != nil {
		return err
	}
	if err := e.source.Assign(ctx, assignments); err != nil {
		return newSourceError("assign", err)
	}

	strat := chooseStrategy(e.cfg, snap.partitions)
	e.sched = newSchedulerState(snap, strat)
	e.assigned.Store(true)
	metricPlansRun.Inc()
	return nil
}

// ConsumeNext implements consume_next(limit).
func (e *ReaderEngine) ConsumeNext(ctx context.Context, limit int) ([]DecodedRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Topic == "" && e.source == nil {
		return nil, ErrNotConfigured
	}
	if err := e.ensureAssigned(ctx); err != nil {
		return nil, err
	}

	out, err := e.sched.consumeNext(ctx, e.source, e.decoder, limit)
	metricRecordsEmitted.WithLabelValues("consume_next").Add(float64(len(out)))
	return out, err
}

// Status returns a human-readable connection summary for get_status.
func (e *ReaderEngine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return "kafka: not configured"
	}
	state := "configured"
	if e.assigned.Load() {
		state = "assigned"
	}
	return "kafka: broker=" + e.cfg.Broker + " topic=" + e.cfg.Topic + " state=" + state
}

// Topics implements get_topics: the sorted, deduped topic name list.
func (e *ReaderEngine) Topics(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decoder == nil {
		return nil, ErrNotConfigured
	}
	if e.source == nil {
		src, err := e.newSource(e.cfg)
		if err != nil {
			return nil, err
		}
		e.source = src
	}
	byTopic, err := e.source.FetchMetadata(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byTopic))
	for name := range byTopic {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Partitions implements get_topic_partitions.
func (e *ReaderEngine) Partitions(ctx context.Context) ([]int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decoder == nil {
		return nil, ErrNotConfigured
	}
	if e.source == nil {
		src, err := e.newSource(e.cfg)
		if err != nil {
			return nil, err
		}
		e.source = src
	}
	byTopic, err := e.source.FetchMetadata(ctx, e.cfg.Topic)
	if err != nil {
		return nil, err
	}
	return byTopic[e.cfg.Topic], nil
}
