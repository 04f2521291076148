package ingest

import (
	"fmt"
	"math"
	"time"
)

// TimestampKind mirrors the three Kafka record timestamp types exposed
// by RawSource.poll.
type TimestampKind int

const (
	TimestampNotAvailable TimestampKind = iota
	TimestampCreateTime
	TimestampLogAppendTime
)

// RecordTimestamp is the raw (kind, millis) pair delivered by the
// source, before rendering.
type RecordTimestamp struct {
	Kind   TimestampKind
	Millis int64
}

// sortMillis returns the numeric value used for merge ordering:
// the raw millisecond timestamp, or an unavailable-sorts-last
// sentinel.
func (t RecordTimestamp) sortMillis() int64 {
	if t.Kind == TimestampNotAvailable {
		return math.MaxInt64
	}
	return t.Millis
}

// render renders the timestamp to RFC-3339 UTC, or "" when unavailable
// or out of range.
func (t RecordTimestamp) render() string {
	if t.Kind == TimestampNotAvailable {
		return ""
	}
	// time.UnixMilli overflows silently for millis outside this range;
	// guard explicitly and fall back to the empty rendering.
	const maxMillis = math.MaxInt64 / int64(time.Millisecond/time.Nanosecond)
	const minMillis = math.MinInt64 / int64(time.Millisecond/time.Nanosecond)
	if t.Millis > maxMillis || t.Millis < minMillis {
		return ""
	}
	return time.UnixMilli(t.Millis).UTC().Format(time.RFC3339)
}

// Record is a raw record as delivered by RawSource.poll, before
// decoding.
type Record struct {
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp RecordTimestamp
}

// DecodedRecord is the immutable, fully decoded unit the engine emits.
type DecodedRecord struct {
	ID          string `json:"id"`
	Partition   int32  `json:"partition"`
	Offset      int64  `json:"offset"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Timestamp   string `json:"timestamp"`
	DecodeError string `json:"decode_error,omitempty"`
}

func recordID(partition int32, offset int64) string {
	return fmt.Sprintf("%d-%d", partition, offset)
}
