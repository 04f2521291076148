package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventCollector struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (c *eventCollector) sink(ev SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) snapshot() []SessionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestStartFilteredLoad_EmitsAllRecordsThenDone(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.seed(0, mkRecord(0, 0, 100))
	src.seed(0, mkRecord(0, 1, 101))
	src.setWatermarks(0, 0, 2)

	newSource := func(cfg KafkaConfig) (RawSource, error) { return src, nil }
	newDecoder := func(cfg KafkaConfig) (Decoder, error) { return newTextDecoder(), nil }
	e := NewReaderEngine(newSource, newDecoder, prometheus.NewRegistry())
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	var coll eventCollector
	_, err := e.StartFilteredLoad(context.Background(), StreamFilterRequest{Sink: coll.sink})
	require.NoError(t, err)

	waitFor(t, func() bool {
		evs := coll.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Kind == EventDone
	})

	evs := coll.snapshot()
	require.True(t, len(evs) >= 3)
	assert.Equal(t, EventStarted, evs[0].Kind)
	assert.Equal(t, EventDone, evs[len(evs)-1].Kind)

	var messages int
	for _, ev := range evs {
		if ev.Kind == EventMessage {
			messages++
		}
	}
	assert.Equal(t, 2, messages)
}

func TestStartFilteredLoad_KeyFilterExcludesNonMatching(t *testing.T) {
	src := newFakeSource([]int32{0})
	r0 := mkRecord(0, 0, 100)
	r0.Key = []byte("alpha")
	r1 := mkRecord(0, 1, 101)
	r1.Key = []byte("beta")
	src.seed(0, r0)
	src.seed(0, r1)
	src.setWatermarks(0, 0, 2)

	newSource := func(cfg KafkaConfig) (RawSource, error) { return src, nil }
	newDecoder := func(cfg KafkaConfig) (Decoder, error) { return newTextDecoder(), nil }
	e := NewReaderEngine(newSource, newDecoder, prometheus.NewRegistry())
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	var coll eventCollector
	_, err := e.StartFilteredLoad(context.Background(), StreamFilterRequest{KeyFilter: "alpha", Sink: coll.sink})
	require.NoError(t, err)

	waitFor(t, func() bool {
		evs := coll.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Kind == EventDone
	})

	var matched []string
	for _, ev := range coll.snapshot() {
		if ev.Kind == EventMessage {
			matched = append(matched, ev.Record.Key)
		}
	}
	assert.Equal(t, []string{"alpha"}, matched)
}

func TestStartFilteredLoad_CancelReplacesActiveSession(t *testing.T) {
	src := newFakeSource([]int32{0})
	src.setWatermarks(0, 0, 1_000_000) // large window, never naturally completes within the test

	newSource := func(cfg KafkaConfig) (RawSource, error) { return src, nil }
	newDecoder := func(cfg KafkaConfig) (Decoder, error) { return newTextDecoder(), nil }
	e := NewReaderEngine(newSource, newDecoder, prometheus.NewRegistry())
	require.NoError(t, e.Reconfigure(KafkaConfig{Topic: "t", Partition: "0", StartFrom: StartOldest}))

	var first eventCollector
	session1, err := e.StartFilteredLoad(context.Background(), StreamFilterRequest{Sink: first.sink})
	require.NoError(t, err)

	var second eventCollector
	_, err = e.StartFilteredLoad(context.Background(), StreamFilterRequest{Sink: second.sink})
	require.NoError(t, err)

	waitFor(t, func() bool { return session1.cancelled() })

	waitFor(t, func() bool {
		evs := first.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].Kind == EventCancelled
	})
}

func TestMatchesFilters_PlainModeIsCaseInsensitiveSubstring(t *testing.T) {
	rec := DecodedRecord{Key: "Alpha", Value: `{"status":"OK"}`}
	req := StreamFilterRequest{ValueFilter: "ok", Mode: FilterPlain}
	assert.True(t, matchesFilters(rec, req))

	req.ValueFilter = "missing"
	assert.False(t, matchesFilters(rec, req))
}

func TestMatchesFilters_JqModeUsesJSONPathPredicate(t *testing.T) {
	rec := DecodedRecord{Value: `{"status":"ok"}`}
	req := StreamFilterRequest{ValueFilter: `.status == "ok"`, Mode: FilterJq}
	assert.True(t, matchesFilters(rec, req))

	req.ValueFilter = `.status == "bad"`
	assert.False(t, matchesFilters(rec, req))
}

func TestMatchesFilters_KeyFilterAppliesBeforeValueFilter(t *testing.T) {
	rec := DecodedRecord{Key: "other", Value: `{"status":"ok"}`}
	req := StreamFilterRequest{KeyFilter: "alpha", ValueFilter: `.status == "ok"`, Mode: FilterJq}
	assert.False(t, matchesFilters(rec, req))
}
