package ingest

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// FilterMode selects how value_filter is interpreted by the Filtered
// Streaming Runner.
type FilterMode string

const (
	FilterPlain FilterMode = "plain"
	FilterJq    FilterMode = "jq"
)

// SessionEventKind enumerates the lifecycle/event sum type emitted on
// a session's sink.
type SessionEventKind string

const (
	EventStarted   SessionEventKind = "started"
	EventMessage   SessionEventKind = "message"
	EventDone      SessionEventKind = "done"
	EventCancelled SessionEventKind = "cancelled"
)

// SessionEvent is one item sent to a stream_filtered sink.
type SessionEvent struct {
	Kind    SessionEventKind
	Record  *DecodedRecord
	Emitted int64
}

// StreamFilterRequest bundles stream_filtered's parameters.
type StreamFilterRequest struct {
	Limit       int64
	KeyFilter   string
	ValueFilter string
	Mode        FilterMode
	Sink        func(SessionEvent)
}

// LoadSession is one stream_filtered invocation: a cancellable
// background task with an atomic match counter, replacing whatever
// session preceded it.
type LoadSession struct {
	ctx     context.Context
	cancelFn context.CancelFunc
	emitted atomic.Int64

	mu   sync.Mutex
	done bool
}

func newLoadSession(parent context.Context) *LoadSession {
	ctx, cancel := context.WithCancel(parent)
	return &LoadSession{ctx: ctx, cancelFn: cancel}
}

func (s *LoadSession) cancel() {
	s.cancelFn()
}

func (s *LoadSession) cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Emitted returns the number of records sent to the sink so far.
func (s *LoadSession) Emitted() int64 { return s.emitted.Load() }

// StartFilteredLoad implements stream_filtered: it cancels any
// session already running on e, installs a new one, and runs the
// Filtered Streaming Runner loop in its own goroutine so at most one
// background task runs per session.
func (e *ReaderEngine) StartFilteredLoad(ctx context.Context, req StreamFilterRequest) (*LoadSession, error) {
	e.mu.Lock()
	if e.decoder == nil {
		e.mu.Unlock()
		return nil, ErrNotConfigured
	}
	if err := e.ensureAssigned(ctx); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	source, decoder, sched := e.source, e.decoder, e.sched
	e.mu.Unlock()

	e.sessionMu.Lock()
	if e.session != nil {
		e.session.cancel()
	}
	session := newLoadSession(ctx)
	e.session = session
	e.sessionMu.Unlock()

	go runFilteredLoad(session, source, decoder, sched, req)

	return session, nil
}

// runFilteredLoad is the main loop: seed already-empty
// partitions into DoneSet, then poll/decode/filter/emit until done or
// cancelled.
func runFilteredLoad(session *LoadSession, source RawSource, decoder Decoder, sched *schedulerState, req StreamFilterRequest) {
	if req.Sink != nil {
		req.Sink(SessionEvent{Kind: EventStarted})
	}

	for _, p := range sched.plan.partitions {
		if sched.plan.startingOffsets[p] >= sched.plan.endOffsets[p] {
			sched.done.mark(p)
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = -1 // unbounded: loop terminates on global done or cancel only
	}

	for {
		if session.cancelled() {
			if req.Sink != nil {
				req.Sink(SessionEvent{Kind: EventCancelled, Emitted: session.Emitted()})
			}
			return
		}
		if sched.done.allDone(sched.plan.partitions) {
			if req.Sink != nil {
				req.Sink(SessionEvent{Kind: EventDone, Emitted: session.Emitted()})
			}
			return
		}
		if limit >= 0 && session.Emitted() >= limit {
			if req.Sink != nil {
				req.Sink(SessionEvent{Kind: EventDone, Emitted: session.Emitted()})
			}
			return
		}

		res := source.Poll(session.ctx, pollTimeout)
		if res.idle() {
			continue
		}
		if res.Err != nil {
			continue
		}

		rec := *res.Record
		p := rec.Partition
		end := sched.plan.endOffsets[p]
		if rec.Offset >= end {
			sched.done.mark(p)
			continue
		}
		if rec.Offset == end-1 {
			sched.done.mark(p)
		}

		br := decodeRecord(decoder, rec)
		if !matchesFilters(br.record, req) {
			continue
		}

		session.emitted.Inc()
		metricRecordsEmitted.WithLabelValues("stream_filtered").Inc()
		if req.Sink != nil {
			rec := br.record
			req.Sink(SessionEvent{Kind: EventMessage, Record: &rec, Emitted: session.Emitted()})
		}
	}
}

// matchesFilters implements the predicate rules.
func matchesFilters(rec DecodedRecord, req StreamFilterRequest) bool {
	if req.KeyFilter != "" && !containsFold(rec.Key, req.KeyFilter) {
		return false
	}
	if req.ValueFilter == "" {
		return true
	}
	switch req.Mode {
	case FilterJq:
		return evaluateJSONPathPredicate(req.ValueFilter, rec.Value)
	default:
		return containsFold(rec.Value, req.ValueFilter)
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// CancelFilteredLoad cancels the currently active session, if any.
func (e *ReaderEngine) CancelFilteredLoad() {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	if e.session != nil {
		e.session.cancel()
	}
}
