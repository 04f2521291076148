// Package shell exposes the reader engine's stable command surface
// behind a transport-agnostic Dispatch call, so both cmd/kafkascope
// and an out-of-core GUI shell can drive the same engine without
// depending on pkg/ingest's Go types directly.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kafkascope/kafkascope/pkg/appfiles"
	"github.com/kafkascope/kafkascope/pkg/ingest"
	"github.com/kafkascope/kafkascope/pkg/protoimport"
	"github.com/kafkascope/kafkascope/pkg/security"
)

// Dispatcher owns one ReaderEngine and routes named commands to it.
// A single Dispatcher is not safe for concurrent Dispatch calls from
// multiple goroutines issuing set_config/apply_filters at once, which
// mirrors the ReaderEngine's own single-planner assumption.
type Dispatcher struct {
	engine *ingest.ReaderEngine
	files  *appfiles.Store
	events chan Event
}

// Event is the wire shape of the Event Channel: one value per
// lifecycle tick or decoded record a stream_filtered session emits.
type Event struct {
	Type              string              `json:"type"`
	Limit             int64               `json:"limit,omitempty"`
	KeyFilter         string              `json:"key_filter,omitempty"`
	MessageFilter     string              `json:"message_filter,omitempty"`
	MessageFilterMode string              `json:"message_filter_mode,omitempty"`
	Record            *ingest.DecodedRecord `json:"record,omitempty"`
	Emitted           int64               `json:"emitted,omitempty"`
}

// NewDispatcher builds a Dispatcher over a fresh ReaderEngine. reg
// receives the engine's prometheus metrics; appDataDir roots
// import_app_file's staging store.
func NewDispatcher(reg prometheus.Registerer, appDataDir string) (*Dispatcher, error) {
	store, err := appfiles.NewStore(appDataDir)
	if err != nil {
		return nil, err
	}

	newSource := func(cfg ingest.KafkaConfig) (ingest.RawSource, error) {
		opts, err := security.BuildClientOpts(cfg)
		if err != nil {
			return nil, err
		}
		opts = append([]kgo.Opt{kgo.SeedBrokers(cfg.Broker)}, opts...)
		return ingest.NewKgoSource(cfg.Topic, reg, opts...)
	}
	newDecoder := ingest.DefaultDecoderFactory(ingest.LoadDescriptorSetFile)

	return &Dispatcher{
		engine: ingest.NewReaderEngine(newSource, newDecoder, reg),
		files:  store,
		events: make(chan Event, 64),
	}, nil
}

// Events returns the channel onto which start_filtered_load's
// lifecycle and message events are delivered.
func (d *Dispatcher) Events() <-chan Event { return d.events }

// Dispatch routes one command by name across the stable command
// surface. args is the raw JSON object for the command; unrecognised
// fields are ignored by every argument struct below.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "set_config":
		return d.setConfig(args)
	case "get_status":
		return d.engine.Status(), nil
	case "get_topics":
		return d.getTopics(ctx)
	case "get_topic_partitions":
		return d.getTopicPartitions(ctx)
	case "apply_filters":
		return d.applyFilters(args)
	case "consume_next_messages":
		return d.consumeNextMessages(ctx, args)
	case "start_filtered_load":
		return d.startFilteredLoad(ctx, args)
	case "cancel_filtered_load":
		d.engine.CancelFilteredLoad()
		return nil, nil
	case "parse_proto_metadata":
		return d.parseProtoMetadata(args)
	case "import_app_file":
		return d.importAppFile(args)
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

type setConfigArgs struct {
	Config ingest.KafkaConfig `json:"config"`
}

func (d *Dispatcher) setConfig(args json.RawMessage) (interface{}, error) {
	var a setConfigArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return nil, d.engine.Reconfigure(a.Config)
}

func (d *Dispatcher) getTopics(ctx context.Context) (interface{}, error) {
	return d.engine.Topics(ctx)
}

func (d *Dispatcher) getTopicPartitions(ctx context.Context) (interface{}, error) {
	return d.engine.Partitions(ctx)
}

type applyFiltersArgs struct {
	Partition   string            `json:"partition"`
	StartOffset *int64            `json:"start_offset"`
	StartFrom   ingest.StartFrom  `json:"start_from"`
}

func (d *Dispatcher) applyFilters(args json.RawMessage) (interface{}, error) {
	var a applyFiltersArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return nil, d.engine.ApplyFilters(a.Partition, a.StartOffset, a.StartFrom)
}

type consumeNextArgs struct {
	Limit int `json:"limit"`
}

func (d *Dispatcher) consumeNextMessages(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a consumeNextArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
	}
	return d.engine.ConsumeNext(ctx, a.Limit)
}

type startFilteredLoadArgs struct {
	Limit          int64  `json:"limit"`
	KeyFilter      string `json:"key_filter"`
	MessageFilter  string `json:"message_filter"`
	Mode           string `json:"mode"`
}

func (d *Dispatcher) startFilteredLoad(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a startFilteredLoadArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
	}
	mode := ingest.FilterPlain
	if a.Mode == string(ingest.FilterJq) {
		mode = ingest.FilterJq
	}

	req := ingest.StreamFilterRequest{
		Limit:       a.Limit,
		KeyFilter:   a.KeyFilter,
		ValueFilter: a.MessageFilter,
		Mode:        mode,
		Sink:        d.emit(a),
	}
	_, err := d.engine.StartFilteredLoad(ctx, req)
	return nil, err
}

// emit adapts a LoadSession's SessionEvent callbacks onto the
// Dispatcher's Event channel, non-blocking so a slow consumer cannot
// stall the filtered loop's background goroutine.
func (d *Dispatcher) emit(a startFilteredLoadArgs) func(ingest.SessionEvent) {
	return func(ev ingest.SessionEvent) {
		out := Event{Emitted: ev.Emitted}
		switch ev.Kind {
		case ingest.EventStarted:
			out.Type = "load_started"
			out.Limit = a.Limit
			out.KeyFilter = a.KeyFilter
			out.MessageFilter = a.MessageFilter
			out.MessageFilterMode = a.Mode
		case ingest.EventMessage:
			out.Type = "message"
			out.Record = ev.Record
		case ingest.EventDone:
			out.Type = "load_done"
		case ingest.EventCancelled:
			out.Type = "load_cancelled"
		}
		select {
		case d.events <- out:
		default:
		}
	}
}

type parseProtoMetadataArgs struct {
	Files []string `json:"files"`
}

func (d *Dispatcher) parseProtoMetadata(args json.RawMessage) (interface{}, error) {
	var a parseProtoMetadataArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	blobs := make([][]byte, 0, len(a.Files))
	for _, path := range a.Files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, ingest.NewConfigError("reading %q: %v", path, err)
		}
		blobs = append(blobs, b)
	}
	return protoimport.Parse(blobs)
}

type importAppFileArgs struct {
	SrcPath string `json:"src_path"`
	Kind    string `json:"kind"`
}

func (d *Dispatcher) importAppFile(args json.RawMessage) (interface{}, error) {
	var a importAppFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	kind := appfiles.FileKind(a.Kind)
	if kind == "" {
		kind = appfiles.KindProtoDescriptorSet
	}
	return d.files.Import(a.SrcPath, kind)
}
