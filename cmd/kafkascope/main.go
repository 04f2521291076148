package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/grafana/dskit/flagext"
	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kafkascope/kafkascope/pkg/ingest"
	"github.com/kafkascope/kafkascope/pkg/shell"
)

const configFileOption = "config-file"

var (
	broker     string
	topic      string
	partition  string
	codec      string
	startFrom  string
	appDataDir string
	limit      int
	keyFilter  string
	valFilter  string
	filterMode string

	logger *zap.Logger
)

func init() {
	flag.StringVar(&broker, "broker", "localhost:9092", "Kafka bootstrap broker address")
	flag.StringVar(&topic, "topic", "", "topic to inspect")
	flag.StringVar(&partition, "partition", "all", `partition selector ("all" or a numeric id)`)
	flag.StringVar(&codec, "codec", "json", "payload codec: text, json, protobuf")
	flag.StringVar(&startFrom, "start-from", "oldest", "oldest or newest")
	flag.StringVar(&appDataDir, "app-data-dir", defaultAppDataDir(), "directory for staged files")
	flag.IntVar(&limit, "limit", 200, "max records per call")
	flag.StringVar(&keyFilter, "key-filter", "", "substring filter on record keys")
	flag.StringVar(&valFilter, "value-filter", "", "filter on record values")
	flag.StringVar(&filterMode, "filter-mode", "plain", "plain or jq")
}

// loadConfigFileEarly extracts -config-file from the raw argument list
// before the main flag.Parse() call, so a YAML config file's values
// can seed the broker/topic/... variable defaults that flag.Parse()
// then overlays with whatever the user passed explicitly.
func loadConfigFileEarly() ingest.KafkaConfig {
	var configFile string
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")

	args := os.Args[1:]
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	if configFile == "" {
		return ingest.DefaultKafkaConfig()
	}

	cfg, err := ingest.LoadKafkaConfigFile(configFile)
	if err != nil {
		panic(errors.Wrap(err, "loading config file"))
	}
	return cfg
}

func defaultAppDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "."
	}
	return dir + "/kafkascope"
}

func main() {
	fileCfg := loadConfigFileEarly()
	broker, topic, partition = fileCfg.Broker, fileCfg.Topic, fileCfg.Partition
	codec, startFrom = string(fileCfg.Codec), string(fileCfg.StartFrom)

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "YAML config file seeding broker/topic/partition/codec/start-from defaults.")
	flag.Parse()

	config := zap.NewDevelopmentEncoderConfig()
	logger = zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(config),
		os.Stdout,
		zapcore.InfoLevel,
	))

	logger.Info("kafkascope starting", zap.String("broker", broker), zap.String("topic", topic))

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("usage: kafkascope <status|topics|partitions|consume|stream|parse-proto|import-file> [args]")
		os.Exit(1)
	}

	d, err := shell.NewDispatcher(prometheus.NewRegistry(), appDataDir)
	if err != nil {
		panic(errors.Wrap(err, "building dispatcher"))
	}

	ctx := context.Background()

	cfg := fileCfg
	cfg.Broker = broker
	cfg.Topic = topic
	cfg.Partition = partition
	cfg.Codec = ingest.CodecKind(codec)
	cfg.StartFrom = ingest.StartFrom(startFrom)
	cfgArgs, _ := json.Marshal(struct {
		Config ingest.KafkaConfig `json:"config"`
	}{cfg})

	if _, err := d.Dispatch(ctx, "set_config", cfgArgs); err != nil {
		panic(errors.Wrap(err, "set_config"))
	}

	switch args[0] {
	case "status":
		runStatus(ctx, d)
	case "topics":
		runTopics(ctx, d)
	case "partitions":
		runPartitions(ctx, d)
	case "consume":
		runConsume(ctx, d)
	case "stream":
		runStream(ctx, d)
	case "parse-proto":
		runParseProto(ctx, d, args[1:])
	case "import-file":
		runImportFile(ctx, d, args[1:])
	default:
		fmt.Printf("unknown subcommand %q\n", args[0])
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, d *shell.Dispatcher) {
	res, err := d.Dispatch(ctx, "get_status", nil)
	if err != nil {
		panic(errors.Wrap(err, "get_status"))
	}
	fmt.Println(res)
}

func runTopics(ctx context.Context, d *shell.Dispatcher) {
	res, err := d.Dispatch(ctx, "get_topics", nil)
	if err != nil {
		panic(errors.Wrap(err, "get_topics"))
	}
	topics, _ := res.([]string)

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"topic"})
	for _, t := range topics {
		w.Append([]string{t})
	}
	w.Render()
}

func runPartitions(ctx context.Context, d *shell.Dispatcher) {
	res, err := d.Dispatch(ctx, "get_topic_partitions", nil)
	if err != nil {
		panic(errors.Wrap(err, "get_topic_partitions"))
	}
	partitions, _ := res.([]int32)

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"partition"})
	for _, p := range partitions {
		w.Append([]string{strconv.Itoa(int(p))})
	}
	w.Render()
}

func runConsume(ctx context.Context, d *shell.Dispatcher) {
	consumeArgs, _ := json.Marshal(struct {
		Limit int `json:"limit"`
	}{limit})

	res, err := d.Dispatch(ctx, "consume_next_messages", consumeArgs)
	if err != nil {
		panic(errors.Wrap(err, "consume_next_messages"))
	}
	records, _ := res.([]ingest.DecodedRecord)

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"partition", "offset", "timestamp", "key", "value"})
	for _, r := range records {
		w.Append([]string{
			strconv.Itoa(int(r.Partition)),
			strconv.FormatInt(r.Offset, 10),
			r.Timestamp,
			r.Key,
			r.Value,
		})
	}
	w.Render()
}

func runStream(ctx context.Context, d *shell.Dispatcher) {
	streamArgs, _ := json.Marshal(struct {
		Limit         int64  `json:"limit"`
		KeyFilter     string `json:"key_filter"`
		MessageFilter string `json:"message_filter"`
		Mode          string `json:"mode"`
	}{int64(limit), keyFilter, valFilter, filterMode})

	if _, err := d.Dispatch(ctx, "start_filtered_load", streamArgs); err != nil {
		panic(errors.Wrap(err, "start_filtered_load"))
	}

	for ev := range d.Events() {
		switch ev.Type {
		case "message":
			fmt.Printf("%d/%d\t%s\t%s\n", ev.Record.Partition, ev.Record.Offset, ev.Record.Key, ev.Record.Value)
		case "load_done":
			fmt.Printf("done: %d emitted\n", ev.Emitted)
			return
		case "load_cancelled":
			fmt.Println("cancelled")
			return
		}
	}
}

func runParseProto(ctx context.Context, d *shell.Dispatcher, files []string) {
	parseArgs, _ := json.Marshal(struct {
		Files []string `json:"files"`
	}{files})

	res, err := d.Dispatch(ctx, "parse_proto_metadata", parseArgs)
	if err != nil {
		panic(errors.Wrap(err, "parse_proto_metadata"))
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

func runImportFile(ctx context.Context, d *shell.Dispatcher, posArgs []string) {
	if len(posArgs) == 0 {
		panic("import-file requires a source path argument")
	}
	kind := "proto_descriptor_sets"
	if len(posArgs) > 1 {
		kind = posArgs[1]
	}

	importArgs, _ := json.Marshal(struct {
		SrcPath string `json:"src_path"`
		Kind    string `json:"kind"`
	}{posArgs[0], kind})

	res, err := d.Dispatch(ctx, "import_app_file", importArgs)
	if err != nil {
		panic(errors.Wrap(err, "import_app_file"))
	}
	fmt.Println(res)
}
