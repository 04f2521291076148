package ingest

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// BackWindow bounds how far behind the current high watermark a
// start_from=newest plan begins reading. Implementers may expose this
// as a flag, but the default must stay 2000.
const BackWindow = 2000

// Idle poll budgets: consecutive empty/error polls tolerated before a
// given phase gives up and moves on.
const (
	idleLimitBatch  = 20
	idleLimitFill   = 20
	idleLimitRefill = 5
	idleLimitDrain  = 40
)

// pollTimeout is the fixed per-poll blocking timeout.
const pollTimeout = 200 * time.Millisecond

// CodecKind selects the Decoder variant used for a plan.
type CodecKind string

const (
	CodecText     CodecKind = "text"
	CodecJSON     CodecKind = "json"
	CodecProtobuf CodecKind = "protobuf"
)

// StartFrom selects where an unfiltered plan begins reading.
type StartFrom string

const (
	StartOldest StartFrom = "oldest"
	StartNewest StartFrom = "newest"
)

// SecurityKind selects how the engine's RawSource authenticates to the
// broker. The core never interprets the credential material itself;
// pkg/security maps it to client options.
type SecurityKind string

const (
	SecurityPlaintext SecurityKind = "plaintext"
	SecuritySSL       SecurityKind = "ssl"
	SecuritySASLPlain SecurityKind = "sasl_plain"
	SecuritySASLSCRAM SecurityKind = "sasl_scram"
)

// SecurityProfile carries the pass-through credential material for
// whichever SecurityKind is selected. Unused fields for a given Kind
// are ignored.
type SecurityProfile struct {
	Kind SecurityKind `json:"kind" yaml:"kind"`

	// SSL
	CABundlePath   string `json:"ca_bundle_path,omitempty" yaml:"ca_bundle_path,omitempty"`
	ClientCertPath string `json:"client_cert_path,omitempty" yaml:"client_cert_path,omitempty"`
	ClientKeyPath  string `json:"client_key_path,omitempty" yaml:"client_key_path,omitempty"`
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`

	// SASL
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	Mechanism string `json:"mechanism,omitempty" yaml:"mechanism,omitempty"` // SCRAM-SHA-256 | SCRAM-SHA-512
}

// ProtobufSchemaRef names the compiled descriptor set and the selected
// fully-qualified message type the Protobuf decoder must use. Neither
// guessing nor schema-registry lookup is in scope.
type ProtobufSchemaRef struct {
	DescriptorSetPath string `json:"descriptor_set_path" yaml:"descriptor_set_path"`
	MessageFullName   string `json:"message_full_name" yaml:"message_full_name"`
}

// KafkaConfig is the immutable-except-via-apply_filters connection and
// filter configuration a shell passes to reconfigure. It accepts both
// snake_case and camelCase spellings of every field;
// see UnmarshalJSON.
type KafkaConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	Security SecurityProfile `json:"security" yaml:"security"`
	Codec    CodecKind `json:"codec" yaml:"codec"`

	// Partition is "", "all", or a base-10 signed partition id.
	Partition string `json:"partition,omitempty" yaml:"partition,omitempty"`

	StartOffset *int64    `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`
	StartFrom   StartFrom `json:"start_from" yaml:"start_from"`

	ProtobufSchema *ProtobufSchemaRef `json:"protobuf_schema,omitempty" yaml:"protobuf_schema,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers the default-value flags for
// KafkaConfig, following dskit's RegisterFlagsAndApplyDefaults
// convention of setting defaults directly on the receiver before
// binding flags to them.
func (c *KafkaConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Broker = "localhost:9092"
	c.Topic = ""
	c.Codec = CodecJSON
	c.StartFrom = StartOldest
	c.Security = SecurityProfile{Kind: SecurityPlaintext}

	f.StringVar(&c.Broker, prefix+"broker", c.Broker, "Kafka bootstrap broker address.")
	f.StringVar(&c.Topic, prefix+"topic", c.Topic, "Topic to read from.")
}

// DefaultKafkaConfig returns a KafkaConfig with RegisterFlagsAndApplyDefaults applied.
func DefaultKafkaConfig() KafkaConfig {
	var c KafkaConfig
	c.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.ContinueOnError))
	return c
}

// LoadKafkaConfigFile reads a YAML-encoded KafkaConfig from path,
// starting from DefaultKafkaConfig so fields the file omits keep their
// usual defaults rather than zero values.
func LoadKafkaConfigFile(path string) (KafkaConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return KafkaConfig{}, newConfigError("reading config file %q: %v", path, err)
	}
	cfg := DefaultKafkaConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return KafkaConfig{}, newConfigError("parsing config file %q: %v", path, err)
	}
	return cfg, nil
}

// ResolvedPartition is the parsed form of KafkaConfig.Partition.
type ResolvedPartition struct {
	All bool
	ID  int32
}

// resolvePartitionSelector parses the partition selector: "", "all"
// (case-insensitive) select every partition; anything else must parse
// as a base-10 signed partition id.
func resolvePartitionSelector(sel string) (ResolvedPartition, error) {
	switch strings.ToLower(strings.TrimSpace(sel)) {
	case "", "all":
		return ResolvedPartition{All: true}, nil
	}
	n, err := strconv.ParseInt(sel, 10, 32)
	if err != nil {
		return ResolvedPartition{}, newConfigError("invalid partition id %q: %v", sel, err)
	}
	return ResolvedPartition{ID: int32(n)}, nil
}

// kafkaConfigAliases maps every camelCase JSON key this config accepts to its
// canonical snake_case struct field, so shells built in either
// convention work unmodified. mapstructure's own
// case-insensitive matching already collapses "Broker"/"broker"; this
// table only needs the non-trivial camelCase spellings.
var kafkaConfigAliases = map[string]string{
	"startOffset":    "start_offset",
	"startFrom":      "start_from",
	"protobufSchema": "protobuf_schema",
	"caBundlePath":   "ca_bundle_path",
	"clientCertPath": "client_cert_path",
	"clientKeyPath":  "client_key_path",
	"insecureSkipVerify": "insecure_skip_verify",
	"descriptorSetPath": "descriptor_set_path",
	"messageFullName":   "message_full_name",
}

func normalizeAliasKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			nk := k
			if canon, ok := kafkaConfigAliases[k]; ok {
				nk = canon
			}
			out[nk] = normalizeAliasKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeAliasKeys(val)
		}
		return out
	default:
		return v
	}
}

// UnmarshalJSON implements an alias-tolerant, unknown-field-ignoring
// decode: keys are normalized to their snake_case spelling and then
// decoded case-insensitively via mapstructure, so neither camelCase
// nor snake_case callers need a dedicated wire format.
func (c *KafkaConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw, _ = normalizeAliasKeys(raw).(map[string]interface{})

	type plain KafkaConfig
	aux := plain(DefaultKafkaConfig())

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           &aux,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return err
	}
	*c = KafkaConfig(aux)
	return nil
}
