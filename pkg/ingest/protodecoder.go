package ingest

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// protoDecoder implements the Protobuf variant: an
// ordered list of byte-slice views over the payload is tried in turn;
// the first that parses against the selected message type wins and is
// reserialised as compact JSON. A final "prepend tag 0x0A" repair is
// attempted before giving up.
type protoDecoder struct {
	msgDesc protoreflect.MessageDescriptor
}

// NewProtobufDecoder links fds and selects messageFullName as the
// decode target. No guessing: the message type must be named
// explicitly.
func NewProtobufDecoder(fds *descriptorpb.FileDescriptorSet, messageFullName string) (Decoder, error) {
	if messageFullName == "" {
		return nil, newConfigError("protobuf codec requires a selected message full name")
	}
	files, err := linkDescriptorSet(fds)
	if err != nil {
		return nil, err
	}
	md, err := findMessage(files, messageFullName)
	if err != nil {
		return nil, err
	}
	return &protoDecoder{msgDesc: md}, nil
}

func (d *protoDecoder) Decode(key, value []byte) (string, string, error) {
	keyText := toUTF8Lossy(key)

	for _, view := range protobufViews(value) {
		if text, ok := d.tryParse(view); ok {
			return keyText, text, nil
		}
	}

	// Final repair: prepend the field-1/length-delimited tag byte and
	// retry against the raw payload, in case the producer wrote a
	// bare message body that looks like a tagless field 1.
	repaired := append([]byte{0x0a}, value...)
	if text, ok := d.tryParse(repaired); ok {
		return keyText, text, nil
	}

	err := &DecodeError{Reason: "protobuf: no candidate view parsed as " + string(d.msgDesc.FullName())}
	return keyText, toUTF8Lossy(value), err
}

// tryParse attempts to unmarshal view as d.msgDesc and, on success,
// re-serialises it as compact JSON by re-parsing and re-emitting the
// protojson output through encoding/json, which strips any whitespace
// protojson inserts (its output spacing is deliberately unstable).
func (d *protoDecoder) tryParse(view []byte) (string, bool) {
	msg := dynamicpb.NewMessage(d.msgDesc)
	if err := proto.Unmarshal(view, msg); err != nil {
		return "", false
	}

	raw, err := protojson.MarshalOptions{}.Marshal(msg)
	if err != nil {
		return "", false
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", false
	}
	compact, err := json.Marshal(generic)
	if err != nil {
		return "", false
	}
	return string(compact), true
}
