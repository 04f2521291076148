package ingest

import "unicode/utf8"

// Decoder transforms a raw (key, value) pair into display text. Key
// is always UTF-8-lossy textualised regardless of variant; decodeErr
// is non-nil only for the Protobuf variant, and never aborts
// emission.
type Decoder interface {
	Decode(key, value []byte) (keyText, valueText string, decodeErr error)
}

// toUTF8Lossy textualises arbitrary bytes as UTF-8. Valid UTF-8 is
// returned unchanged; otherwise each invalid byte is replaced by
// utf8.RuneError (U+FFFD), since a plain string(b) conversion would
// keep the invalid bytes verbatim.
func toUTF8Lossy(b []byte) string {
	if b == nil {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			out = append(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return string(out)
}

// textDecoder implements both the Text and JSON variants: JSON
// validation/pretty-printing is out of scope, so the two are
// behaviourally identical at the decoder layer.
type textDecoder struct{}

func newTextDecoder() Decoder { return textDecoder{} }

func (textDecoder) Decode(key, value []byte) (string, string, error) {
	return toUTF8Lossy(key), toUTF8Lossy(value), nil
}
