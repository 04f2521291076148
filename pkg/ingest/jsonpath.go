package ingest

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// pathSegment is one hop of a parsed `.a.b[0].c` expression: a field
// name, optionally followed by an array index.
type pathSegment struct {
	field string
	index int
	hasIndex bool
}

// evaluateJSONPathPredicate implements a tiny expression language for
// jq-mode filters against raw JSON text: a bare dotted/indexed path
// tests truthiness, and "<path> == <literal>" tests equality.
func evaluateJSONPathPredicate(expr string, valueJSON string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	if expr == "true" {
		return true
	}

	if path, literal, ok := splitEquality(expr); ok {
		val, found := resolvePath(valueJSON, path)
		if !found {
			return false
		}
		return equalsLiteral(val, literal)
	}

	if strings.HasPrefix(expr, ".") {
		val, found := resolvePath(valueJSON, expr)
		if !found {
			return false
		}
		b, ok := val.(bool)
		return ok && b
	}

	return false
}

// splitEquality recognises "<path> == <literal>", tolerating
// surrounding whitespace around "==".
func splitEquality(expr string) (path, literal string, ok bool) {
	idx := strings.Index(expr, "==")
	if idx < 0 {
		return "", "", false
	}
	path = strings.TrimSpace(expr[:idx])
	literal = strings.TrimSpace(expr[idx+2:])
	if !strings.HasPrefix(path, ".") {
		return "", "", false
	}
	return path, literal, true
}

// equalsLiteral compares a resolved JSON value against a literal that
// is parsed as JSON first, falling back to a quote-stripped string.
func equalsLiteral(val interface{}, literal string) bool {
	var parsed interface{}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(literal, &parsed); err == nil {
		return jsonValuesEqual(val, parsed)
	}
	stripped := strings.Trim(literal, `"'`)
	s, ok := val.(string)
	return ok && s == stripped
}

func jsonValuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// parsePath parses a ".a.b[0].c"-shaped expression into its segments.
// Malformed paths yield a nil slice, which resolvePath treats as
// not-found.
func parsePath(path string) []pathSegment {
	if !strings.HasPrefix(path, ".") {
		return nil
	}
	raw := strings.Split(path[1:], ".")
	segments := make([]pathSegment, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			return nil
		}
		field := r
		seg := pathSegment{}
		if br := strings.IndexByte(r, '['); br >= 0 {
			if !strings.HasSuffix(r, "]") {
				return nil
			}
			field = r[:br]
			idxStr := r[br+1 : len(r)-1]
			n, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil
			}
			seg.index = n
			seg.hasIndex = true
		}
		seg.field = field
		segments = append(segments, seg)
	}
	return segments
}

// resolvePath navigates valueJSON by path, returning (value, found).
// Missing keys and out-of-range indices resolve to not-found, not an
// error.
func resolvePath(valueJSON string, path string) (interface{}, bool) {
	segments := parsePath(path)
	if segments == nil {
		return nil, false
	}

	var cur interface{}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(valueJSON, &cur); err != nil {
		return nil, false
	}

	for _, seg := range segments {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		next, ok := obj[seg.field]
		if !ok {
			return nil, false
		}
		cur = next

		if seg.hasIndex {
			arr, ok := cur.([]interface{})
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
		}
	}
	return cur, true
}
