// Package jsonpath implements the dotted-path subset used throughout
// connectkit to pull a value out of a decoded JSON document: an optional
// leading "$." followed by dot-separated object keys. There is no
// array/bracket indexing — original_source/src/auth/authenticator.rs's
// extract_jsonpath and original_source/src/pagination/types.rs's
// extract_jsonpath_value both strip "$." and split purely on ".", and
// neither ever descends into a slice. connectkit matches that exactly.
package jsonpath

import (
	"strconv"
	"strings"
)

// Split turns a path like "$.data.next_cursor" or "data.next_cursor" into
// its dotted segments, stripping an optional leading "$." prefix.
func Split(path string) []string {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Extract walks doc following path's dotted segments, descending only into
// map[string]interface{} values. It returns (value, true) on a full match
// and (nil, false) the moment a segment is missing or an intermediate value
// is not an object — including when it is a slice, matching the original's
// object-only traversal.
func Extract(doc interface{}, path string) (interface{}, bool) {
	var segments = Split(path)
	if segments == nil {
		return doc, true
	}

	var cur = doc
	for _, seg := range segments {
		var obj, ok = cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ExtractString is a convenience wrapper for the common case of pulling a
// string-typed value (e.g. a cursor token), coercing numbers and booleans
// to their canonical text the way original_source/src/auth/authenticator.rs's
// extract_jsonpath does (`Value::Number(n) => Some(n.to_string())`,
// `Value::Bool(b) => Some(b.to_string())`) — a numeric cursor or a bool
// flag is just as valid a path target as a string one.
func ExtractString(doc interface{}, path string) (string, bool) {
	var v, ok = Extract(doc, path)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
