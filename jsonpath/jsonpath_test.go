package jsonpath

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestExtractDottedPath(t *testing.T) {
	var doc = decode(t, `{"data":{"next_cursor":"abc123"}}`)
	v, ok := Extract(doc, "$.data.next_cursor")
	require.True(t, ok)
	require.Equal(t, "abc123", v)
}

func TestExtractWithoutDollarPrefix(t *testing.T) {
	var doc = decode(t, `{"page":{"total":5}}`)
	v, ok := Extract(doc, "page.total")
	require.True(t, ok)
	require.Equal(t, float64(5), v)
}

func TestExtractMissingKey(t *testing.T) {
	var doc = decode(t, `{"data":{}}`)
	_, ok := Extract(doc, "$.data.next_cursor")
	require.False(t, ok)
}

func TestExtractArrayIsNotIndexable(t *testing.T) {
	// There is no bracket syntax: a path segment landing on an array is a
	// miss, not an index-zero lookup.
	var doc = decode(t, `{"data":[{"id":1},{"id":2}]}`)
	_, ok := Extract(doc, "$.data.id")
	require.False(t, ok)
}

func TestExtractEmptyPathReturnsWholeDocument(t *testing.T) {
	var doc = decode(t, `{"a":1}`)
	v, ok := Extract(doc, "$.")
	require.True(t, ok)
	require.Equal(t, doc, v)
}

func TestExtractStringPassesThroughStringValue(t *testing.T) {
	var doc = decode(t, `{"data":{"next_cursor":"abc123"}}`)
	s, ok := ExtractString(doc, "$.data.next_cursor")
	require.True(t, ok)
	require.Equal(t, "abc123", s)
}

func TestExtractStringCoercesNumberToCanonicalText(t *testing.T) {
	var doc = decode(t, `{"meta":{"cursor":12345}}`)
	s, ok := ExtractString(doc, "meta.cursor")
	require.True(t, ok)
	require.Equal(t, "12345", s)
}

func TestExtractStringCoercesBoolToCanonicalText(t *testing.T) {
	var doc = decode(t, `{"meta":{"completed":true}}`)
	s, ok := ExtractString(doc, "meta.completed")
	require.True(t, ok)
	require.Equal(t, "true", s)
}

func TestExtractStringRejectsObjectAndArrayValues(t *testing.T) {
	var doc = decode(t, `{"data":{"items":[1,2]},"nested":{"a":1}}`)
	_, ok := ExtractString(doc, "data.items")
	require.False(t, ok)
	_, ok = ExtractString(doc, "nested")
	require.False(t, ok)
}
