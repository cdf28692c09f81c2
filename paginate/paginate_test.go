package paginate

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestOffsetPaginatorAdvancesByRecordCount(t *testing.T) {
	var p = &Offset{OffsetParam: "offset", LimitParam: "limit", Limit: 50}
	require.Equal(t, map[string]string{"limit": "50"}, p.InitialParams())

	next := p.Next(Response{RecordCount: 50})
	require.False(t, next.Done)
	require.Equal(t, "50", next.Params["offset"])
}

func TestOffsetPaginatorStopsOnEmptyPage(t *testing.T) {
	var p = &Offset{OffsetParam: "offset", LimitParam: "limit", Limit: 50, Stop: &Stop{Kind: StopEmptyPage}}
	next := p.Next(Response{RecordCount: 0})
	require.True(t, next.Done)
}

func TestCursorPaginatorStopsOnMissingCursor(t *testing.T) {
	var p = &Cursor{CursorParam: "cursor", CursorPath: "$.next_cursor"}
	next := p.Next(Response{Body: decode(t, `{}`), RecordCount: 10})
	require.True(t, next.Done)
}

func TestCursorPaginatorStopsOnRepeatedCursor(t *testing.T) {
	var p = &Cursor{CursorParam: "cursor", CursorPath: "$.next_cursor"}
	body := decode(t, `{"next_cursor":"abc"}`)

	first := p.Next(Response{Body: body, RecordCount: 10})
	require.False(t, first.Done)
	require.Equal(t, "abc", first.Params["cursor"])

	second := p.Next(Response{Body: body, RecordCount: 10})
	require.True(t, second.Done, "same cursor as previous page must stop")
}

func TestLinkHeaderPaginatorFollowsNextRel(t *testing.T) {
	var p = &LinkHeader{}
	var h = http.Header{}
	h.Set("Link", `<https://api.example.com/page2>; rel="next", <https://api.example.com/page1>; rel="prev"`)

	next := p.Next(Response{Headers: h, RecordCount: 10})
	require.False(t, next.Done)
	require.Equal(t, "https://api.example.com/page2", next.URL)
}

func TestLinkHeaderPaginatorDoneWhenRelAbsent(t *testing.T) {
	var p = &LinkHeader{}
	var h = http.Header{}
	next := p.Next(Response{Headers: h, RecordCount: 10})
	require.True(t, next.Done)
}

func TestFieldStopConditionUsesStrictTypedEquality(t *testing.T) {
	var p = &Offset{OffsetParam: "o", LimitParam: "l", Limit: 10, Stop: &Stop{
		Kind: StopField, Path: "$.done", Value: false,
	}}
	// body has done: "false" (string), which must NOT equal the bool false.
	next := p.Next(Response{Body: decode(t, `{"done":"false"}`), RecordCount: 5})
	require.False(t, next.Done)

	next2 := p.Next(Response{Body: decode(t, `{"done":false}`), RecordCount: 5})
	require.True(t, next2.Done)
}

func TestTotalCountStopCondition(t *testing.T) {
	var p = &Offset{OffsetParam: "o", LimitParam: "l", Limit: 10, Stop: &Stop{
		Kind: StopTotalCount, Path: "$.total",
	}}
	body := decode(t, `{"total":15}`)
	next := p.Next(Response{Body: body, RecordCount: 10})
	require.False(t, next.Done)
	next2 := p.Next(Response{Body: body, RecordCount: 5})
	require.True(t, next2.Done)
}
