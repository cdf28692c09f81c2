package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowbridge/connectkit/connector"
	"github.com/flowbridge/connectkit/message"
	"github.com/flowbridge/connectkit/statestore"
)

func decodeMessages(t *testing.T, buf *bytes.Buffer) []message.Message {
	t.Helper()
	var out []message.Message
	var scanner = bufio.NewScanner(buf)
	for scanner.Scan() {
		var m message.Message
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, scanner.Err())
	return out
}

func findByType(msgs []message.Message, t message.Type) []message.Message {
	var out []message.Message
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestEngineCheckSucceedsOn2xx(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 1},
	}

	var buf bytes.Buffer
	var enc = message.NewEncoder(&buf)
	var eng = New(def, statestore.New(), enc, Options{})

	require.NoError(t, eng.Check(context.Background()))

	var msgs = decodeMessages(t, &buf)
	var statuses = findByType(msgs, message.TypeConnectionStatus)
	require.Len(t, statuses, 1)
	require.Equal(t, message.StatusSucceeded, statuses[0].ConnectionStatus.Status)
}

func TestEngineCheckFailsOnConnectionError(t *testing.T) {
	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: "http://127.0.0.1:1",
		HTTP:    connector.HTTPSettings{TimeoutSecs: 1, MaxRetries: 0},
	}

	var buf bytes.Buffer
	var enc = message.NewEncoder(&buf)
	var eng = New(def, statestore.New(), enc, Options{})

	require.Error(t, eng.Check(context.Background()))

	var msgs = decodeMessages(t, &buf)
	var statuses = findByType(msgs, message.TypeConnectionStatus)
	require.Len(t, statuses, 1)
	require.Equal(t, message.StatusFailed, statuses[0].ConnectionStatus.Status)
}

func TestEngineReadEmitsRecordsAndSummary(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 1},
		Streams: []connector.StreamDefinition{
			{
				Name:        "widgets",
				Request:     connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				CursorField: "id",
				Decoder:     connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
				Pagination:  connector.PaginationSpec{Type: connector.PaginationNone},
				Partition:   connector.PartitionSpec{Type: connector.PartitionNone},
			},
		},
	}

	var buf bytes.Buffer
	var enc = message.NewEncoder(&buf)
	var eng = New(def, statestore.New(), enc, Options{BatchSize: 10})

	require.NoError(t, eng.Read(context.Background()))

	var msgs = decodeMessages(t, &buf)
	var records = findByType(msgs, message.TypeRecord)
	require.Len(t, records, 2)
	require.Equal(t, "widgets", records[0].Record.Stream)

	var summaries = findByType(msgs, message.TypeSyncSummary)
	require.Len(t, summaries, 1)
	require.Equal(t, message.StatusSucceeded, summaries[0].Summary.Status)
	require.EqualValues(t, 2, summaries[0].Summary.TotalRecords)
}

func TestEngineReadMarksPartitionCompletedAndSkipsOnRerun(t *testing.T) {
	var calls int
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1}]}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 0},
		Streams: []connector.StreamDefinition{
			{
				Name:       "widgets",
				Request:    connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				Decoder:    connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
				Pagination: connector.PaginationSpec{Type: connector.PaginationNone},
				Partition:  connector.PartitionSpec{Type: connector.PartitionList, Field: "region", Values: []string{"us"}},
			},
		},
	}

	var store = statestore.New()
	var buf bytes.Buffer
	var eng = New(def, store, message.NewEncoder(&buf), Options{})
	require.NoError(t, eng.Read(context.Background()))
	require.Equal(t, 1, calls)
	require.True(t, store.PartitionCompleted("widgets", "us"))

	var buf2 bytes.Buffer
	var eng2 = New(def, store, message.NewEncoder(&buf2), Options{})
	require.NoError(t, eng2.Read(context.Background()))
	require.Equal(t, 1, calls, "completed partitions must not be re-fetched on rerun")
}

func TestEngineReadSavesCursorEvenWithoutEmitStatePerPage(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1}, {"id": 5}, {"id": 3}]}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 0},
		Streams: []connector.StreamDefinition{
			{
				Name:        "widgets",
				Request:     connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				CursorField: "id",
				Decoder:     connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
				Pagination:  connector.PaginationSpec{Type: connector.PaginationNone},
				Partition:   connector.PartitionSpec{Type: connector.PartitionNone},
			},
		},
	}

	var store = statestore.New()
	var buf bytes.Buffer
	var eng = New(def, store, message.NewEncoder(&buf), Options{})
	require.NoError(t, eng.Read(context.Background()))

	cursor, ok := store.StreamCursor("widgets")
	require.True(t, ok, "final cursor must be persisted without per-page state emission")
	require.Equal(t, "5", cursor, "cursor reflects the max id across all pages, not just the last page decoded")
}

func TestEngineReadSavesCursorFromNestedDottedField(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1, "meta": {"updated_at": "2024-01-01"}}, {"id": 2, "meta": {"updated_at": "2024-03-05"}}]}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 0},
		Streams: []connector.StreamDefinition{
			{
				Name:        "widgets",
				Request:     connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				CursorField: "meta.updated_at",
				Decoder:     connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
				Pagination:  connector.PaginationSpec{Type: connector.PaginationNone},
				Partition:   connector.PartitionSpec{Type: connector.PartitionNone},
			},
		},
	}

	var store = statestore.New()
	var buf bytes.Buffer
	var eng = New(def, store, message.NewEncoder(&buf), Options{})
	require.NoError(t, eng.Read(context.Background()))

	cursor, ok := store.StreamCursor("widgets")
	require.True(t, ok, "a dotted cursor_field must still resolve and persist")
	require.Equal(t, "2024-03-05", cursor)
}

func TestEngineReadReturnsCancelledErrorOnContextCancellation(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1}], "next": true}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 0},
		Streams: []connector.StreamDefinition{
			{
				Name:       "widgets",
				Request:    connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				Decoder:    connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
				Pagination: connector.PaginationSpec{Type: connector.PaginationNone},
				Partition:  connector.PartitionSpec{Type: connector.PartitionList, Field: "region", Values: []string{"us", "eu"}},
			},
		},
	}

	var store = statestore.New()
	var buf bytes.Buffer
	var eng = New(def, store, message.NewEncoder(&buf), Options{})

	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var err = eng.Read(ctx)
	require.Error(t, err)
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)

	require.False(t, store.PartitionCompleted("widgets", "us"), "a partition interrupted by cancellation must not be marked completed")

	var msgs = decodeMessages(t, &buf)
	var summaries = findByType(msgs, message.TypeSyncSummary)
	require.Len(t, summaries, 1, "a summary must still be emitted on cancellation")
	require.Equal(t, message.StatusFailed, summaries[0].Summary.Status)
}

func TestEngineDiscoverInducesSchemaFromSampledRecords(t *testing.T) {
	var server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": [{"id": 1, "name": "a"}, {"id": 2, "name": null}]}`))
	}))
	defer server.Close()

	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: server.URL,
		HTTP:    connector.HTTPSettings{TimeoutSecs: 5, MaxRetries: 0},
		Streams: []connector.StreamDefinition{
			{
				Name:    "widgets",
				Request: connector.RequestSpec{Method: connector.MethodGet, Path: "/widgets"},
				Decoder: connector.DecoderSpec{Type: connector.DecoderJSON, RecordsPath: "items"},
			},
		},
	}

	var buf bytes.Buffer
	var eng = New(def, statestore.New(), message.NewEncoder(&buf), Options{})
	require.NoError(t, eng.Discover(context.Background(), 10))

	var msgs = decodeMessages(t, &buf)
	var catalogs = findByType(msgs, message.TypeCatalog)
	require.Len(t, catalogs, 1)
	require.Len(t, catalogs[0].Catalog.Streams, 1)
	require.Equal(t, "widgets", catalogs[0].Catalog.Streams[0].Name)
	require.Contains(t, catalogs[0].Catalog.Streams[0].JSONSchema["properties"], "id")
}

func TestEngineStreamsListsDeclaredStreamsWithoutSampling(t *testing.T) {
	var def = &connector.ConnectorDefinition{
		Name:    "widgets",
		BaseURL: "http://example.invalid",
		Streams: []connector.StreamDefinition{
			{Name: "widgets", Request: connector.RequestSpec{Path: "/widgets"}},
			{Name: "orders", Request: connector.RequestSpec{Path: "/orders"}},
		},
	}

	var buf bytes.Buffer
	var eng = New(def, statestore.New(), message.NewEncoder(&buf), Options{})
	require.NoError(t, eng.Streams(context.Background()))

	var msgs = decodeMessages(t, &buf)
	var lists = findByType(msgs, message.TypeStreams)
	require.Len(t, lists, 1)
	require.ElementsMatch(t, []string{"widgets", "orders"}, lists[0].Streams.Streams)
}
