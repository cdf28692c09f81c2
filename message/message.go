// Package message defines the newline-delimited JSON messages that a
// connectkit run emits on stdout: one envelope type per message kind
// (RECORD, STATE, LOG, CONNECTION_STATUS, CATALOG, STREAMS, SPEC,
// SYNC_SUMMARY).
package message

import (
	"encoding/json"
	"io"
)

// Type discriminates a Message's payload.
type Type string

const (
	TypeRecord           Type = "RECORD"
	TypeState            Type = "STATE"
	TypeLog              Type = "LOG"
	TypeConnectionStatus Type = "CONNECTION_STATUS"
	TypeCatalog          Type = "CATALOG"
	TypeStreams          Type = "STREAMS"
	TypeSpec             Type = "SPEC"
	TypeSyncSummary      Type = "SYNC_SUMMARY"
)

// LogLevel mirrors the levels a connector may emit in a LOG message.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// Status is the outcome of a check or of a stream/run summary.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusPartial   Status = "PARTIAL"
)

// Record is one extracted row, ready for emission.
type Record struct {
	Stream    string                 `json:"stream"`
	Data      map[string]interface{} `json:"data"`
	EmittedAt int64                  `json:"emitted_at"`
}

// Log is a single log line surfaced through the message stream.
type Log struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// ConnectionStatus is the result of a `check` operation.
type ConnectionStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// StreamCatalogEntry describes one stream's induced schema, as produced by
// `discover`.
type StreamCatalogEntry struct {
	Name               string                 `json:"name"`
	JSONSchema         map[string]interface{} `json:"json_schema"`
	SupportedSyncModes []string               `json:"supported_sync_modes"`
	DefaultCursorField []string               `json:"default_cursor_field,omitempty"`
	PrimaryKey         []string               `json:"primary_key,omitempty"`
}

// Catalog is the payload of a `discover` operation.
type Catalog struct {
	Streams []StreamCatalogEntry `json:"streams"`
}

// StreamsList is the payload of a `streams` operation: the connector's
// declared streams without schema sampling.
type StreamsList struct {
	Streams []string `json:"streams"`
}

// Spec is the connector's advertised configuration schema.
type Spec struct {
	ConnectionSpecification map[string]interface{} `json:"connectionSpecification"`
	DocumentationURL        string                 `json:"documentationUrl,omitempty"`
}

// StreamSummary reports one stream's outcome within a SyncSummary.
type StreamSummary struct {
	Name    string  `json:"name"`
	Status  Status  `json:"status"`
	Records int64   `json:"records"`
	Error   *string `json:"error,omitempty"`
}

// SyncSummary is emitted once a `read` operation completes, regardless of
// per-stream outcome.
type SyncSummary struct {
	Status            Status          `json:"status"`
	TotalRecords      int64           `json:"total_records"`
	TotalStreams      int             `json:"total_streams"`
	SuccessfulStreams int             `json:"successful_streams"`
	FailedStreams     int             `json:"failed_streams"`
	DurationMs        int64           `json:"duration_ms"`
	Streams           []StreamSummary `json:"streams"`
}

// Message is the envelope written one-per-line to the output stream.
type Message struct {
	Type             Type                   `json:"type"`
	Record           *Record                `json:"record,omitempty"`
	State            json.RawMessage        `json:"state,omitempty"`
	Log              *Log                   `json:"log,omitempty"`
	ConnectionStatus *ConnectionStatus      `json:"connectionStatus,omitempty"`
	Catalog          *Catalog               `json:"catalog,omitempty"`
	Streams          *StreamsList           `json:"streams,omitempty"`
	Spec             *Spec                  `json:"spec,omitempty"`
	Summary          *SyncSummary      `json:"summary,omitempty"`
}

// Encoder writes newline-delimited Message JSON to an underlying writer.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one Message followed by a newline.
func (e *Encoder) Encode(m Message) error {
	return e.enc.Encode(m)
}

// RecordMessage builds a RECORD message.
func RecordMessage(stream string, data map[string]interface{}, emittedAtMs int64) Message {
	return Message{
		Type: TypeRecord,
		Record: &Record{
			Stream:    stream,
			Data:      data,
			EmittedAt: emittedAtMs,
		},
	}
}

// StateMessage builds a STATE message carrying the full state document.
func StateMessage(state json.RawMessage) Message {
	return Message{Type: TypeState, State: state}
}

// LogMessage builds a LOG message.
func LogMessage(level LogLevel, text string) Message {
	return Message{Type: TypeLog, Log: &Log{Level: level, Message: text}}
}

// ConnectionStatusMessage builds a CONNECTION_STATUS message.
func ConnectionStatusMessage(status Status, msg string) Message {
	return Message{Type: TypeConnectionStatus, ConnectionStatus: &ConnectionStatus{Status: status, Message: msg}}
}

// CatalogMessage builds a CATALOG message.
func CatalogMessage(streams []StreamCatalogEntry) Message {
	return Message{Type: TypeCatalog, Catalog: &Catalog{Streams: streams}}
}

// StreamsMessage builds a STREAMS message.
func StreamsMessage(names []string) Message {
	return Message{Type: TypeStreams, Streams: &StreamsList{Streams: names}}
}

// SyncSummaryMessage builds a SYNC_SUMMARY message.
func SyncSummaryMessage(s SyncSummary) Message {
	return Message{Type: TypeSyncSummary, Summary: &s}
}
