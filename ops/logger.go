// Package ops provides the structured logger used across connectkit. It
// follows the shape of estuary/flow's go/ops.LocalPublisher: a small
// interface backed by logrus, except that every call also surfaces a
// message.Log so that runs honor LOG message contract.
package ops

import (
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/flowbridge/connectkit/message"
)

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Logger is implemented by anything that can record a structured log line
// and, in the same call, hand it to a sink (e.g. a message encoder).
type Logger interface {
	Log(level message.LogLevel, fields log.Fields, msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sink receives every log line a Logger produces, in addition to logrus.
// engine.Engine implements this to fold logs into the output message stream.
type Sink interface {
	Emit(message.Message)
}

// nopSink discards messages; used when no Sink is configured.
type nopSink struct{}

func (nopSink) Emit(message.Message) {}

// Local is a Logger that writes to logrus's standard logger and forwards
// every line to an attached Sink.
type Local struct {
	sink   Sink
	source string
	runID  string
}

// NewLocal returns a Local logger tagged with the given source (e.g. a
// connector name), forwarding every log line to sink. A nil sink is
// replaced with a no-op. Every line carries a fresh run_id, letting a
// multi-connector supervisor correlate log lines back to the run that
// emitted them.
func NewLocal(source string, sink Sink) *Local {
	if sink == nil {
		sink = nopSink{}
	}
	return &Local{sink: sink, source: source, runID: uuid.New().String()}
}

func (l *Local) Log(level message.LogLevel, fields log.Fields, msg string) {
	if fields == nil {
		fields = log.Fields{}
	}
	fields["source"] = l.source
	fields["run_id"] = l.runID

	log.WithFields(fields).Log(logrusLevel(level), msg)
	l.sink.Emit(message.LogMessage(level, msg))
}

func (l *Local) Debugf(format string, args ...interface{}) {
	l.Log(message.LogLevelDebug, nil, sprintf(format, args...))
}
func (l *Local) Infof(format string, args ...interface{}) {
	l.Log(message.LogLevelInfo, nil, sprintf(format, args...))
}
func (l *Local) Warnf(format string, args ...interface{}) {
	l.Log(message.LogLevelWarn, nil, sprintf(format, args...))
}
func (l *Local) Errorf(format string, args ...interface{}) {
	l.Log(message.LogLevelError, nil, sprintf(format, args...))
}

func logrusLevel(l message.LogLevel) log.Level {
	switch l {
	case message.LogLevelDebug:
		return log.DebugLevel
	case message.LogLevelInfo:
		return log.InfoLevel
	case message.LogLevelWarn:
		return log.WarnLevel
	default: // LogLevelError
		return log.ErrorLevel
	}
}
