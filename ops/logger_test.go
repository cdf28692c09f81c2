package ops

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/connectkit/message"
)

type recordingSink struct {
	messages []message.Message
}

func (s *recordingSink) Emit(m message.Message) {
	s.messages = append(s.messages, m)
}

func TestNewLocalAssignsDistinctRunIDPerInstance(t *testing.T) {
	var a = NewLocal("widgets", nil)
	var b = NewLocal("widgets", nil)
	require.NotEmpty(t, a.runID)
	require.NotEmpty(t, b.runID)
	require.NotEqual(t, a.runID, b.runID, "each run gets its own correlation id")
}

func TestLocalLogStampsSourceAndRunIDOnEveryCall(t *testing.T) {
	var l = NewLocal("widgets", nil)

	var fields log.Fields
	l.Log(message.LogLevelInfo, nil, "hello")
	fields = log.Fields{"custom": "value"}
	l.Log(message.LogLevelInfo, fields, "world")

	require.Equal(t, "value", fields["custom"])
	require.Equal(t, "widgets", fields["source"])
	require.Equal(t, l.runID, fields["run_id"])
}

func TestLocalForwardsEveryLogLineToItsSink(t *testing.T) {
	var sink = &recordingSink{}
	var l = NewLocal("widgets", sink)

	l.Infof("starting sync for %s", "widgets")
	l.Warnf("retrying")
	l.Errorf("failed: %v", "boom")

	require.Len(t, sink.messages, 3)
	require.Equal(t, message.TypeLog, sink.messages[0].Type)
	require.Equal(t, message.LogLevelInfo, sink.messages[0].Log.Level)
	require.Equal(t, "starting sync for widgets", sink.messages[0].Log.Message)
	require.Equal(t, message.LogLevelWarn, sink.messages[1].Log.Level)
	require.Equal(t, message.LogLevelError, sink.messages[2].Log.Level)
}

func TestNewLocalReplacesNilSinkWithNoop(t *testing.T) {
	var l = NewLocal("widgets", nil)
	require.NotPanics(t, func() {
		l.Infof("no sink attached")
	})
}
