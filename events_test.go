package callstream

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogObserver(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	obs := LogObserver(logger)

	obs(Event{Kind: EventStarted, SessionID: "s1", Method: "calculator/add", Pattern: Unary})
	obs(Event{Kind: EventInboundHalfClosed, SessionID: "s1", Method: "calculator/add", Pattern: Unary})
	obs(Event{
		Kind:      EventFailed,
		SessionID: "s1",
		Method:    "calculator/add",
		Pattern:   Unary,
		Reason:    ReasonCancelled,
		Err:       errors.New("context canceled"),
	})

	entries := hook.AllEntries()
	require.Len(t, entries, 3)

	started := entries[0]
	assert.Equal(t, logrus.InfoLevel, started.Level)
	assert.Equal(t, "session started", started.Message)
	assert.Equal(t, "s1", started.Data["session"])
	assert.Equal(t, "calculator/add", started.Data["method"])
	assert.Equal(t, "unary", started.Data["pattern"])

	assert.Equal(t, logrus.DebugLevel, entries[1].Level)

	failed := entries[2]
	assert.Equal(t, logrus.WarnLevel, failed.Level)
	assert.Equal(t, "session failed", failed.Message)
	assert.Equal(t, "cancelled", failed.Data["reason"])
	loggedErr, ok := failed.Data[logrus.ErrorKey].(error)
	require.True(t, ok, "failed entry carries no error field")
	assert.EqualError(t, loggedErr, "context canceled")
}

func TestEventKindStrings(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventStarted:            "started",
		EventInboundHalfClosed:  "inbound-half-closed",
		EventOutboundHalfClosed: "outbound-half-closed",
		EventCompleted:          "completed",
		EventFailed:             "failed",
	} {
		assert.Equal(t, want, kind.String())
	}
}
