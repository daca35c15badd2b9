package callstream

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventKind identifies a session lifecycle transition.
type EventKind int

const (
	// EventStarted is emitted once when a session is constructed, before the
	// handler performs any transport I/O.
	EventStarted EventKind = iota
	// EventInboundHalfClosed is emitted when the peer is done sending.
	EventInboundHalfClosed
	// EventOutboundHalfClosed is emitted when this side is done sending.
	EventOutboundHalfClosed
	// EventCompleted is emitted when a session reaches its Completed state.
	EventCompleted
	// EventFailed is emitted when a session reaches its Failed state.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventInboundHalfClosed:
		return "inbound-half-closed"
	case EventOutboundHalfClosed:
		return "outbound-half-closed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event describes one session lifecycle transition. Events for a single
// session are delivered in transition order; a session emits exactly one
// EventStarted and exactly one terminal event (EventCompleted or
// EventFailed).
type Event struct {
	Kind      EventKind
	SessionID string
	Method    string
	Pattern   Pattern

	// Reason and Err are set only for EventFailed.
	Reason FailureReason
	Err    error
}

// Observer receives session lifecycle events for logging or metrics. The
// engine invokes it synchronously from session goroutines, so it must be
// safe for concurrent use and must not block; it also must not call back
// into the session that emitted the event.
type Observer func(Event)

// LogObserver returns an Observer that writes lifecycle events to the given
// logger as structured entries. Terminal failures log at warn level with the
// failure reason and error attached; everything else logs at debug or info.
func LogObserver(log logrus.FieldLogger) Observer {
	return func(ev Event) {
		entry := log.WithFields(logrus.Fields{
			"session": ev.SessionID,
			"method":  ev.Method,
			"pattern": ev.Pattern.String(),
		})
		switch ev.Kind {
		case EventStarted:
			entry.Info("session started")
		case EventInboundHalfClosed, EventOutboundHalfClosed:
			entry.Debug(ev.Kind.String())
		case EventCompleted:
			entry.Info("session completed")
		case EventFailed:
			entry = entry.WithField("reason", ev.Reason.String())
			if ev.Err != nil {
				entry = entry.WithError(ev.Err)
			}
			entry.Warn("session failed")
		}
	}
}
