package callstream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lithammer/shortuuid/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// State is the lifecycle state of a CallSession. A session is created Active,
// may pass through the half-closed states as each direction finishes, and
// reaches exactly one of the terminal states Completed or Failed. Terminal
// states are sticky: no transition ever leaves them.
type State int

const (
	// Active means both directions of the session are open.
	Active State = iota
	// InboundHalfClosed means the peer has signaled it is done sending.
	InboundHalfClosed
	// OutboundHalfClosed means this side has signaled it is done sending.
	OutboundHalfClosed
	// Completed is the successful terminal state. Application-level failures
	// carried as response payloads still complete the session.
	Completed
	// Failed is the unsuccessful terminal state; the session records a
	// FailureReason and the underlying error.
	Failed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case InboundHalfClosed:
		return "inbound-half-closed"
	case OutboundHalfClosed:
		return "outbound-half-closed"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) terminal() bool {
	return s == Completed || s == Failed
}

// CallSession owns one Transport for the lifetime of one call and drives it
// through the choreography of the session's pattern. Sessions are created by
// a Dispatcher, reach exactly one terminal state, close their transport, and
// are then discarded; they are never reused or pooled.
//
// All exported methods are safe for concurrent use.
type CallSession struct {
	id      string
	method  string
	pattern Pattern

	ctx       context.Context
	cancelCtx context.CancelFunc
	transport Transport
	observer  Observer
	errEnc    func(error) any

	// for sending; only the handler's write path touches these
	sendMu  sync.Mutex
	nextSeq uint64

	// for receiving; only the handler's read path touches this
	lastInboundSeq uint64

	// lifecycle state; guarded by mu, with done closed on the one
	// terminal transition
	mu     sync.Mutex
	state  State
	reason FailureReason
	err    error
	done   chan struct{}
}

func newSession(ctx context.Context, method string, pattern Pattern, t Transport, obs Observer, errEnc func(error) any) *CallSession {
	ctx, cancel := context.WithCancel(ctx)
	s := &CallSession{
		id:        shortuuid.New(),
		method:    method,
		pattern:   pattern,
		ctx:       ctx,
		cancelCtx: cancel,
		transport: t,
		observer:  obs,
		errEnc:    errEnc,
		state:     Active,
		done:      make(chan struct{}),
	}
	s.ctx = withSession(s.ctx, s)
	return s
}

// ID returns the session's unique identifier.
func (s *CallSession) ID() string { return s.id }

// Method returns the method name the session was dispatched for.
func (s *CallSession) Method() string { return s.method }

// Pattern returns the call pattern the session is locked to.
func (s *CallSession) Pattern() Pattern { return s.pattern }

// Context returns the session's context. It is canceled when the session
// reaches a terminal state or when Cancel is called.
func (s *CallSession) Context() context.Context { return s.ctx }

// State returns the session's current lifecycle state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason returns why the session failed, or ReasonNone if the session
// has not (yet) failed.
func (s *CallSession) FailureReason() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the error that failed the session. It returns nil while the
// session is still running and nil after a session completed normally.
func (s *CallSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel that is closed once the session reaches a terminal
// state.
func (s *CallSession) Done() <-chan struct{} { return s.done }

// Wait blocks until the session reaches a terminal state or ctx is done. It
// returns the session error (nil for Completed) or the context error.
func (s *CallSession) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the session. Handler loops
// observe it at their next suspension point and the session transitions to
// Failed with ReasonCancelled. Canceling a terminal session is a no-op.
// Cancel is the hook hosts use to enforce timeout or shutdown policy; the
// engine itself imposes no deadlines.
func (s *CallSession) Cancel() {
	s.cancelCtx()
}

// send assigns the next outbound sequence number and writes one payload to
// the transport. I/O failures come back as status errors so finish can
// derive the failure reason.
func (s *CallSession) send(ctx context.Context, payload any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := ctx.Err(); err != nil {
		return status.Error(codes.Canceled, err.Error())
	}
	s.nextSeq++
	if err := s.transport.Send(ctx, NewMessage(Outbound, s.nextSeq, payload)); err != nil {
		return wrapIOError(err)
	}
	return nil
}

// receive reads the next inbound message, enforcing the ordering contract:
// a sequence number lower than one already delivered is a protocol
// violation. io.EOF is returned as-is; handlers treat it as the end of the
// inbound direction, and the session records the half-close.
func (s *CallSession) receive(ctx context.Context) (Message, error) {
	msg, err := s.transport.Receive(ctx)
	if err != nil {
		if err == io.EOF {
			s.markInboundHalfClosed()
			return Message{}, io.EOF
		}
		return Message{}, wrapIOError(err)
	}
	if msg.Seq() < s.lastInboundSeq {
		return Message{}, status.Errorf(codes.InvalidArgument,
			"inbound sequence regressed: received %d after %d", msg.Seq(), s.lastInboundSeq)
	}
	s.lastInboundSeq = msg.Seq()
	return msg, nil
}

// closeSend half-closes the outbound direction after the handler has sent
// its last message.
func (s *CallSession) closeSend() error {
	if err := s.transport.CloseSend(); err != nil {
		return wrapIOError(err)
	}
	s.markOutboundHalfClosed()
	return nil
}

func (s *CallSession) markInboundHalfClosed() {
	s.transition(InboundHalfClosed, EventInboundHalfClosed)
}

func (s *CallSession) markOutboundHalfClosed() {
	s.transition(OutboundHalfClosed, EventOutboundHalfClosed)
}

func (s *CallSession) transition(next State, kind EventKind) {
	s.mu.Lock()
	if s.state.terminal() || s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	s.emit(kind)
}

// serve runs the pattern handler to completion, converting panics in
// business functions into internal errors rather than letting them tear
// down the process.
func (s *CallSession) serve(h handler, m *method) {
	var err error
	panicked := true // pessimistic assumption

	defer func() {
		if p := recover(); p != nil {
			err = status.Errorf(codes.Internal, "handler panic in %s: %v", s.method, p)
		} else if err == nil && panicked {
			// runtime.Goexit mid-handler; the session must still terminate
			err = status.Errorf(codes.Internal, "handler in %s exited without returning", s.method)
		}
		s.finish(err)
	}()

	err = h.run(s.ctx, s, m)
	// if we get here, we did not panic
	panicked = false
}

// finish performs the session's single terminal transition: records the
// outcome, closes the transport exactly once, cancels the session context,
// and emits the terminal event. Subsequent calls are no-ops.
func (s *CallSession) finish(err error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	kind := EventCompleted
	if err != nil {
		s.state = Failed
		s.reason = reasonFor(err)
		s.err = err
		kind = EventFailed
	} else {
		s.state = Completed
	}
	s.mu.Unlock()

	// Close is idempotent, but the terminal gate above means the session
	// itself calls it exactly once.
	_ = s.transport.Close()
	s.cancelCtx()
	// the terminal event is delivered before Done becomes observable
	s.emit(kind)
	close(s.done)
}

func (s *CallSession) emit(kind EventKind) {
	if s.observer == nil {
		return
	}
	ev := Event{
		Kind:      kind,
		SessionID: s.id,
		Method:    s.method,
		Pattern:   s.pattern,
	}
	if kind == EventFailed {
		s.mu.Lock()
		ev.Reason = s.reason
		ev.Err = s.err
		s.mu.Unlock()
	}
	s.observer(ev)
}
