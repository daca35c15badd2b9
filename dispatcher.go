package callstream

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Dispatcher starts a CallSession for each inbound call, selecting the
// pattern handler the method was registered with. It never interprets
// message payloads.
//
// See NewDispatcher.
type Dispatcher struct {
	registry *Registry
	opts     dispatcherOpts
}

// NewDispatcher creates a Dispatcher serving the methods in registry.
func NewDispatcher(registry *Registry, options ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		opts:     dispatcherOpts{errEnc: defaultErrorEncoder},
	}
	for _, opt := range options {
		opt.apply(&d.opts)
	}
	return d
}

// Dispatch constructs a session bound to t for one inbound call of the
// given method and hands control to the method's pattern handler. The
// transport belongs exclusively to the returned session from here on.
//
// Unary methods run synchronously: Dispatch returns their session already
// terminal. Streaming methods run in their own goroutine; use Wait or Done
// to observe completion, and Cancel to stop the session early.
//
// An unregistered method, or a method record carrying a pattern no handler
// serves, is rejected before any transport I/O: the returned session is
// already Failed with ReasonUnsupportedPattern and the transport has been
// released.
func (d *Dispatcher) Dispatch(ctx context.Context, methodName string, t Transport) *CallSession {
	m, ok := d.registry.lookup(methodName)
	if !ok {
		return d.reject(ctx, methodName, patternUnknown, t,
			status.Errorf(codes.Unimplemented, "method %s not registered", methodName))
	}
	if !m.pattern.valid() {
		return d.reject(ctx, methodName, m.pattern, t,
			status.Errorf(codes.Unimplemented, "method %s: unsupported pattern %s", methodName, m.pattern))
	}

	s := newSession(ctx, methodName, m.pattern, t, d.opts.observer, d.opts.errEnc)
	s.emit(EventStarted)
	if d.opts.sessionHook != nil {
		d.opts.sessionHook(s)
	}

	h := handlerFor(m.pattern)
	if m.pattern == Unary {
		s.serve(h, m)
		return s
	}
	go s.serve(h, m)
	return s
}

// reject terminates a call without touching the transport's I/O operations.
// The session still owns the transport, so finishing it releases the
// transport exactly once.
func (d *Dispatcher) reject(ctx context.Context, methodName string, p Pattern, t Transport, err error) *CallSession {
	s := newSession(ctx, methodName, p, t, d.opts.observer, d.opts.errEnc)
	s.emit(EventStarted)
	if d.opts.sessionHook != nil {
		d.opts.sessionHook(s)
	}
	s.finish(err)
	return s
}
