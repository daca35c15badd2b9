package callstream

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// handler drives one call session's choreography to completion. The four
// pattern handlers are a closed set, selected once at dispatch; each call of
// run owns the session's transport until it returns.
type handler interface {
	run(ctx context.Context, s *CallSession, m *method) error
}

func handlerFor(p Pattern) handler {
	switch p {
	case Unary:
		return unaryHandler{}
	case ServerStream:
		return serverStreamHandler{}
	case ClientStream:
		return clientStreamHandler{}
	case Bidirectional:
		return bidiHandler{}
	}
	return nil
}

// unaryHandler receives exactly one request, runs the business function, and
// sends exactly one response. A business-function error becomes an
// error-flagged response payload; the session still completes normally.
type unaryHandler struct{}

func (unaryHandler) run(ctx context.Context, s *CallSession, m *method) error {
	req, err := s.receive(ctx)
	if err != nil {
		if err == io.EOF {
			return status.Errorf(codes.InvalidArgument, "%s: peer half-closed before sending a request", s.method)
		}
		return err
	}
	s.markInboundHalfClosed()

	resp, appErr := m.unary(ctx, req.Payload())
	if appErr != nil {
		resp = s.errEnc(appErr)
	}
	return s.send(ctx, resp)
}

// serverStreamHandler receives exactly one request and then emits response
// chunks as the producer yields them, so memory stays bounded by one
// outstanding chunk instead of the whole response set. If the peer cancels
// mid-stream the next send fails and the producer is cut off.
type serverStreamHandler struct{}

func (serverStreamHandler) run(ctx context.Context, s *CallSession, m *method) error {
	req, err := s.receive(ctx)
	if err != nil {
		if err == io.EOF {
			return status.Errorf(codes.InvalidArgument, "%s: peer half-closed before sending a request", s.method)
		}
		return err
	}
	s.markInboundHalfClosed()

	// emit latches the first send failure so a producer that ignores emit
	// errors still stops reaching the transport.
	var sendErr error
	emit := func(item any) error {
		if sendErr != nil {
			return sendErr
		}
		sendErr = s.send(ctx, item)
		return sendErr
	}

	if err := m.produce(ctx, req.Payload(), emit); err != nil {
		if sendErr != nil {
			// the producer surfaced our own send failure; the session
			// failed, the business function did not
			return sendErr
		}
		// A producer failure after some items were already delivered must
		// not invalidate them: it ends the stream with a distinguishable
		// error payload instead of tearing the transport down.
		if err := s.send(ctx, s.errEnc(err)); err != nil {
			return err
		}
	}
	if sendErr != nil {
		return sendErr
	}
	return s.closeSend()
}

// clientStreamHandler folds every inbound message into the accumulator and
// answers with a single response only after the peer half-closes. A peer
// that half-closes without sending anything still gets a response: the
// fold's initial value.
type clientStreamHandler struct{}

func (clientStreamHandler) run(ctx context.Context, s *CallSession, m *method) error {
	acc := m.accumulate()
	var appErr error
	for {
		msg, err := s.receive(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if appErr != nil {
			// a failed fold already decided the response; keep draining so
			// the response is still withheld until the peer half-closes
			continue
		}
		next, err := m.fold(ctx, acc, msg.Payload())
		if err != nil {
			appErr = err
			continue
		}
		acc = next
	}

	resp := acc
	if appErr != nil {
		resp = s.errEnc(appErr)
	}
	return s.send(ctx, resp)
}

// bidiHandler runs a read loop and a write loop concurrently over one
// session. The read loop folds each inbound message into the accumulator
// and hands the updated snapshot to the write loop through an unbuffered
// channel, so there is exactly one response per accumulator update, in
// processing order, and no response for a state the accumulator never held.
// The first inbound message seeds the accumulator without producing a
// response.
//
// The session finishes only after the read loop has observed the peer's
// half-close and the write loop has flushed every pending response and
// half-closed the outbound direction.
type bidiHandler struct{}

func (bidiHandler) run(ctx context.Context, s *CallSession, m *method) error {
	updates := make(chan any)
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() (err error) {
		// read loop: the only writer of the accumulator
		defer close(updates)
		defer func() {
			// a fold panic happens on this goroutine, out of reach of the
			// session's own guard
			if p := recover(); p != nil {
				err = status.Errorf(codes.Internal, "handler panic in %s: %v", s.method, p)
			}
		}()
		acc := m.accumulate()
		seeded := false
		for {
			msg, err := s.receive(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			next, appErr := m.fold(gctx, acc, msg.Payload())
			if appErr != nil {
				// a fold failure ends the stream with a distinguishable
				// error payload; responses already sent stand
				select {
				case updates <- s.errEnc(appErr):
				case <-gctx.Done():
				}
				return nil
			}
			acc = next
			if !seeded {
				// the first message only seeds the accumulator
				seeded = true
				continue
			}
			select {
			case updates <- acc:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	grp.Go(func() error {
		// write loop: drains every snapshot the read loop handed off, then
		// half-closes outbound
		for item := range updates {
			if err := s.send(gctx, item); err != nil {
				return err
			}
		}
		return s.closeSend()
	})

	return grp.Wait()
}
