package calc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfault/callstream"
)

func newDispatcher() *callstream.Dispatcher {
	reg := callstream.NewRegistry()
	Register(reg)
	return callstream.NewDispatcher(reg, callstream.WithErrorEncoder(EncodeError))
}

// startSession dispatches one calculator session over an in-process pipe
// and returns the client caller plus a function that yields the server
// session once dispatch has returned.
func startSession(t *testing.T, methodName string) (*callstream.Caller, func() *callstream.CallSession) {
	t.Helper()
	server, client := callstream.Pipe(0)
	sessCh := make(chan *callstream.CallSession, 1)
	go func() {
		sessCh <- newDispatcher().Dispatch(context.Background(), methodName, server)
	}()
	c := callstream.NewCaller(client)
	t.Cleanup(func() { _ = c.Close() })
	return c, func() *callstream.CallSession { return <-sessCh }
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodAdd)

	resp, err := c.Invoke(ctx, &BinaryRequest{A: 10, B: 5})
	require.NoError(t, err)
	reply, ok := resp.(*Reply)
	require.True(t, ok, "unexpected response type %T", resp)
	assert.True(t, reply.Success)
	assert.Equal(t, 15.0, reply.Result)

	sess := sessionOf()
	require.NoError(t, sess.Wait(ctx))
	assert.Equal(t, callstream.Completed, sess.State())
}

func TestDivideByZeroIsBusinessFailure(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodDivide)

	resp, err := c.Invoke(ctx, &BinaryRequest{A: 10, B: 0})
	require.NoError(t, err)
	reply, ok := resp.(*Reply)
	require.True(t, ok, "unexpected response type %T", resp)
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.ErrorMessage)

	// a business failure is data, not a session failure
	sess := sessionOf()
	require.NoError(t, sess.Wait(ctx))
	assert.Equal(t, callstream.Completed, sess.State())
	assert.Equal(t, callstream.ReasonNone, sess.FailureReason())
}

func TestFibonacciStream(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodFibonacci)

	require.NoError(t, c.OpenServerStream(ctx, &FibonacciRequest{Count: 10}))

	want := []uint64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34}
	var got int
	for {
		resp, err := c.Receive(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		term, ok := resp.(*FibonacciTerm)
		require.True(t, ok, "unexpected response type %T", resp)
		require.Less(t, got, len(want))
		assert.Equal(t, uint32(got), term.Index)
		assert.Equal(t, want[got], term.Value)
		got++
	}
	assert.Equal(t, len(want), got)
	require.NoError(t, sessionOf().Wait(ctx))
}

func TestFibonacciCancelMidStream(t *testing.T) {
	ctx := context.Background()
	server, client := callstream.Pipe(1)
	sess := newDispatcher().Dispatch(ctx, MethodFibonacci, server)

	c := callstream.NewCaller(client)
	defer c.Close()
	require.NoError(t, c.OpenServerStream(ctx, &FibonacciRequest{Count: 10}))
	for i := 0; i < 3; i++ {
		_, err := c.Receive(ctx)
		require.NoError(t, err)
	}
	sess.Cancel()

	require.Error(t, sess.Wait(ctx))
	assert.Equal(t, callstream.Failed, sess.State())
	assert.Equal(t, callstream.ReasonCancelled, sess.FailureReason())

	// the stream ends early; far fewer than the requested 10 terms arrive
	terms := 3
	for {
		if _, err := c.Receive(ctx); err != nil {
			break
		}
		terms++
	}
	assert.Less(t, terms, 10)
}

func TestSumClientStream(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodSum)

	for _, v := range []float64{10.5, 20.3, 15.7, 8.2, 12.1} {
		require.NoError(t, c.Send(ctx, &Sample{Value: v}))
	}

	// no response before the half-close
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err := c.Receive(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	resp, err := c.CloseAndReceive(ctx)
	require.NoError(t, err)
	reply, ok := resp.(*Reply)
	require.True(t, ok, "unexpected response type %T", resp)
	assert.True(t, reply.Success)
	assert.InDelta(t, 66.8, reply.Result, 1e-9)

	require.NoError(t, sessionOf().Wait(ctx))
}

func TestSumEmptyStream(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodSum)

	resp, err := c.CloseAndReceive(ctx)
	require.NoError(t, err)
	reply, ok := resp.(*Reply)
	require.True(t, ok, "unexpected response type %T", resp)
	assert.True(t, reply.Success)
	assert.Zero(t, reply.Result)

	require.NoError(t, sessionOf().Wait(ctx))
}

func TestRunningCalculator(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodRunning)

	ops := []*Operation{
		{Op: OpSeed, Operand: 100},
		{Op: OpAdd, Operand: 50},
		{Op: OpMultiply, Operand: 2},
		{Op: OpSubtract, Operand: 100},
		{Op: OpDivide, Operand: 5},
	}
	for _, op := range ops {
		require.NoError(t, c.Send(ctx, op))
	}
	require.NoError(t, c.CloseSend())

	// one response per operation after the seed, in order
	want := []float64{150, 300, 200, 40}
	var got []float64
	for {
		resp, err := c.Receive(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		reply, ok := resp.(*Reply)
		require.True(t, ok, "unexpected response type %T", resp)
		require.True(t, reply.Success, "unexpected failure: %s", reply.ErrorMessage)
		got = append(got, reply.Result)
	}
	assert.Equal(t, want, got)

	require.NoError(t, sessionOf().Wait(ctx))
}

func TestRunningCalculatorDivideByZero(t *testing.T) {
	ctx := context.Background()
	c, sessionOf := startSession(t, MethodRunning)

	require.NoError(t, c.Send(ctx, &Operation{Op: OpSeed, Operand: 10}))
	require.NoError(t, c.Send(ctx, &Operation{Op: OpAdd, Operand: 5}))
	require.NoError(t, c.Send(ctx, &Operation{Op: OpDivide, Operand: 0}))

	first, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15.0, first.(*Reply).Result)

	// the failed operation ends the stream with an error-flagged reply
	second, err := c.Receive(ctx)
	require.NoError(t, err)
	errReply := second.(*Reply)
	assert.False(t, errReply.Success)
	assert.NotEmpty(t, errReply.ErrorMessage)

	_, err = c.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)

	sess := sessionOf()
	require.NoError(t, sess.Wait(ctx))
	assert.Equal(t, callstream.Completed, sess.State())
}

func TestRunningCalculatorSessionIsolation(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()

	openRunning := func() *callstream.Caller {
		server, client := callstream.Pipe(0)
		d.Dispatch(ctx, MethodRunning, server)
		c := callstream.NewCaller(client)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	first := openRunning()
	second := openRunning()

	require.NoError(t, first.Send(ctx, &Operation{Op: OpSeed, Operand: 100}))
	require.NoError(t, second.Send(ctx, &Operation{Op: OpSeed, Operand: 1000}))

	// interleave operations; each session folds only its own stream
	steps := []struct {
		c    *callstream.Caller
		op   *Operation
		want float64
	}{
		{first, &Operation{Op: OpAdd, Operand: 1}, 101},
		{second, &Operation{Op: OpAdd, Operand: 1}, 1001},
		{first, &Operation{Op: OpMultiply, Operand: 2}, 202},
		{second, &Operation{Op: OpSubtract, Operand: 1}, 1000},
	}
	for _, step := range steps {
		require.NoError(t, step.c.Send(ctx, step.op))
		resp, err := step.c.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.want, resp.(*Reply).Result)
	}
}

func TestApplyRejectsUnknownOp(t *testing.T) {
	_, err := Apply(context.Background(), &Reply{}, &Operation{Op: "modulo", Operand: 3})
	assert.ErrorContains(t, err, "unknown operation")
}

func TestSumReturnsFreshSnapshots(t *testing.T) {
	acc := &Reply{Success: true}
	next, err := Sum(context.Background(), acc, &Sample{Value: 7})
	require.NoError(t, err)
	assert.NotSame(t, acc, next)
	assert.Zero(t, acc.Result)
	assert.Equal(t, 7.0, next.(*Reply).Result)
}
