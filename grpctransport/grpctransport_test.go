package grpctransport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fullstorydev/grpchan/inprocgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/arcfault/callstream"
	"github.com/arcfault/callstream/calc"
)

func newDispatcher(options ...callstream.Option) *callstream.Dispatcher {
	reg := callstream.NewRegistry()
	calc.Register(reg)
	options = append(options, callstream.WithErrorEncoder(calc.EncodeError))
	return callstream.NewDispatcher(reg, options...)
}

func TestOverInProcessChannel(t *testing.T) {
	var ch inprocgrpc.Channel
	NewHandler(newDispatcher()).Register(&ch)
	runCallPatterns(t, &ch)
}

func TestOverTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	gs := grpc.NewServer()
	NewHandler(newDispatcher()).Register(gs)
	go func() {
		if err := gs.Serve(l); err != nil {
			t.Logf("error from grpc server: %v", err)
		}
	}()
	defer gs.Stop()

	cc, err := grpc.Dial(l.Addr().String(), grpc.WithBlock(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer func() {
		_ = cc.Close()
	}()

	runCallPatterns(t, cc)
}

// runCallPatterns drives one session of each pattern over ch, plus the
// rejection paths for unknown and missing method names.
func runCallPatterns(t *testing.T, ch grpc.ClientConnInterface) {
	ctx := context.Background()

	t.Run("unary", func(t *testing.T) {
		c := openCaller(t, ch, calc.MethodAdd)
		resp, err := c.Invoke(ctx, &calc.BinaryRequest{A: 10, B: 5})
		if err != nil {
			t.Fatalf("invoke failed: %v", err)
		}
		reply, ok := resp.(*calc.Reply)
		if !ok {
			t.Fatalf("unexpected response type %T", resp)
		}
		if !reply.Success || reply.Result != 15 {
			t.Errorf("got %+v, want successful result 15", reply)
		}
	})

	t.Run("server-stream", func(t *testing.T) {
		c := openCaller(t, ch, calc.MethodFibonacci)
		if err := c.OpenServerStream(ctx, &calc.FibonacciRequest{Count: 10}); err != nil {
			t.Fatalf("failed to open stream: %v", err)
		}
		want := []uint64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34}
		for i := 0; ; i++ {
			resp, err := c.Receive(ctx)
			if err == io.EOF {
				if i != len(want) {
					t.Errorf("stream ended after %d terms, want %d", i, len(want))
				}
				break
			}
			if err != nil {
				t.Fatalf("receive failed: %v", err)
			}
			term, ok := resp.(*calc.FibonacciTerm)
			if !ok {
				t.Fatalf("unexpected response type %T", resp)
			}
			if i >= len(want) || term.Value != want[i] {
				t.Errorf("term %d = %d, want %d", i, term.Value, want[i])
			}
		}
	})

	t.Run("client-stream", func(t *testing.T) {
		c := openCaller(t, ch, calc.MethodSum)
		for i := 1; i <= 10; i++ {
			if err := c.Send(ctx, &calc.Sample{Value: float64(i)}); err != nil {
				t.Fatalf("send failed: %v", err)
			}
		}
		resp, err := c.CloseAndReceive(ctx)
		if err != nil {
			t.Fatalf("close-and-receive failed: %v", err)
		}
		if reply := resp.(*calc.Reply); reply.Result != 55 {
			t.Errorf("sum = %v, want 55", reply.Result)
		}
	})

	t.Run("bidirectional", func(t *testing.T) {
		c := openCaller(t, ch, calc.MethodRunning)
		ops := []*calc.Operation{
			{Op: calc.OpSeed, Operand: 100},
			{Op: calc.OpAdd, Operand: 50},
			{Op: calc.OpMultiply, Operand: 2},
			{Op: calc.OpSubtract, Operand: 100},
			{Op: calc.OpDivide, Operand: 5},
		}
		for _, op := range ops {
			if err := c.Send(ctx, op); err != nil {
				t.Fatalf("send failed: %v", err)
			}
		}
		if err := c.CloseSend(); err != nil {
			t.Fatalf("close-send failed: %v", err)
		}
		want := []float64{150, 300, 200, 40}
		var got []float64
		for {
			resp, err := c.Receive(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("receive failed: %v", err)
			}
			got = append(got, resp.(*calc.Reply).Result)
		}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("response %d = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("unknown-method", func(t *testing.T) {
		// the send side may win the race with the server's rejection, so the
		// status is observed through Receive rather than Invoke
		c := openCaller(t, ch, "calculator/no-such-method")
		_, err := c.Receive(ctx)
		if status.Code(err) != codes.Unimplemented {
			t.Errorf("got error %v, want code %v", err, codes.Unimplemented)
		}
	})

	t.Run("missing-method", func(t *testing.T) {
		c := openCaller(t, ch, "")
		_, err := c.Receive(ctx)
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("got error %v, want code %v", err, codes.InvalidArgument)
		}
	})
}

func openCaller(t *testing.T, ch grpc.ClientConnInterface, methodName string) *callstream.Caller {
	t.Helper()
	tr, err := Open(context.Background(), ch, methodName)
	if err != nil {
		t.Fatalf("failed to open transport: %v", err)
	}
	c := callstream.NewCaller(tr)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCloseCancelsSession(t *testing.T) {
	events := make(chan callstream.Event, 16)
	d := newDispatcher(callstream.WithObserver(func(ev callstream.Event) {
		events <- ev
	}))
	var ch inprocgrpc.Channel
	NewHandler(d).Register(&ch)

	ctx := context.Background()
	tr, err := Open(ctx, &ch, calc.MethodFibonacci)
	if err != nil {
		t.Fatalf("failed to open transport: %v", err)
	}
	c := callstream.NewCaller(tr)
	if err := c.OpenServerStream(ctx, &calc.FibonacciRequest{Count: 1 << 20}); err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.Receive(ctx); err != nil {
			t.Fatalf("receive failed: %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != callstream.EventFailed {
				continue
			}
			if ev.Reason != callstream.ReasonCancelled {
				t.Errorf("session failed with reason %v, want %v", ev.Reason, callstream.ReasonCancelled)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for the session to observe the disconnect")
		}
	}
}
