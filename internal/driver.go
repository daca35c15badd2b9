package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcfault/callstream"
	"github.com/arcfault/callstream/calc"
)

// OpenFunc opens one call session for methodName and returns the client
// end of its transport.
type OpenFunc func(ctx context.Context, methodName string) (callstream.Transport, error)

// DriveCalls uses four goroutines to run batches of calls of all four
// patterns (unary, client-, server-, and bidi-streaming) against the
// calculator, opening a fresh session per call through open.
func DriveCalls(ctx context.Context, open OpenFunc) error {
	var done atomic.Bool
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, ctx := errgroup.WithContext(ctx)
	for _, fn := range []func(context.Context, OpenFunc) error{
		driveUnary, driveClientStream, driveServerStream, driveBidi,
	} {
		fn := fn
		grp.Go(func() error {
			for {
				if done.Load() {
					return nil
				}
				if err := fn(ctx, open); err != nil {
					return err
				}
			}
		})
	}
	time.Sleep(5 * time.Second)
	done.Store(true)
	time.AfterFunc(time.Second, cancel)
	return grp.Wait()
}

func driveUnary(ctx context.Context, open OpenFunc) error {
	t, err := open(ctx, calc.MethodAdd)
	if err != nil {
		return err
	}
	c := callstream.NewCaller(t)
	defer c.Close()
	reply, err := c.Invoke(ctx, &calc.BinaryRequest{A: 19, B: 23})
	if err != nil {
		return err
	}
	return checkReply(reply, 42)
}

func driveClientStream(ctx context.Context, open OpenFunc) error {
	t, err := open(ctx, calc.MethodSum)
	if err != nil {
		return err
	}
	c := callstream.NewCaller(t)
	defer c.Close()
	var total float64
	for i := 1; i <= 10; i++ {
		if err := c.Send(ctx, &calc.Sample{Value: float64(i)}); err != nil {
			return err
		}
		total += float64(i)
	}
	reply, err := c.CloseAndReceive(ctx)
	if err != nil {
		return err
	}
	return checkReply(reply, total)
}

func driveServerStream(ctx context.Context, open OpenFunc) error {
	t, err := open(ctx, calc.MethodFibonacci)
	if err != nil {
		return err
	}
	c := callstream.NewCaller(t)
	defer c.Close()
	if err := c.OpenServerStream(ctx, &calc.FibonacciRequest{Count: 10}); err != nil {
		return err
	}
	var terms int
	for {
		payload, err := c.Receive(ctx)
		if errors.Is(err, io.EOF) {
			if terms != 10 {
				return fmt.Errorf("fibonacci stream ended after %d terms, want 10", terms)
			}
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := payload.(*calc.FibonacciTerm); !ok {
			return fmt.Errorf("unexpected stream payload %T", payload)
		}
		terms++
	}
}

func driveBidi(ctx context.Context, open OpenFunc) error {
	t, err := open(ctx, calc.MethodRunning)
	if err != nil {
		return err
	}
	c := callstream.NewCaller(t)
	defer c.Close()

	ops := []*calc.Operation{
		{Op: calc.OpSeed, Operand: 100},
		{Op: calc.OpAdd, Operand: 50},
		{Op: calc.OpMultiply, Operand: 2},
		{Op: calc.OpSubtract, Operand: 100},
		{Op: calc.OpDivide, Operand: 5},
	}
	// the seed produces no update
	want := []float64{150, 300, 200, 40}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		for _, op := range ops {
			if err := c.Send(ctx, op); err != nil {
				return err
			}
		}
		return c.CloseSend()
	})
	grp.Go(func() error {
		var got int
		for {
			payload, err := c.Receive(ctx)
			if errors.Is(err, io.EOF) {
				if got != len(want) {
					return fmt.Errorf("running stream ended after %d updates, want %d", got, len(want))
				}
				return nil
			}
			if err != nil {
				return err
			}
			if got >= len(want) {
				return fmt.Errorf("unexpected extra update %v", payload)
			}
			if err := checkReply(payload, want[got]); err != nil {
				return err
			}
			got++
		}
	})
	return grp.Wait()
}

func checkReply(payload any, want float64) error {
	reply, ok := payload.(*calc.Reply)
	if !ok {
		return fmt.Errorf("unexpected reply payload %T", payload)
	}
	if !reply.Success {
		return fmt.Errorf("calculator reported failure: %s", reply.ErrorMessage)
	}
	if reply.Result != want {
		return fmt.Errorf("wrong result: got %v, want %v", reply.Result, want)
	}
	return nil
}
