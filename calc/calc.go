// Package calc contains the calculator services the engine demonstration
// runs over all four call patterns: unary arithmetic, a Fibonacci stream, a
// running sum, and a bidirectional running calculator. Failures like
// division by zero are business outcomes, reported through the Reply
// success flag rather than as session errors.
package calc

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/arcfault/callstream"
)

// Method names the calculator registers, one per call pattern plus the
// four unary operations.
const (
	MethodAdd       = "calculator/add"
	MethodSubtract  = "calculator/subtract"
	MethodMultiply  = "calculator/multiply"
	MethodDivide    = "calculator/divide"
	MethodFibonacci = "calculator/fibonacci"
	MethodSum       = "calculator/sum"
	MethodRunning   = "calculator/running"
)

// BinaryRequest is the request of the unary arithmetic methods.
type BinaryRequest struct {
	A float64
	B float64
}

// Reply is the calculator's response payload. Business failures arrive as
// Success=false with ErrorMessage set; the session itself still completes.
type Reply struct {
	Result       float64
	Success      bool
	ErrorMessage string
}

// FibonacciRequest asks for the first Count terms of the sequence.
type FibonacciRequest struct {
	Count uint32
}

// FibonacciTerm is one term of the Fibonacci stream.
type FibonacciTerm struct {
	Index uint32
	Value uint64
}

// Sample is one value of the running-sum request stream.
type Sample struct {
	Value float64
}

// Operation is one step of the bidirectional running calculator. The first
// operation of a session should be OpSeed, which sets the running value
// without producing a response.
type Operation struct {
	Op      string
	Operand float64
}

// Operations understood by the running calculator.
const (
	OpSeed     = "seed"
	OpAdd      = "add"
	OpSubtract = "subtract"
	OpMultiply = "multiply"
	OpDivide   = "divide"
)

func init() {
	// payloads cross the gob-encoded transports as interface values
	gob.Register(&BinaryRequest{})
	gob.Register(&Reply{})
	gob.Register(&FibonacciRequest{})
	gob.Register(&FibonacciTerm{})
	gob.Register(&Sample{})
	gob.Register(&Operation{})
}

// Register installs the calculator methods into reg.
func Register(reg *callstream.Registry) {
	reg.RegisterUnary(MethodAdd, Add)
	reg.RegisterUnary(MethodSubtract, Subtract)
	reg.RegisterUnary(MethodMultiply, Multiply)
	reg.RegisterUnary(MethodDivide, Divide)
	reg.RegisterServerStream(MethodFibonacci, Fibonacci)
	reg.RegisterClientStream(MethodSum, NewSum, Sum)
	reg.RegisterBidirectional(MethodRunning, NewRunningTotal, Apply)
}

// EncodeError reports a business-function error as a calculator Reply, for
// use with callstream.WithErrorEncoder.
func EncodeError(err error) any {
	return &Reply{Success: false, ErrorMessage: err.Error()}
}

// Add returns a+b.
func Add(_ context.Context, req any) (any, error) {
	return binary(req, func(a, b float64) (float64, error) {
		return a + b, nil
	})
}

// Subtract returns a-b.
func Subtract(_ context.Context, req any) (any, error) {
	return binary(req, func(a, b float64) (float64, error) {
		return a - b, nil
	})
}

// Multiply returns a*b.
func Multiply(_ context.Context, req any) (any, error) {
	return binary(req, func(a, b float64) (float64, error) {
		return a * b, nil
	})
}

// Divide returns a/b, failing on a zero divisor.
func Divide(_ context.Context, req any) (any, error) {
	return binary(req, func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, errors.New("division by zero")
		}
		return a / b, nil
	})
}

func binary(req any, op func(a, b float64) (float64, error)) (any, error) {
	r, ok := req.(*BinaryRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected request type %T", req)
	}
	result, err := op(r.A, r.B)
	if err != nil {
		return nil, err
	}
	return &Reply{Result: result, Success: true}, nil
}

// Fibonacci emits the first Count terms of the sequence, one response per
// term, stopping as soon as emit reports that the peer is gone.
func Fibonacci(_ context.Context, req any, emit func(any) error) error {
	r, ok := req.(*FibonacciRequest)
	if !ok {
		return fmt.Errorf("unexpected request type %T", req)
	}
	var cur, next uint64 = 0, 1
	for i := uint32(0); i < r.Count; i++ {
		if err := emit(&FibonacciTerm{Index: i, Value: cur}); err != nil {
			return err
		}
		cur, next = next, cur+next
	}
	return nil
}

// NewSum is the running sum's initial accumulator: a successful zero total,
// which is also the response to a peer that sends no samples at all.
func NewSum() any {
	return &Reply{Success: true}
}

// Sum folds one sample into the running total.
func Sum(_ context.Context, acc, req any) (any, error) {
	s, ok := req.(*Sample)
	if !ok {
		return nil, fmt.Errorf("unexpected request type %T", req)
	}
	total := acc.(*Reply)
	return &Reply{Result: total.Result + s.Value, Success: true}, nil
}

// NewRunningTotal is the bidirectional calculator's initial accumulator.
func NewRunningTotal() any {
	return &Reply{Success: true}
}

// Apply folds one operation into the running value, returning the new
// value as a fresh snapshot. Dividing by zero and unknown operations are
// business failures.
func Apply(_ context.Context, acc, req any) (any, error) {
	op, ok := req.(*Operation)
	if !ok {
		return nil, fmt.Errorf("unexpected request type %T", req)
	}
	cur := acc.(*Reply)
	switch op.Op {
	case OpSeed:
		return &Reply{Result: op.Operand, Success: true}, nil
	case OpAdd:
		return &Reply{Result: cur.Result + op.Operand, Success: true}, nil
	case OpSubtract:
		return &Reply{Result: cur.Result - op.Operand, Success: true}, nil
	case OpMultiply:
		return &Reply{Result: cur.Result * op.Operand, Success: true}, nil
	case OpDivide:
		if op.Operand == 0 {
			return nil, errors.New("division by zero")
		}
		return &Reply{Result: cur.Result / op.Operand, Success: true}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", op.Op)
}
