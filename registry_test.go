package callstream

import (
	"context"
	"fmt"
	"testing"
)

func TestRegistryPatternOf(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterUnary("u", func(_ context.Context, req any) (any, error) { return req, nil })
	reg.RegisterServerStream("s", func(context.Context, any, func(any) error) error { return nil })
	reg.RegisterClientStream("c", func() any { return 0 }, func(_ context.Context, acc, _ any) (any, error) { return acc, nil })
	reg.RegisterBidirectional("b", func() any { return 0 }, func(_ context.Context, acc, _ any) (any, error) { return acc, nil })

	for name, want := range map[string]Pattern{
		"u": Unary, "s": ServerStream, "c": ClientStream, "b": Bidirectional,
	} {
		got, ok := reg.PatternOf(name)
		if !ok {
			t.Fatalf("method %s not found", name)
		}
		if got != want {
			t.Fatalf("wrong pattern for %s: got %v, want %v", name, got, want)
		}
	}
	if _, ok := reg.PatternOf("missing"); ok {
		t.Fatal("unregistered method resolved")
	}

	if got := fmt.Sprint(reg.Methods()); got != "[b c s u]" {
		t.Fatalf("wrong method listing: %v", got)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterUnary("dup", func(_ context.Context, req any) (any, error) { return req, nil })

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	reg.RegisterUnary("dup", func(_ context.Context, req any) (any, error) { return req, nil })
}

func TestRegistryRejectsNilFunction(t *testing.T) {
	reg := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("nil function registration did not panic")
		}
	}()
	reg.RegisterUnary("nil", nil)
}
