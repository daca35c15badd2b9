package callstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// UnaryFunc is the business function shape for Unary methods: one request
// in, one response out. Returning an error does not fail the session; the
// error is encoded into an error-flagged response payload.
type UnaryFunc func(ctx context.Context, req any) (any, error)

// ProducerFunc is the business function shape for ServerStream methods. It
// is called once with the single request and emits response chunks through
// emit; it should return promptly once emit reports an error, which means
// the peer is gone. Returning a non-nil error of its own ends the stream
// with an error-flagged payload.
type ProducerFunc func(ctx context.Context, req any, emit func(any) error) error

// FoldFunc is the business function shape for ClientStream and
// Bidirectional methods: it folds one inbound message into the accumulator
// and returns the updated value. Implementations must treat acc as
// immutable and return a fresh value; for bidirectional methods the
// returned value is handed to the write loop as a response snapshot, so
// mutating it afterwards would race.
type FoldFunc func(ctx context.Context, acc, req any) (any, error)

// AccumulatorFunc constructs a fold's initial value. It is invoked once per
// session, so the state it returns is never shared across sessions. For
// ClientStream methods the initial value doubles as the response to a peer
// that half-closes without sending anything.
type AccumulatorFunc func() any

// method is the registry's record for one registered method name.
type method struct {
	name       string
	pattern    Pattern
	unary      UnaryFunc
	produce    ProducerFunc
	fold       FoldFunc
	accumulate AccumulatorFunc
}

// Registry maps method identifiers to their call pattern and business
// function. A Dispatcher consults it once per inbound call; methods are
// usually registered at startup, but registration is safe at any time.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*method
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: map[string]*method{}}
}

// RegisterUnary registers a single-request, single-response method.
func (r *Registry) RegisterUnary(name string, fn UnaryFunc) {
	if fn == nil {
		panic(fmt.Sprintf("callstream: method %s: nil function", name))
	}
	r.add(&method{name: name, pattern: Unary, unary: fn})
}

// RegisterServerStream registers a single-request, many-response method.
func (r *Registry) RegisterServerStream(name string, fn ProducerFunc) {
	if fn == nil {
		panic(fmt.Sprintf("callstream: method %s: nil function", name))
	}
	r.add(&method{name: name, pattern: ServerStream, produce: fn})
}

// RegisterClientStream registers a many-request, single-response method
// that folds inbound messages into an accumulator seeded by init.
func (r *Registry) RegisterClientStream(name string, init AccumulatorFunc, fn FoldFunc) {
	if init == nil || fn == nil {
		panic(fmt.Sprintf("callstream: method %s: nil function", name))
	}
	r.add(&method{name: name, pattern: ClientStream, accumulate: init, fold: fn})
}

// RegisterBidirectional registers a concurrent many-to-many method: each
// fold of an inbound message yields one response, except the first message,
// which seeds the accumulator silently.
func (r *Registry) RegisterBidirectional(name string, init AccumulatorFunc, fn FoldFunc) {
	if init == nil || fn == nil {
		panic(fmt.Sprintf("callstream: method %s: nil function", name))
	}
	r.add(&method{name: name, pattern: Bidirectional, accumulate: init, fold: fn})
}

func (r *Registry) add(m *method) {
	if m.name == "" {
		panic("callstream: cannot register method with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[m.name]; ok {
		panic(fmt.Sprintf("callstream: method %s: already registered", m.name))
	}
	r.methods[m.name] = m
}

func (r *Registry) lookup(name string) (*method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// PatternOf reports the call pattern a method was registered with.
func (r *Registry) PatternOf(name string) (Pattern, bool) {
	m, ok := r.lookup(name)
	if !ok {
		return 0, false
	}
	return m.pattern, true
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
