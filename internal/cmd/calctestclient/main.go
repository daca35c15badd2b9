package main

import (
	"context"
	"flag"
	"sync/atomic"
	"time"

	"github.com/fullstorydev/grpchan"
	"github.com/fullstorydev/grpchan/inprocgrpc"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arcfault/callstream"
	"github.com/arcfault/callstream/calc"
	"github.com/arcfault/callstream/grpctransport"
	"github.com/arcfault/callstream/internal"
	"github.com/arcfault/callstream/wstransport"
)

func main() {
	grpcAddr := flag.String("grpc-addr", "127.0.0.1:26355", "the grpc address of the test server")
	wsURL := flag.String("ws-url", "ws://127.0.0.1:26356/calls", "the websocket URL of the test server")
	configPath := flag.String("config", "", "path to a yaml config file; defaults apply without one")
	mode := flag.String("mode", "grpc", "which transport to drive: grpc, ws, loopback, or pipe")
	flag.Parse()

	cfg := &callstream.Config{}
	if *configPath != "" {
		var err error
		cfg, err = callstream.LoadConfig(*configPath)
		if err != nil {
			logrus.Fatal(err)
		}
	} else {
		callstream.ApplyDefaults(cfg)
	}

	ctx := context.Background()
	switch *mode {
	case "grpc":
		runGRPC(ctx, *grpcAddr)
	case "ws":
		runWS(ctx, *wsURL)
	case "loopback":
		runLoopback(ctx)
	case "pipe":
		runPipe(ctx, cfg)
	default:
		logrus.Fatalf("unknown mode %q", *mode)
	}
}

func runGRPC(ctx context.Context, addr string) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cc, err := internal.BlockingDial(dialCtx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logrus.Fatal(err)
	}
	defer cc.Close()

	var counts atomic.Int32
	ch := withCallCounts(cc, &counts)
	err = internal.DriveCalls(ctx, func(ctx context.Context, methodName string) (callstream.Transport, error) {
		return grpctransport.Open(ctx, ch, methodName)
	})
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Infof("drove %d sessions over grpc", counts.Load())
}

func runWS(ctx context.Context, rawURL string) {
	err := internal.DriveCalls(ctx, func(ctx context.Context, methodName string) (callstream.Transport, error) {
		return wstransport.Dial(ctx, rawURL, methodName, responseDecoder(methodName))
	})
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("drove calls over websocket")
}

// runLoopback serves the calculator over an in-process channel and drives
// it from the same process, so the full engine path can be exercised with
// no server running.
func runLoopback(ctx context.Context) {
	dispatcher := newCalcDispatcher()
	var ch inprocgrpc.Channel
	grpctransport.NewHandler(dispatcher).Register(&ch)

	err := internal.DriveCalls(ctx, func(ctx context.Context, methodName string) (callstream.Transport, error) {
		return grpctransport.Open(ctx, &ch, methodName)
	})
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Info("drove calls over in-process loopback")
}

// runPipe drives the calculator over raw in-process pipes, one session per
// call, with each direction's queue bounded by the configured capacity.
func runPipe(ctx context.Context, cfg *callstream.Config) {
	dispatcher := newCalcDispatcher()

	err := internal.DriveCalls(ctx, func(ctx context.Context, methodName string) (callstream.Transport, error) {
		server, client := callstream.Pipe(cfg.QueueCapacity)
		// unary dispatch runs the whole exchange before returning, so it
		// cannot share the driver's goroutine
		go dispatcher.Dispatch(ctx, methodName, server)
		return client, nil
	})
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.Infof("drove calls over in-process pipes with queue capacity %d", cfg.QueueCapacity)
}

func newCalcDispatcher() *callstream.Dispatcher {
	reg := callstream.NewRegistry()
	calc.Register(reg)
	return callstream.NewDispatcher(reg,
		callstream.WithObserver(callstream.LogObserver(logrus.StandardLogger())),
		callstream.WithErrorEncoder(calc.EncodeError),
	)
}

func responseDecoder(methodName string) wstransport.Decoder {
	if methodName == calc.MethodFibonacci {
		return wstransport.JSONDecoder[calc.FibonacciTerm]()
	}
	return wstransport.JSONDecoder[calc.Reply]()
}

func withCallCounts(ch grpc.ClientConnInterface, counts *atomic.Int32) grpc.ClientConnInterface {
	return grpchan.InterceptClientConn(
		ch,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			counts.Add(1)
			return invoker(ctx, method, req, reply, cc, opts...)
		},
		func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			counts.Add(1)
			return streamer(ctx, desc, cc, method, opts...)
		},
	)
}
