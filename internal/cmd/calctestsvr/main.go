package main

import (
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/arcfault/callstream"
	"github.com/arcfault/callstream/calc"
	"github.com/arcfault/callstream/grpctransport"
	"github.com/arcfault/callstream/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config file; defaults apply without one")
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

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	reg := callstream.NewRegistry()
	calc.Register(reg)

	opts := []callstream.Option{
		callstream.WithObserver(callstream.LogObserver(log)),
		callstream.WithErrorEncoder(calc.EncodeError),
	}
	if timeout := cfg.CallTimeout(); timeout > 0 {
		opts = append(opts, callstream.WithSessionHook(sessionTimeout(timeout)))
	}
	dispatcher := callstream.NewDispatcher(reg, opts...)

	grpcSrv := grpc.NewServer()
	grpctransport.NewHandler(dispatcher).Register(grpcSrv)

	wsHandler := wstransport.NewHandler(dispatcher, log)
	for m, dec := range map[string]wstransport.Decoder{
		calc.MethodAdd:       wstransport.JSONDecoder[calc.BinaryRequest](),
		calc.MethodSubtract:  wstransport.JSONDecoder[calc.BinaryRequest](),
		calc.MethodMultiply:  wstransport.JSONDecoder[calc.BinaryRequest](),
		calc.MethodDivide:    wstransport.JSONDecoder[calc.BinaryRequest](),
		calc.MethodFibonacci: wstransport.JSONDecoder[calc.FibonacciRequest](),
		calc.MethodSum:       wstransport.JSONDecoder[calc.Sample](),
		calc.MethodRunning:   wstransport.JSONDecoder[calc.Operation](),
	} {
		wsHandler.RegisterDecoder(m, dec)
	}
	router := mux.NewRouter()
	wsHandler.Route(router, "/calls")
	httpSrv := &http.Server{Addr: cfg.WSListenAddr, Handler: router}
	go func() {
		log.Infoln("websocket listening on", cfg.WSListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		log.Fatal(err)
	}
	log.Infoln("grpc listening on", lis.Addr().String())
	// This only returns (and thus program exits) on failure.
	// Otherwise, process is stopped via signal.
	if err := grpcSrv.Serve(lis); err != nil {
		log.Fatal(err)
	}
}

// sessionTimeout arms a timer per session that fires the session's Cancel
// hook, bounding how long one call may run.
func sessionTimeout(timeout time.Duration) func(*callstream.CallSession) {
	return func(s *callstream.CallSession) {
		timer := time.AfterFunc(timeout, s.Cancel)
		go func() {
			<-s.Done()
			timer.Stop()
		}()
	}
}
