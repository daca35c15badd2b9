package internal

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// BlockingDial connects to addr and waits for the connection to become
// ready, so callers start issuing calls against a live server instead of
// queueing on a connecting channel. If ctx ends first, the most recent
// network-level dial error is returned when one exists, the context error
// otherwise.
func BlockingDial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last lastDialErr
	cc, err := grpc.DialContext(ctx, addr, append(opts,
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			conn, err := keepaliveDialer().DialContext(ctx, "tcp", addr)
			if err != nil {
				last.set(err)
				if !isTemporary(err) {
					// no point waiting out the context on a permanent failure
					cancel()
				}
			}
			return conn, err
		}))...,
	)
	if err != nil {
		return nil, err
	}
	cc.Connect()
	for {
		state := cc.GetState()
		if state == connectivity.Ready {
			return cc, nil
		}
		if !cc.WaitForStateChange(ctx, state) {
			_ = cc.Close()
			if err := last.get(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
	}
}

// lastDialErr records the most recent failure observed by the dialer, for
// reporting when the overall dial gives up.
type lastDialErr struct {
	mu  sync.Mutex
	err error
}

func (l *lastDialErr) set(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *lastDialErr) get() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// keepaliveDialer enables TCP keepalives with OS default parameters. The
// negative KeepAlive value keeps the Go runtime from overriding the kernel's
// keepalive time and interval; the Control hook then turns keepalives on at
// the socket level before connecting.
func keepaliveDialer() *net.Dialer {
	return &net.Dialer{
		KeepAlive: time.Duration(-1),
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			})
		},
	}
}

func isTemporary(err error) bool {
	switch err := err.(type) {
	case interface{ Temporary() bool }:
		return err.Temporary()
	case interface{ Timeout() bool }:
		// timeouts may resolve on retry
		return err.Timeout()
	}
	return true
}
