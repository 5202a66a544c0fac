// Package dialer opens outbound TCP and UDP sockets on behalf of the
// engine, giving the host application a chance to exempt each socket from
// the TUN's own routing before it connects. It uses
// syscall.RawConn.Control to run a host-supplied protect callback on the
// raw file descriptor in the window between socket creation and connect.
package dialer

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
)

// ProtectFunc is installed by the host application via the control surface
// (install_protect_callback) and invoked with the file descriptor of every
// socket this engine opens, before that socket connects anywhere. Hosts use
// it to mark the socket so platform routing does not loop it back into the
// TUN. The return value mirrors the ABI's int sentinel: 1 means the socket
// was protected; anything else means the host rejected it.
type ProtectFunc func(fd int) int

// Dialer opens TCP and UDP sockets, invoking an installed ProtectFunc
// between socket creation and connect. Safe for concurrent use; the
// protect callback itself is expected to be cheap and non-blocking since
// every dial on the reactor's hot path waits on it.
type Dialer struct {
	protect atomic.Pointer[ProtectFunc]
	dialer  net.Dialer
}

// New returns a Dialer with no protect callback installed.
func New() *Dialer {
	d := &Dialer{}
	d.dialer.Control = d.control
	return d
}

// SetProtect installs or clears (pass nil) the protect callback.
func (d *Dialer) SetProtect(fn ProtectFunc) {
	if fn == nil {
		d.protect.Store(nil)
		return
	}
	d.protect.Store(&fn)
}

// control is invoked by net.Dialer between socket() and connect() for every
// dial this Dialer performs, on the raw file descriptor's control channel.
// This ordering is the reason the engine routes all outbound sockets
// through net.Dialer.Control rather than dialing with the bare syscall
// package and protecting afterward: protect() must run before connect().
// The callback's ABI reports success as exactly 1; anything else, including
// 0, is a rejection.
func (d *Dialer) control(_, _ string, c syscall.RawConn) error {
	fn := d.protect.Load()
	if fn == nil {
		return nil
	}
	var rejected bool
	err := c.Control(func(fd uintptr) {
		if (*fn)(int(fd)) != 1 {
			rejected = true
		}
	})
	if err != nil {
		return err
	}
	if rejected {
		return fmt.Errorf("[Dialer] protect callback rejected socket")
	}
	return nil
}

// DialTCP opens a protected TCP connection to addr.
func (d *Dialer) DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("[Dialer] dial tcp %s: %w", addr, err)
	}
	return conn, nil
}

// DialUDP opens a protected UDP socket connected to addr.
func (d *Dialer) DialUDP(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("[Dialer] dial udp %s: %w", addr, err)
	}
	return conn, nil
}
