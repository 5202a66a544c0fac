// Package engine implements the control surface and packet-forwarding
// reactor: init/start/stop/set_log_level/version/register_callback/
// install_protect_callback, all scoped to one Engine instance rather than
// process-wide state — the original bridge this engine descends from
// (original_source/app/src/main/cpp/core_stub.cpp) kept everything in
// file-scope globals, which rules out more than one tunnel per process and
// makes tests fight over shared state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tun2http/internal/core"
	"tun2http/internal/dialer"
	"tun2http/internal/session"
)

// Version identifies this build of the engine, returned by the control
// surface's version() call.
const Version = "tun2http/1.0"

const logTag = "Engine"

// Engine is a single instance of the TUN-to-proxy forwarding engine. All ABI
// state (the TUN fd, the upstream proxy address, the session table, the
// observer and protect callbacks) lives on the instance; a process may run
// more than one Engine, though a typical deployment runs exactly one tunnel.
type Engine struct {
	mu      sync.Mutex
	started bool

	tunFD int
	proxy string
	mtu   int

	dialer   *dialer.Dialer
	table    *session.Table
	observer observerSlot
	logger   *core.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New returns an uninitialized Engine. Call Init before Start.
func New() *Engine {
	return &Engine{
		dialer: dialer.New(),
		table:  session.NewTable(),
		logger: core.Log,
	}
}

// Init configures the engine: the TUN file descriptor to read and write
// packets on, the upstream HTTP CONNECT proxy ("host:port", or empty for
// direct connections), a reserved DNS hint, and the MTU bounding packet
// sizes. Init may be called again before Start to reconfigure; it must not
// be called while the engine is running.
func (e *Engine) Init(tunFD int, proxy, dns string, mtu int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("[%s] init: %w", logTag, core.ErrAlreadyRunning)
	}
	if mtu <= 0 {
		mtu = 1500
	}
	e.tunFD = tunFD
	e.proxy = proxy
	e.mtu = mtu
	_ = dns // reserved; the core does not currently interpret it
	return nil
}

// Start launches the reactor goroutine. Calling Start while already running
// is a no-op, matching the control surface's idempotence contract.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = group
	e.started = true
	e.mu.Unlock()

	r := newReactor(e)
	group.Go(func() error {
		return r.run(gctx)
	})
	e.logger.Infof(logTag, "started (tun_fd=%d proxy=%q mtu=%d)", e.tunFD, e.proxy, e.mtu)
	return nil
}

// Stop halts the reactor and waits for it to exit. Calling Stop while not
// running is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	group := e.group
	e.started = false
	e.mu.Unlock()

	cancel()
	err := group.Wait()
	e.logger.Infof(logTag, "stopped")
	if err != nil && err != context.Canceled {
		return fmt.Errorf("[%s] stop: %w", logTag, err)
	}
	return nil
}

// SetLogLevel maps the ABI's integer level (0=debug, 1=info, 2=warn) onto
// the structured logger.
func (e *Engine) SetLogLevel(level int) {
	switch level {
	case 0:
		e.logger.SetLevel(core.LevelDebug)
	case 1:
		e.logger.SetLevel(core.LevelInfo)
	default:
		e.logger.SetLevel(core.LevelWarn)
	}
}

// Version returns the engine's build identifier.
func (e *Engine) Version() string {
	return Version
}

// RegisterCallback installs the single observation hook, replacing any
// previous one. Pass nil to remove it.
func (e *Engine) RegisterCallback(fn ObserverFunc) {
	e.observer.set(fn)
}

// InstallProtectCallback installs the function invoked between socket() and
// connect() for every outbound socket this engine opens.
func (e *Engine) InstallProtectCallback(fn dialer.ProtectFunc) {
	e.dialer.SetProtect(fn)
}

// SetIdleTimeouts overrides the session table's default TCP/UDP idle
// timeouts, in seconds. A zero value leaves the corresponding default (60s
// TCP, 30s UDP) in place. Safe to call before or after Start.
func (e *Engine) SetIdleTimeouts(tcpSeconds, udpSeconds int) {
	e.table.SetIdleTimeouts(time.Duration(tcpSeconds)*time.Second, time.Duration(udpSeconds)*time.Second)
}

// SessionCounts reports the current number of tracked TCP and UDP sessions,
// for diagnostics.
func (e *Engine) SessionCounts() (tcp, udp int) {
	return e.table.Len()
}
