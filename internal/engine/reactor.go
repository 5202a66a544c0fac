package engine

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sys/unix"

	"tun2http/internal/codec"
	"tun2http/internal/core"
	"tun2http/internal/session"
)

// tickInterval drives the idle-session sweep.
const tickInterval = 1 * time.Second

// epollTimeoutMillis bounds how long a single EpollWait call blocks so the
// reactor still wakes up to service downlinkCh and the idle sweep even when
// the TUN device is quiet.
const epollTimeoutMillis = 250

// downlinkEvent carries data read from a session's upstream connection back
// to the reactor goroutine, which is the only goroutine allowed to touch
// the session table or write to the TUN device.
type downlinkEvent struct {
	tuple  session.FiveTuple
	data   []byte
	closed bool
}

// reactor is the engine's single-threaded, edge-triggered event loop: an
// epoll instance watches the TUN file descriptor, while per-session reader
// goroutines feed downlink bytes through a channel rather than being
// individually registered with epoll, since the Go runtime already owns
// polling for net.Conn-backed sockets internally. All session-table
// mutation and TUN writes happen here, on one goroutine: session
// processing is never parallel.
type reactor struct {
	e            *Engine
	epfd         int
	downlinkCh   chan downlinkEvent
	dialResultCh chan tcpDialResult
}

func newReactor(e *Engine) *reactor {
	return &reactor{
		e:            e,
		downlinkCh:   make(chan downlinkEvent, 256),
		dialResultCh: make(chan tcpDialResult, 64),
	}
}

func (r *reactor) run(ctx context.Context) error {
	// Global shutdown destroys every live session: whichever way run exits,
	// no socket this engine opened is left dangling.
	defer r.e.table.CloseAll()

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		r.e.logger.Errorf(logTag, "epoll_create1: %v", err)
		return err
	}
	r.epfd = epfd
	defer unix.Close(epfd)

	if err := unix.SetNonblock(r.e.tunFD, true); err != nil {
		r.e.logger.Errorf(logTag, "set tun fd nonblocking: %v", err)
		return err
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.e.tunFD, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(r.e.tunFD),
	}); err != nil {
		r.e.logger.Errorf(logTag, "epoll_ctl add tun fd: %v", err)
		return err
	}

	buf := make([]byte, r.e.mtu)
	events := make([]unix.EpollEvent, 8)
	lastTick := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, events, epollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.e.logger.Errorf(logTag, "epoll_wait: %v", err)
			return err
		}

		for i := 0; i < n; i++ {
			if int(events[i].Fd) == r.e.tunFD {
				r.drainTUN(buf)
			}
		}

		r.drainDownlink()
		r.drainDialResults()

		if now := time.Now(); now.Sub(lastTick) >= tickInterval {
			lastTick = now
			r.sweepIdle(now)
		}
	}
}

// drainTUN reads as many queued packets as are immediately available,
// matching edge-triggered semantics for the TUN descriptor.
func (r *reactor) drainTUN(buf []byte) {
	for {
		n, err := unix.Read(r.e.tunFD, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			r.e.logger.Warnf(logTag, "tun read: %v", err)
			return
		}
		if n <= 0 {
			return
		}
		r.handlePacket(append([]byte(nil), buf[:n]...))
	}
}

// drainDownlink flushes every downlink event queued since the last
// iteration without blocking.
func (r *reactor) drainDownlink() {
	for {
		select {
		case ev := <-r.downlinkCh:
			r.handleDownlink(ev)
		default:
			return
		}
	}
}

// drainDialResults applies every completed async dial queued since the last
// iteration without blocking.
func (r *reactor) drainDialResults() {
	for {
		select {
		case res := <-r.dialResultCh:
			r.handleDialResult(res)
		default:
			return
		}
	}
}

func (r *reactor) handlePacket(buf []byte) {
	ip, err := codec.ParseIPv4(buf)
	if err != nil {
		return
	}
	switch ip.Protocol {
	case codec.ProtoTCP:
		tcp, err := codec.ParseTCP(ip.Payload)
		if err != nil {
			return
		}
		r.handleTCPPacket(ip, tcp)
	case codec.ProtoUDP:
		udp, err := codec.ParseUDP(ip.Payload)
		if err != nil {
			return
		}
		r.handleUDPPacket(ip, udp)
	default:
		r.e.logger.Debugf(logTag, "%v: protocol %d from %v", core.ErrUnsupportedProtocol, ip.Protocol, ip.Src)
	}
}

func (r *reactor) writeTUN(pkt []byte) {
	if _, err := unix.Write(r.e.tunFD, pkt); err != nil {
		r.e.logger.Warnf(logTag, "tun write: %v", err)
	}
}

func (r *reactor) sweepIdle(now time.Time) {
	tcpExpired, udpExpired := r.e.table.ExpireIdle(now)
	for _, s := range tcpExpired {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
	for _, s := range udpExpired {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
}

// randomID returns a 16-bit IPv4 identification value. math/rand is
// sufficient here since the value is not security sensitive — it only
// affects fragment reassembly, and these packets are never fragmented.
func randomID() uint16 {
	return uint16(rand.Intn(1 << 16))
}

// randomISN returns a 32-bit initial sequence number for a synthesized
// SYN-ACK.
func randomISN() uint32 {
	return rand.Uint32()
}
