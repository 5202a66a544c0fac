package engine

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"tun2http/internal/codec"
	"tun2http/internal/core"
	"tun2http/internal/proxyclient"
	"tun2http/internal/session"
)

const tcpLogTag = "TCP"

// proxyPort is the only destination port this engine ever routes through
// the configured HTTP CONNECT proxy; every other TCP destination dials
// direct even when a proxy is configured.
const proxyPort = 443

// Reply datagrams carrying relayed downlink data use a fixed sequence and
// acknowledgment rather than tracking per-direction byte offsets. This
// engine does not keep a client TCP stack honest across a long flow by
// sequence number; it relies on the client accepting data as it arrives,
// which is sufficient for the short-lived proxied connections this engine
// targets. Only the SYN-ACK uses real values (ack = client ISN + 1, a
// randomized server ISN), since that is what client stacks validate during
// the handshake itself.
const (
	fixedReplySeq uint32 = 1000
	fixedReplyAck uint32 = 2000
)

// tcpDialPhase names a step in the CONNECTING -> PROXY_CONNECT ->
// PROXY_RESPONSE -> ESTABLISHED progression. The dial goroutine reports
// each phase it completes so the reactor goroutine — and only the reactor
// goroutine — can reflect it in the session's State.
type tcpDialPhase int

const (
	tcpDialProxyConnect tcpDialPhase = iota
	tcpDialProxyResponse
	tcpDialEstablished
	tcpDialFailed
)

// tcpDialResult reports one step of an asynchronous dial (and, for a
// proxied session, the CONNECT handshake that follows it) back to the
// reactor goroutine. Nothing but the reactor goroutine is allowed to read
// or write a TCPSession's State/Conn/PendingUplink fields once the session
// is in the table, so the dial runs on its own goroutine purely to avoid
// blocking packet processing, and reports back through this channel instead
// of touching the session directly.
type tcpDialResult struct {
	tuple session.FiveTuple
	phase tcpDialPhase
	conn  net.Conn // set only on tcpDialEstablished
	err   error    // set only on tcpDialFailed
}

// handleTCPPacket advances a TCP session's state machine for one inbound
// segment from the TUN device. tuple is keyed client-to-server: SrcAddr is
// the client, DstAddr is the remote the client is trying to reach.
func (r *reactor) handleTCPPacket(ip codec.ParsedIPv4, tcp codec.ParsedTCP) {
	tuple := session.FiveTuple{
		Protocol: codec.ProtoTCP,
		SrcAddr:  ip.Src,
		SrcPort:  tcp.SrcPort,
		DstAddr:  ip.Dst,
		DstPort:  tcp.DstPort,
	}

	if tcp.Flags.Has(codec.FlagSYN) && !tcp.Flags.Has(codec.FlagACK) {
		r.openTCPSession(tuple, tcp)
		return
	}

	s, ok := r.e.table.LookupTCP(tuple)
	if !ok {
		return // no session for this tuple and not a SYN: nothing to do
	}
	s.Touch()

	if tcp.Flags.Has(codec.FlagRST) || tcp.Flags.Has(codec.FlagFIN) {
		s.State = session.TCPStateClosing
		if s.Conn != nil {
			s.Conn.Close()
		}
		r.e.table.RemoveTCP(tuple)
		return
	}

	if len(tcp.Payload) == 0 {
		return
	}

	switch s.State {
	case session.TCPStateEstablished:
		r.e.observer.notify(DirectionUplink, codec.ProtoTCP, tuple.SrcAddr.String(), tuple.SrcPort, tuple.DstAddr.String(), tuple.DstPort, tcp.Payload)
		if s.Conn != nil {
			if _, err := s.Conn.Write(tcp.Payload); err != nil {
				r.e.logger.Warnf(tcpLogTag, "uplink write %v: %v", tuple, err)
				s.Conn.Close()
				r.e.table.RemoveTCP(tuple)
			}
		}
	case session.TCPStateProxyConnect, session.TCPStateProxyResponse:
		// proxy handshake still in flight: buffer until the CONNECT
		// response arrives and the session transitions to ESTABLISHED.
		if len(s.PendingUplink)+len(tcp.Payload) > session.PendingUplinkCap {
			err := fmt.Errorf("[TCP] %w for %v", core.ErrPendingUplinkOverflow, tuple)
			r.e.logger.Warnf(tcpLogTag, "%v", err)
			r.e.table.RemoveTCP(tuple)
			return
		}
		s.PendingUplink = append(s.PendingUplink, tcp.Payload...)
	default:
		// CONNECTING or CLOSING: the upstream socket isn't ready for
		// writes yet (or is on its way out) — drop payload silently.
	}
}

// openTCPSession installs a fresh session for a new SYN, replacing any
// prior session on the same tuple, and kicks off the asynchronous dial (and
// optional proxy handshake) on its own goroutine.
func (r *reactor) openTCPSession(tuple session.FiveTuple, tcp codec.ParsedTCP) {
	s := &session.TCPSession{
		Tuple:            tuple,
		State:            session.TCPStateConnecting,
		ClientInitialSeq: tcp.Seq,
		ServerInitialSeq: randomISN(),
	}
	r.e.table.InsertTCP(s)

	go r.dialTCPSession(tuple)
}

// dialTCPSession runs entirely off the reactor goroutine: it only ever
// reads tuple (a value, not a pointer into the session) and reports its
// progress through dialResultCh, never touching the TCPSession itself. A
// proxied session (proxy configured and the destination is port 443) walks
// through PROXY_CONNECT and PROXY_RESPONSE before ESTABLISHED; every other
// destination dials direct and jumps straight to ESTABLISHED.
func (r *reactor) dialTCPSession(tuple session.FiveTuple) {
	ctx := context.Background()
	dst := netip.AddrPortFrom(tuple.DstAddr, tuple.DstPort)

	if r.e.proxy == "" || tuple.DstPort != proxyPort {
		conn, err := r.e.dialer.DialTCP(ctx, dst.String())
		if err != nil {
			r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialFailed, err: err}
			return
		}
		r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialEstablished, conn: conn}
		return
	}

	conn, err := r.e.dialer.DialTCP(ctx, r.e.proxy)
	if err != nil {
		r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialFailed, err: err}
		return
	}
	r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialProxyConnect}

	if _, err := conn.Write(proxyclient.BuildConnectRequest(dst)); err != nil {
		conn.Close()
		r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialFailed, err: err}
		return
	}
	r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialProxyResponse}

	ok, err := proxyclient.ReadConnectResponse(conn)
	if err != nil || !ok {
		conn.Close()
		r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialFailed, err: err}
		return
	}
	r.dialResultCh <- tcpDialResult{tuple: tuple, phase: tcpDialEstablished, conn: conn}
}

// handleDialResult applies one step of a dial's progress to its session.
// Together with handleTCPPacket (which appends to PendingUplink and marks a
// session CLOSING), this is the only code that mutates a TCPSession's
// State/Conn/PendingUplink fields after openTCPSession's insert, and both
// only ever run on the reactor goroutine.
func (r *reactor) handleDialResult(res tcpDialResult) {
	s, ok := r.e.table.LookupTCP(res.tuple)
	if !ok {
		if res.conn != nil {
			res.conn.Close()
		}
		return
	}

	switch res.phase {
	case tcpDialProxyConnect:
		s.State = session.TCPStateProxyConnect
	case tcpDialProxyResponse:
		s.State = session.TCPStateProxyResponse
	case tcpDialFailed:
		r.e.logger.Warnf(tcpLogTag, "connect %v: %v", res.tuple, res.err)
		r.e.table.RemoveTCP(res.tuple)
	case tcpDialEstablished:
		s.Conn = res.conn
		s.State = session.TCPStateEstablished
		if len(s.PendingUplink) > 0 {
			if _, err := s.Conn.Write(s.PendingUplink); err != nil {
				r.e.logger.Warnf(tcpLogTag, "flush pending uplink for %v: %v", res.tuple, err)
			}
			s.PendingUplink = nil
		}
		r.writeTUN(codec.EmitSynAck(res.tuple.DstAddr, res.tuple.SrcAddr, res.tuple.DstPort, res.tuple.SrcPort, s.ServerInitialSeq, s.ClientInitialSeq, randomID()))
		go r.readDownlinkTCP(res.tuple, s.Conn)
	}
}

// readDownlinkTCP blocks reading from conn, forwarding each chunk back to
// the reactor goroutine through downlinkCh. It never touches the session
// struct directly.
func (r *reactor) readDownlinkTCP(tuple session.FiveTuple, conn net.Conn) {
	buf := make([]byte, r.e.mtu)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			r.downlinkCh <- downlinkEvent{tuple: tuple, data: chunk}
		}
		if err != nil {
			r.downlinkCh <- downlinkEvent{tuple: tuple, closed: true}
			return
		}
	}
}

func (r *reactor) handleTCPDownlink(ev downlinkEvent) {
	s, ok := r.e.table.LookupTCP(ev.tuple)
	if !ok {
		return
	}
	if ev.closed {
		if s.Conn != nil {
			s.Conn.Close()
		}
		r.e.table.RemoveTCP(ev.tuple)
		return
	}
	s.Touch()
	r.e.observer.notify(DirectionDownlink, codec.ProtoTCP, ev.tuple.DstAddr.String(), ev.tuple.DstPort, ev.tuple.SrcAddr.String(), ev.tuple.SrcPort, ev.data)
	pkt := codec.EmitIPv4TCP(ev.tuple.DstAddr, ev.tuple.SrcAddr, ev.tuple.DstPort, ev.tuple.SrcPort, fixedReplySeq, fixedReplyAck, codec.FlagACK|codec.FlagPSH, ev.data, randomID())
	r.writeTUN(pkt)
}
