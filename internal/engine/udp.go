package engine

import (
	"context"
	"net/netip"
	"time"

	"tun2http/internal/codec"
	"tun2http/internal/session"
)

const udpLogTag = "UDP"

// handleUDPPacket forwards one inbound UDP datagram, dialing a fresh
// upstream socket on first sight of a tuple. The HTTP CONNECT proxy only
// tunnels TCP, so UDP always dials direct — through the protected dialer,
// never through r.e.proxy.
func (r *reactor) handleUDPPacket(ip codec.ParsedIPv4, udp codec.ParsedUDP) {
	tuple := session.FiveTuple{
		Protocol: codec.ProtoUDP,
		SrcAddr:  ip.Src,
		SrcPort:  udp.SrcPort,
		DstAddr:  ip.Dst,
		DstPort:  udp.DstPort,
	}

	s, ok := r.e.table.LookupUDP(tuple)
	if !ok {
		conn, err := r.e.dialer.DialUDP(context.Background(), netip.AddrPortFrom(ip.Dst, udp.DstPort).String())
		if err != nil {
			r.e.logger.Warnf(udpLogTag, "dial %v: %v", tuple, err)
			return
		}
		s = &session.UDPSession{Tuple: tuple, Conn: conn, LastActivity: time.Now()}
		r.e.table.InsertUDP(s)
		go r.readDownlinkUDP(tuple, s)
	}
	s.Touch()

	r.e.observer.notify(DirectionUplink, codec.ProtoUDP, tuple.SrcAddr.String(), tuple.SrcPort, tuple.DstAddr.String(), tuple.DstPort, udp.Payload)
	if _, err := s.Conn.Write(udp.Payload); err != nil {
		r.e.logger.Warnf(udpLogTag, "uplink write %v: %v", tuple, err)
		s.Conn.Close()
		r.e.table.RemoveUDP(tuple)
	}
}

// readDownlinkUDP blocks reading datagrams from the upstream socket,
// relaying each one back to the reactor goroutine.
func (r *reactor) readDownlinkUDP(tuple session.FiveTuple, s *session.UDPSession) {
	buf := make([]byte, r.e.mtu)
	for {
		n, err := s.Conn.Read(buf)
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

func (r *reactor) handleUDPDownlink(ev downlinkEvent) {
	s, ok := r.e.table.LookupUDP(ev.tuple)
	if !ok {
		return
	}
	if ev.closed {
		if s.Conn != nil {
			s.Conn.Close()
		}
		r.e.table.RemoveUDP(ev.tuple)
		return
	}
	s.Touch()
	r.e.observer.notify(DirectionDownlink, codec.ProtoUDP, ev.tuple.DstAddr.String(), ev.tuple.DstPort, ev.tuple.SrcAddr.String(), ev.tuple.SrcPort, ev.data)
	pkt := codec.EmitIPv4UDP(ev.tuple.DstAddr, ev.tuple.SrcAddr, ev.tuple.DstPort, ev.tuple.SrcPort, ev.data, randomID())
	r.writeTUN(pkt)
}

// handleDownlink dispatches a downlink event to the TCP or UDP handler
// based on the tuple's protocol.
func (r *reactor) handleDownlink(ev downlinkEvent) {
	switch ev.tuple.Protocol {
	case codec.ProtoTCP:
		r.handleTCPDownlink(ev)
	case codec.ProtoUDP:
		r.handleUDPDownlink(ev)
	}
}
