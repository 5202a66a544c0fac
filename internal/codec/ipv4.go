// Package codec parses inbound IPv4/TCP/UDP datagrams read from a TUN
// device and emits synthesized IPv4/TCP/UDP reply datagrams. Ingress parsing
// of the fixed 20-byte IPv4 header follows the original tun2socks bridge
// this engine descends from (original_source/app/src/main/cpp/core_stub.cpp:
// parse_ip_packet); egress emission is hand-rolled (fixed TTL/TOS, zeroed
// transport checksums) rather than delegated to a conformant serializer.
package codec

import (
	"encoding/binary"
	"net/netip"

	"golang.org/x/net/ipv4"
	"tun2http/internal/core"
)

// IP protocol numbers this engine handles. Values match IANA assignments
// (and golang.org/x/sys/unix.IPPROTO_{TCP,UDP}) but are declared locally so
// this package has no syscall dependency.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// minIPv4HeaderLen is the minimum valid IPv4 header length (IHL == 5).
// golang.org/x/net/ipv4.HeaderLen names the same constant (20); used here
// directly to avoid a magic number while keeping the dependency honest.
const minIPv4HeaderLen = ipv4.HeaderLen

// ParsedIPv4 is the result of parsing an inbound IPv4 datagram.
type ParsedIPv4 struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8
	Payload  []byte // transport-layer payload, bounded by the IP total-length field
}

// ParseIPv4 parses buf as an IPv4 datagram. It rejects packets shorter than
// the minimum header, non-IPv4 versions, an IHL below 5, and a total-length
// field smaller than the header it claims. No checksum validation is
// performed — the TUN driver is trusted.
func ParseIPv4(buf []byte) (ParsedIPv4, error) {
	if len(buf) < minIPv4HeaderLen {
		return ParsedIPv4{}, core.ErrShortPacket
	}
	version := buf[0] >> 4
	if version != 4 {
		return ParsedIPv4{}, core.ErrNotIPv4
	}
	ihl := int(buf[0] & 0x0f)
	if ihl < 5 {
		return ParsedIPv4{}, core.ErrShortPacket
	}
	hdrLen := ihl * 4
	if len(buf) < hdrLen {
		return ParsedIPv4{}, core.ErrShortPacket
	}

	totalLen := int(binary.BigEndian.Uint16(buf[2:4]))
	if totalLen < hdrLen {
		return ParsedIPv4{}, core.ErrShortPacket
	}

	src := netip.AddrFrom4([4]byte(buf[12:16]))
	dst := netip.AddrFrom4([4]byte(buf[16:20]))
	protocol := buf[9]

	end := totalLen
	if end > len(buf) {
		end = len(buf)
	}
	return ParsedIPv4{
		Src:      src,
		Dst:      dst,
		Protocol: protocol,
		Payload:  buf[hdrLen:end],
	}, nil
}

// putIPv4Header writes a fresh 20-byte IPv4 header into dst[:20] for a
// datagram of the given total length and next-header protocol: TTL 64,
// TOS 0, no fragmentation, the given randomized ID, and a correctly
// computed header checksum.
func putIPv4Header(dst []byte, src, dstAddr netip.Addr, totalLen int, protocol uint8, id uint16) {
	dst[0] = 0x45 // version 4, IHL 5
	dst[1] = 0    // TOS
	binary.BigEndian.PutUint16(dst[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(dst[4:6], id)
	binary.BigEndian.PutUint16(dst[6:8], 0) // flags/fragment offset: no fragmentation
	dst[8] = 64                             // TTL
	dst[9] = protocol
	binary.BigEndian.PutUint16(dst[10:12], 0) // checksum, filled below
	srcBytes := src.As4()
	dstBytes := dstAddr.As4()
	copy(dst[12:16], srcBytes[:])
	copy(dst[16:20], dstBytes[:])

	ck := ipv4Checksum(dst[:minIPv4HeaderLen])
	binary.BigEndian.PutUint16(dst[10:12], ck)
}
