package codec

import (
	"encoding/binary"
	"net/netip"

	"tun2http/internal/core"
)

// minTCPHeaderLen is the smallest valid TCP header (data offset 5, no options).
const minTCPHeaderLen = 20

// TCPFlags is a bitmask of the TCP control bits this engine inspects.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << 0
	FlagSYN TCPFlags = 1 << 1
	FlagRST TCPFlags = 1 << 2
	FlagPSH TCPFlags = 1 << 3
	FlagACK TCPFlags = 1 << 4
	FlagURG TCPFlags = 1 << 5
)

func (f TCPFlags) Has(bit TCPFlags) bool { return f&bit != 0 }

// ParsedTCP is the result of parsing a TCP segment.
type ParsedTCP struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   TCPFlags
	Payload []byte
}

// ParseTCP parses buf as a TCP segment. It rejects segments shorter than the
// fixed header and segments whose data-offset field claims more bytes than
// buf actually holds. Options, if any, are skipped rather than decoded —
// this engine has no need of them.
func ParseTCP(buf []byte) (ParsedTCP, error) {
	if len(buf) < minTCPHeaderLen {
		return ParsedTCP{}, core.ErrShortPacket
	}
	dataOffset := int(buf[12]>>4) * 4
	if dataOffset < minTCPHeaderLen || dataOffset > len(buf) {
		return ParsedTCP{}, core.ErrShortPacket
	}
	return ParsedTCP{
		SrcPort: binary.BigEndian.Uint16(buf[0:2]),
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		Seq:     binary.BigEndian.Uint32(buf[4:8]),
		Ack:     binary.BigEndian.Uint32(buf[8:12]),
		Flags:   TCPFlags(buf[13]),
		Payload: buf[dataOffset:],
	}, nil
}

// EmitIPv4TCP builds a complete IPv4 datagram carrying a TCP segment with the
// given fields and payload. The transport checksum field is deliberately
// left zero — client kernels accept locally-injected segments without it,
// and computing a real checksum would mean buffering the full pseudo-header
// sum for no observed benefit; only the IPv4 header checksum is computed.
// id is the IPv4 identification field, chosen by the caller.
func EmitIPv4TCP(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, seq, ack uint32, flags TCPFlags, payload []byte, id uint16) []byte {
	totalLen := minIPv4HeaderLen + minTCPHeaderLen + len(payload)
	buf := make([]byte, totalLen)

	tcp := buf[minIPv4HeaderLen:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = 5 << 4 // data offset 5, no options
	tcp[13] = byte(flags)
	binary.BigEndian.PutUint16(tcp[14:16], 65535) // window
	binary.BigEndian.PutUint16(tcp[16:18], 0)      // checksum: left zero by design
	binary.BigEndian.PutUint16(tcp[18:20], 0)      // urgent pointer
	copy(tcp[minTCPHeaderLen:], payload)

	putIPv4Header(buf, srcIP, dstIP, totalLen, ProtoTCP, id)
	return buf
}

// EmitSynAck builds the SYN-ACK reply to a client's initial SYN: a random
// server-side initial sequence number and an acknowledgment of
// clientSeq + 1, matching original_source/app/src/main/cpp/core_stub.cpp's
// sendTcpSynAck. serverSeq is supplied by the caller (a session assigns it
// once, when it is opened) rather than generated here, so the session owns
// the one random draw per connection.
func EmitSynAck(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, serverSeq, clientSeq uint32, id uint16) []byte {
	return EmitIPv4TCP(srcIP, dstIP, srcPort, dstPort, serverSeq, clientSeq+1, FlagSYN|FlagACK, nil, id)
}
