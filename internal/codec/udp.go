package codec

import (
	"encoding/binary"
	"net/netip"

	"tun2http/internal/core"
)

// udpHeaderLen is the fixed UDP header size.
const udpHeaderLen = 8

// ParsedUDP is the result of parsing a UDP datagram.
type ParsedUDP struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// ParseUDP parses buf as a UDP datagram. It rejects datagrams shorter than
// the fixed 8-byte header and datagrams whose length field claims more than
// buf actually holds.
func ParseUDP(buf []byte) (ParsedUDP, error) {
	if len(buf) < udpHeaderLen {
		return ParsedUDP{}, core.ErrShortPacket
	}
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	if length < udpHeaderLen || length > len(buf) {
		return ParsedUDP{}, core.ErrShortPacket
	}
	return ParsedUDP{
		SrcPort: binary.BigEndian.Uint16(buf[0:2]),
		DstPort: binary.BigEndian.Uint16(buf[2:4]),
		Payload: buf[udpHeaderLen:length],
	}, nil
}

// EmitIPv4UDP builds a complete IPv4 datagram carrying a UDP payload from
// srcIP:srcPort to dstIP:dstPort. The UDP checksum is left zero, matching
// the TCP emission path's deliberate checksum omission.
func EmitIPv4UDP(srcIP, dstIP netip.Addr, srcPort, dstPort uint16, payload []byte, id uint16) []byte {
	udpLen := udpHeaderLen + len(payload)
	totalLen := minIPv4HeaderLen + udpLen
	buf := make([]byte, totalLen)

	udp := buf[minIPv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udp[6:8], 0) // checksum: left zero by design
	copy(udp[udpHeaderLen:], payload)

	putIPv4Header(buf, srcIP, dstIP, totalLen, ProtoUDP, id)
	return buf
}
