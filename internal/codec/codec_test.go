package codec

import (
	"net/netip"
	"testing"
)

func buildIPv4(t *testing.T, ihl byte, totalLen uint16, protocol byte, payload []byte) []byte {
	t.Helper()
	hdrLen := int(ihl) * 4
	buf := make([]byte, hdrLen+len(payload))
	buf[0] = 0x40 | ihl
	buf[2] = byte(totalLen >> 8)
	buf[3] = byte(totalLen)
	buf[9] = protocol
	copy(buf[12:16], []byte{10, 0, 0, 1})
	copy(buf[16:20], []byte{10, 0, 0, 2})
	copy(buf[hdrLen:], payload)
	return buf
}

func TestParseIPv4_RejectsShort(t *testing.T) {
	_, err := ParseIPv4([]byte{0x45, 0, 0, 10})
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParseIPv4_RejectsNonIPv4(t *testing.T) {
	buf := buildIPv4(t, 5, 20, ProtoTCP, nil)
	buf[0] = 0x60 | 5 // version 6
	_, err := ParseIPv4(buf)
	if err == nil {
		t.Fatal("expected error for non-IPv4 version")
	}
}

func TestParseIPv4_RejectsIHLBelowFive(t *testing.T) {
	buf := buildIPv4(t, 5, 20, ProtoTCP, nil)
	buf[0] = 0x40 | 4
	_, err := ParseIPv4(buf)
	if err == nil {
		t.Fatal("expected error for IHL < 5")
	}
}

func TestParseIPv4_RejectsTotalLenBelowHeader(t *testing.T) {
	buf := buildIPv4(t, 5, 10, ProtoTCP, nil) // total-length < IHL*4
	_, err := ParseIPv4(buf)
	if err == nil {
		t.Fatal("expected error for total-length < IHL*4")
	}
}

func TestParseIPv4_ParsesFields(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf := buildIPv4(t, 5, uint16(20+len(payload)), ProtoUDP, payload)
	p, err := ParseIPv4(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Src != netip.MustParseAddr("10.0.0.1") || p.Dst != netip.MustParseAddr("10.0.0.2") {
		t.Fatalf("unexpected addresses: %v -> %v", p.Src, p.Dst)
	}
	if p.Protocol != ProtoUDP {
		t.Fatalf("expected protocol %d, got %d", ProtoUDP, p.Protocol)
	}
	if string(p.Payload) != string(payload) {
		t.Fatalf("unexpected payload: %v", p.Payload)
	}
}

func TestParseTCP_RejectsShort(t *testing.T) {
	_, err := ParseTCP(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error for short TCP segment")
	}
}

func TestParseTCP_RejectsDataOffsetBeyondSegment(t *testing.T) {
	buf := make([]byte, minTCPHeaderLen)
	buf[12] = 10 << 4 // data offset 40 bytes, but segment is only 20 bytes
	_, err := ParseTCP(buf)
	if err == nil {
		t.Fatal("expected error for data offset exceeding segment length")
	}
}

func TestParseTCP_ParsesFlagsAndPayload(t *testing.T) {
	buf := make([]byte, minTCPHeaderLen+3)
	buf[0], buf[1] = 0x1F, 0x90 // src port 8080
	buf[2], buf[3] = 0, 80      // dst port 80
	buf[4], buf[5], buf[6], buf[7] = 0, 0, 0x03, 0xe8 // seq 1000
	buf[12] = 5 << 4
	buf[13] = byte(FlagSYN | FlagACK)
	copy(buf[minTCPHeaderLen:], []byte{9, 9, 9})

	p, err := ParseTCP(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SrcPort != 8080 || p.DstPort != 80 {
		t.Fatalf("unexpected ports: %d -> %d", p.SrcPort, p.DstPort)
	}
	if p.Seq != 1000 {
		t.Fatalf("expected seq 1000, got %d", p.Seq)
	}
	if !p.Flags.Has(FlagSYN) || !p.Flags.Has(FlagACK) {
		t.Fatalf("expected SYN|ACK, got %v", p.Flags)
	}
	if string(p.Payload) != "\x09\x09\x09" {
		t.Fatalf("unexpected payload: %v", p.Payload)
	}
}

func TestEmitIPv4TCP_RoundTrips(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.0.0.1")
	payload := []byte("hello")
	buf := EmitIPv4TCP(src, dst, 80, 54321, 1000, 2000, FlagACK|FlagPSH, payload, 42)

	ip, err := ParseIPv4(buf)
	if err != nil {
		t.Fatalf("unexpected IPv4 parse error: %v", err)
	}
	if ip.Src != src || ip.Dst != dst || ip.Protocol != ProtoTCP {
		t.Fatalf("unexpected IPv4 fields: %+v", ip)
	}
	tcp, err := ParseTCP(ip.Payload)
	if err != nil {
		t.Fatalf("unexpected TCP parse error: %v", err)
	}
	if tcp.SrcPort != 80 || tcp.DstPort != 54321 || tcp.Seq != 1000 || tcp.Ack != 2000 {
		t.Fatalf("unexpected TCP fields: %+v", tcp)
	}
	if string(tcp.Payload) != "hello" {
		t.Fatalf("unexpected TCP payload: %q", tcp.Payload)
	}
	if ck := ipv4Checksum(buf[:minIPv4HeaderLen]); buf[10] != byte(ck>>8) || buf[11] != byte(ck) {
		t.Fatalf("expected stored header checksum %#x to match the recomputed %#x", buf[10:12], ck)
	}
}

func TestEmitSynAck_AcknowledgesClientSeqPlusOne(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.0.0.1")
	buf := EmitSynAck(src, dst, 443, 5555, 777, 999, 1)

	ip, err := ParseIPv4(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tcp, err := ParseTCP(ip.Payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tcp.Seq != 777 {
		t.Fatalf("expected seq 777, got %d", tcp.Seq)
	}
	if tcp.Ack != 1000 {
		t.Fatalf("expected ack 1000 (clientSeq+1), got %d", tcp.Ack)
	}
	if !tcp.Flags.Has(FlagSYN) || !tcp.Flags.Has(FlagACK) {
		t.Fatalf("expected SYN|ACK flags, got %v", tcp.Flags)
	}
}

func TestParseUDP_RejectsShort(t *testing.T) {
	_, err := ParseUDP(make([]byte, 4))
	if err == nil {
		t.Fatal("expected error for short UDP datagram")
	}
}

func TestEmitIPv4UDP_RoundTrips(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.2")
	dst := netip.MustParseAddr("10.0.0.1")
	payload := []byte("dns-query")
	buf := EmitIPv4UDP(src, dst, 53, 12345, payload, 7)

	ip, err := ParseIPv4(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip.Protocol != ProtoUDP {
		t.Fatalf("expected UDP protocol, got %d", ip.Protocol)
	}
	udp, err := ParseUDP(ip.Payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if udp.SrcPort != 53 || udp.DstPort != 12345 {
		t.Fatalf("unexpected ports: %d -> %d", udp.SrcPort, udp.DstPort)
	}
	if string(udp.Payload) != "dns-query" {
		t.Fatalf("unexpected payload: %q", udp.Payload)
	}
}
