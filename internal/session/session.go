// Package session tracks in-flight TCP and UDP flows forwarded through the
// engine, keyed by five-tuple. The single-threaded reactor only ever
// touches the table from one goroutine, so a single table with one mutex is
// the right shape (and is needed anyway for the ABI's synchronous
// stop/inspection paths) rather than the sharded NAT table a
// high-throughput redirection path would use.
package session

import (
	"io"
	"net/netip"
	"time"
)

// FiveTuple identifies a flow. It is a plain comparable struct — not a
// hashed or packed integer key — so it can be used directly as a map key
// and printed for diagnostics without reconstruction.
type FiveTuple struct {
	Protocol uint8
	SrcAddr  netip.Addr
	SrcPort  uint16
	DstAddr  netip.Addr
	DstPort  uint16
}

// TCPState is a state in the TCP proxy handshake state machine.
type TCPState int

const (
	TCPStateInit TCPState = iota
	TCPStateConnecting
	TCPStateProxyConnect
	TCPStateProxyResponse
	TCPStateEstablished
	TCPStateClosing
)

func (s TCPState) String() string {
	switch s {
	case TCPStateInit:
		return "INIT"
	case TCPStateConnecting:
		return "CONNECTING"
	case TCPStateProxyConnect:
		return "PROXY_CONNECT"
	case TCPStateProxyResponse:
		return "PROXY_RESPONSE"
	case TCPStateEstablished:
		return "ESTABLISHED"
	case TCPStateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// PendingUplinkCap bounds the buffer a TCP session accumulates while a proxy
// handshake is outstanding. A client that keeps writing during
// PROXY_CONNECT/PROXY_RESPONSE eventually overflows it and the session is
// torn down.
const PendingUplinkCap = 64 * 1024

// TCPSession tracks one TCP flow's proxy handshake and relay state.
type TCPSession struct {
	Tuple FiveTuple
	State TCPState

	ClientInitialSeq uint32 // the client's SYN sequence number
	ServerInitialSeq uint32 // this engine's randomly chosen ISN, used only in the SYN-ACK

	Conn io.ReadWriteCloser // the proxied/direct upstream connection once dialed

	// PendingUplink buffers client payload bytes that arrive while the
	// proxy CONNECT handshake is in progress (PROXY_CONNECT/PROXY_RESPONSE);
	// payload arriving during CONNECTING is dropped, not buffered. Flushed
	// in order on the ESTABLISHED transition.
	PendingUplink []byte

	LastActivity time.Time
}

// Touch updates the session's last-activity timestamp to now.
func (s *TCPSession) Touch() { s.LastActivity = time.Now() }

// UDPSession tracks one UDP flow's NAT mapping to an upstream socket.
type UDPSession struct {
	Tuple        FiveTuple
	Conn         io.ReadWriteCloser
	LastActivity time.Time
}

// Touch updates the session's last-activity timestamp to now.
func (s *UDPSession) Touch() { s.LastActivity = time.Now() }
