package core

import "errors"

// Errors returned by the control surface and the packet codec. Callers that
// need to branch on a specific condition should use errors.Is against these;
// everything else is wrapped with fmt.Errorf("[Tag] ...: %w", err).
var (
	// ErrAlreadyRunning is returned (wrapped) by Init when called on a
	// running engine. Start never returns it — calling Start while running
	// is a no-op.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrShortPacket is returned by the codec when a buffer is too short to
	// contain a valid header of the claimed kind.
	ErrShortPacket = errors.New("packet too short")
	// ErrNotIPv4 is returned when the IP version nibble is not 4.
	ErrNotIPv4 = errors.New("not an IPv4 packet")
	// ErrUnsupportedProtocol is logged when a packet carries an IP protocol
	// other than TCP/UDP; the packet is dropped.
	ErrUnsupportedProtocol = errors.New("unsupported IP protocol")
	// ErrPendingUplinkOverflow is logged when a TCP session's buffered
	// uplink queue exceeds its cap during a proxy handshake; the session is
	// removed.
	ErrPendingUplinkOverflow = errors.New("pending uplink buffer overflow")
	// ErrProxyHandshakeFailed is returned when the upstream proxy's CONNECT
	// response did not indicate success.
	ErrProxyHandshakeFailed = errors.New("proxy CONNECT handshake failed")
)
