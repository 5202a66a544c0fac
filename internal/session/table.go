package session

import (
	"sync"
	"time"
)

// Default idle timeouts for reaping sessions the reactor hasn't heard from.
const (
	TCPIdleTimeout = 60 * time.Second
	UDPIdleTimeout = 30 * time.Second
)

// Table holds all live TCP and UDP sessions behind a single mutex. The
// reactor is the table's only caller, but the mutex stays because Stop and
// diagnostic inspection (Len) may run from the control surface
// while the reactor goroutine is active.
type Table struct {
	mu  sync.Mutex
	tcp map[FiveTuple]*TCPSession
	udp map[FiveTuple]*UDPSession

	tcpIdleTimeout time.Duration
	udpIdleTimeout time.Duration
}

// NewTable returns an empty session table with the default idle timeouts.
func NewTable() *Table {
	return &Table{
		tcp:            make(map[FiveTuple]*TCPSession),
		udp:            make(map[FiveTuple]*UDPSession),
		tcpIdleTimeout: TCPIdleTimeout,
		udpIdleTimeout: UDPIdleTimeout,
	}
}

// SetIdleTimeouts overrides the default idle timeouts used by ExpireIdle. A
// zero duration leaves the corresponding timeout unchanged.
func (t *Table) SetIdleTimeouts(tcp, udp time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tcp > 0 {
		t.tcpIdleTimeout = tcp
	}
	if udp > 0 {
		t.udpIdleTimeout = udp
	}
}

// InsertTCP installs s, replacing and closing any prior session for the
// same tuple. A second SYN on a tuple that already has a session closes the
// old one rather than being rejected (matching core_stub.cpp's handling of
// a repeated SYN on an established flow).
func (t *Table) InsertTCP(s *TCPSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.tcp[s.Tuple]; ok && old.Conn != nil {
		old.Conn.Close()
	}
	t.tcp[s.Tuple] = s
}

// LookupTCP returns the session for tuple, if any.
func (t *Table) LookupTCP(tuple FiveTuple) (*TCPSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.tcp[tuple]
	return s, ok
}

// RemoveTCP deletes the session for tuple without closing its connection —
// callers that already hold a reference close it themselves to avoid
// double-closing on a concurrent expiry sweep.
func (t *Table) RemoveTCP(tuple FiveTuple) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tcp, tuple)
}

// InsertUDP installs s, replacing (without closing) any prior session for
// the same tuple — UDP has no handshake to interrupt, so the caller is
// expected to have already decided a replacement is appropriate.
func (t *Table) InsertUDP(s *UDPSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.udp[s.Tuple] = s
}

// LookupUDP returns the session for tuple, if any.
func (t *Table) LookupUDP(tuple FiveTuple) (*UDPSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.udp[tuple]
	return s, ok
}

// RemoveUDP deletes the session for tuple.
func (t *Table) RemoveUDP(tuple FiveTuple) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.udp, tuple)
}

// ExpireIdle removes and returns all TCP and UDP sessions whose last
// activity is older than their respective idle timeout as of now. Callers
// are responsible for closing the returned sessions' connections — this
// method only detaches them from the table so the reactor can close their
// connections outside the lock.
func (t *Table) ExpireIdle(now time.Time) (tcp []*TCPSession, udp []*UDPSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tuple, s := range t.tcp {
		if now.Sub(s.LastActivity) >= t.tcpIdleTimeout {
			tcp = append(tcp, s)
			delete(t.tcp, tuple)
		}
	}
	for tuple, s := range t.udp {
		if now.Sub(s.LastActivity) >= t.udpIdleTimeout {
			udp = append(udp, s)
			delete(t.udp, tuple)
		}
	}
	return tcp, udp
}

// Len returns the current number of TCP and UDP sessions.
func (t *Table) Len() (tcpCount, udpCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tcp), len(t.udp)
}

// CloseAll closes every live session's upstream connection and empties the
// table. Used once, on global shutdown, so every socket this engine opened
// is released even if no FIN/RST ever arrived for it.
func (t *Table) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.tcp {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
	for _, s := range t.udp {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
	t.tcp = make(map[FiveTuple]*TCPSession)
	t.udp = make(map[FiveTuple]*UDPSession)
}
