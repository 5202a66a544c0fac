package session

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

func tuple(srcPort uint16) FiveTuple {
	return FiveTuple{
		Protocol: 6,
		SrcAddr:  netip.MustParseAddr("10.0.0.2"),
		SrcPort:  srcPort,
		DstAddr:  netip.MustParseAddr("93.184.216.34"),
		DstPort:  443,
	}
}

// closeTrackingConn records whether Close was called, standing in for a
// dialed upstream connection in tests.
type closeTrackingConn struct {
	net.Conn
	closed bool
}

func (c *closeTrackingConn) Close() error {
	c.closed = true
	return nil
}

func TestInsertTCP_ReplacesAndClosesPrior(t *testing.T) {
	table := NewTable()
	tup := tuple(1111)
	old := &closeTrackingConn{}
	table.InsertTCP(&TCPSession{Tuple: tup, Conn: old, LastActivity: time.Now()})

	table.InsertTCP(&TCPSession{Tuple: tup, LastActivity: time.Now()})

	if !old.closed {
		t.Fatal("expected prior session's connection to be closed on replace")
	}
	s, ok := table.LookupTCP(tup)
	if !ok {
		t.Fatal("expected replacement session to be present")
	}
	if s.Conn != nil {
		t.Fatal("expected replacement session to have the new (nil) conn")
	}
}

func TestLookupRemoveTCP(t *testing.T) {
	table := NewTable()
	tup := tuple(2222)
	table.InsertTCP(&TCPSession{Tuple: tup, LastActivity: time.Now()})

	if _, ok := table.LookupTCP(tup); !ok {
		t.Fatal("expected session to be found after insert")
	}
	table.RemoveTCP(tup)
	if _, ok := table.LookupTCP(tup); ok {
		t.Fatal("expected session to be gone after remove")
	}
}

func TestExpireIdle(t *testing.T) {
	table := NewTable()
	fresh := tuple(3333)
	stale := tuple(4444)
	now := time.Now()

	table.InsertTCP(&TCPSession{Tuple: fresh, LastActivity: now})
	table.InsertTCP(&TCPSession{Tuple: stale, LastActivity: now.Add(-2 * TCPIdleTimeout)})

	expiredTCP, expiredUDP := table.ExpireIdle(now)
	if len(expiredUDP) != 0 {
		t.Fatalf("expected no expired UDP sessions, got %d", len(expiredUDP))
	}
	if len(expiredTCP) != 1 || expiredTCP[0].Tuple != stale {
		t.Fatalf("expected only the stale session to expire, got %+v", expiredTCP)
	}
	if _, ok := table.LookupTCP(fresh); !ok {
		t.Fatal("expected fresh session to remain")
	}
	if _, ok := table.LookupTCP(stale); ok {
		t.Fatal("expected stale session to be removed from the table")
	}
}

func TestCloseAll(t *testing.T) {
	table := NewTable()
	tcpConn := &closeTrackingConn{}
	udpConn := &closeTrackingConn{}
	table.InsertTCP(&TCPSession{Tuple: tuple(5555), Conn: tcpConn, LastActivity: time.Now()})
	table.InsertUDP(&UDPSession{Tuple: FiveTuple{Protocol: 17, SrcPort: 2}, Conn: udpConn, LastActivity: time.Now()})

	table.CloseAll()

	if !tcpConn.closed || !udpConn.closed {
		t.Fatal("expected CloseAll to close every session's connection")
	}
	tcpCount, udpCount := table.Len()
	if tcpCount != 0 || udpCount != 0 {
		t.Fatalf("expected an empty table after CloseAll, got tcp=%d udp=%d", tcpCount, udpCount)
	}
}

func TestSetIdleTimeouts(t *testing.T) {
	table := NewTable()
	table.SetIdleTimeouts(5*time.Second, 0)

	now := time.Now()
	tup := tuple(6666)
	table.InsertTCP(&TCPSession{Tuple: tup, LastActivity: now.Add(-6 * time.Second)})

	expiredTCP, _ := table.ExpireIdle(now)
	if len(expiredTCP) != 1 || expiredTCP[0].Tuple != tup {
		t.Fatalf("expected the overridden 5s timeout to expire the session, got %+v", expiredTCP)
	}

	if table.udpIdleTimeout != UDPIdleTimeout {
		t.Fatalf("expected a zero override to leave the UDP timeout unchanged, got %v", table.udpIdleTimeout)
	}
}

func TestLen(t *testing.T) {
	table := NewTable()
	table.InsertTCP(&TCPSession{Tuple: tuple(1), LastActivity: time.Now()})
	table.InsertUDP(&UDPSession{Tuple: FiveTuple{Protocol: 17, SrcPort: 1}, LastActivity: time.Now()})

	tcpCount, udpCount := table.Len()
	if tcpCount != 1 || udpCount != 1 {
		t.Fatalf("expected 1 tcp and 1 udp session, got %d/%d", tcpCount, udpCount)
	}
}
