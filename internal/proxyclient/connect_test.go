package proxyclient

import (
	"net/netip"
	"strings"
	"testing"
)

func TestBuildConnectRequest(t *testing.T) {
	dst := netip.MustParseAddrPort("93.184.216.34:443")
	got := string(BuildConnectRequest(dst))
	want := "CONNECT 93.184.216.34:443 HTTP/1.1\r\n\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadConnectResponse_Accepts200(t *testing.T) {
	r := strings.NewReader("HTTP/1.1 200 Connection Established\r\n\r\n")
	ok, err := ReadConnectResponse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected success for a 200 response")
	}
}

func TestReadConnectResponse_RejectsStatusOutsideStatusLine(t *testing.T) {
	// "200" appears only in a header value here, not the status line. A
	// substring search would wrongly accept this; a real parse must not.
	r := strings.NewReader("HTTP/1.1 407 Proxy Authentication Required\r\nX-Note: 200 is fine normally\r\n\r\n")
	ok, err := ReadConnectResponse(r)
	if ok || err == nil {
		t.Fatalf("expected failure when 200 only appears outside the status line, got ok=%v err=%v", ok, err)
	}
}

func TestReadConnectResponse_Accepts200WithHeaders(t *testing.T) {
	r := strings.NewReader("HTTP/1.1 200 Connection Established\r\nVia: 1.1 proxy\r\n\r\n")
	ok, err := ReadConnectResponse(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected success for a 200 response with headers")
	}
}

func TestReadConnectResponse_RejectsNon200(t *testing.T) {
	r := strings.NewReader("HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
	ok, err := ReadConnectResponse(r)
	if ok || err == nil {
		t.Fatalf("expected failure for a 407 response, got ok=%v err=%v", ok, err)
	}
}

func TestReadConnectResponse_RejectsEmpty(t *testing.T) {
	r := strings.NewReader("")
	ok, err := ReadConnectResponse(r)
	if ok || err == nil {
		t.Fatal("expected failure for an empty response")
	}
}
