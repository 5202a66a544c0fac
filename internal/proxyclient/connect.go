// Package proxyclient implements the HTTP CONNECT handshake used to open a
// tunnel through an upstream proxy before relaying a TCP session. The
// original bridge this engine descends from
// (original_source/app/src/main/cpp/core_stub.cpp) accepts any response
// whose bytes contain "200" anywhere; this engine instead parses the
// status line properly, since a substring match also accepts a "200" that
// only appears in a header value or an error body.
package proxyclient

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/netip"

	"tun2http/internal/core"
)

// maxResponseScan bounds how many bytes of a CONNECT response this package
// will read while parsing the status line and headers, matching the
// original bridge's fixed response buffer.
const maxResponseScan = 511

// BuildConnectRequest renders the CONNECT request line this engine sends to
// the upstream proxy for a TCP session to dst.
func BuildConnectRequest(dst netip.AddrPort) []byte {
	return []byte(fmt.Sprintf("CONNECT %s HTTP/1.1\r\n\r\n", dst))
}

// ReadConnectResponse parses an HTTP status line and header block from r and
// reports whether the proxy answered the CONNECT with a 2xx status. Unlike
// a substring search, a "200" appearing only in a header value or a body
// does not count — the status line itself must carry the code. Reading
// through net/http also drains the header block, so a later read on r
// starts at the tunneled byte stream rather than mid-header.
func ReadConnectResponse(r io.Reader) (bool, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, maxResponseScan), maxResponseScan)

	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, fmt.Errorf("[ProxyClient] connect response: %w", core.ErrProxyHandshakeFailed)
		}
		return false, fmt.Errorf("[ProxyClient] read connect response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("[ProxyClient] connect rejected with status %d: %w", resp.StatusCode, core.ErrProxyHandshakeFailed)
	}
	return true, nil
}
