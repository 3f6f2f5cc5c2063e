// SPDX-License-Identifier: MIT
// SocksDialer opens a SOCKS4a tunnel through a local Tor client. SOCKS4a is
// hand-rolled here rather than delegated to golang.org/x/net/proxy, which
// only speaks SOCKS5 — the wire framing is deliberately part of the core.
package socks

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrRejected is returned when the SOCKS server replies with anything but
// "request granted" (0x5A).
var ErrRejected = errors.New("socks4a: request rejected or failed")

// ErrHostTooLong is returned when the destination hostname cannot fit in a
// single SOCKS4a frame.
var ErrHostTooLong = errors.New("socks4a: destination host name too long")

// Dial opens a SOCKS4a CONNECT tunnel to host:port through the SOCKS
// server at proxyAddr, using ident as the (unauthenticated) user-id field.
// The connect phase — dial plus handshake — is bounded by timeout; once the
// tunnel is established, reads and writes carry no deadline.
func Dial(proxyAddr, ident, host string, port int, timeout time.Duration) (net.Conn, error) {
	if len(host) > 255 {
		return nil, ErrHostTooLong
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks4a: connect to proxy: %w", err)
	}

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	req := buildRequest(ident, host, port)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4a: write request: %w", err)
	}

	reply := make([]byte, 8)
	if _, err := readFull(conn, reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks4a: read reply: %w", err)
	}

	if reply[0] != 0x00 || reply[1] != 0x5A {
		conn.Close()
		return nil, ErrRejected
	}

	// Clear the connect-phase deadline; the tunnel now behaves like a plain
	// long-lived connection for the splicer.
	conn.SetDeadline(time.Time{})
	return conn, nil
}

// buildRequest assembles the raw SOCKS4a CONNECT frame:
//
//	VN(1) CD(1) DSTPORT(2) DSTIP(4=0.0.0.x) USERID(n)\0 HOSTNAME(n)\0
func buildRequest(ident, host string, port int) []byte {
	req := make([]byte, 0, 9+len(ident)+len(host))
	req = append(req, 0x04, 0x01)
	req = append(req, byte(port>>8), byte(port))
	req = append(req, 0x00, 0x00, 0x00, byte(len(host)))
	req = append(req, []byte(ident)...)
	req = append(req, 0x00)
	req = append(req, []byte(host)...)
	req = append(req, 0x00)
	return req
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
