// SPDX-License-Identifier: MIT
package pipeline

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/apimgr/onionbridge/src/config"
	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/lists"
	"github.com/apimgr/onionbridge/src/server/service/logging"
)

const testOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"

// fakeSocksServer accepts one SOCKS4a connect, replies "granted", writes
// reply back on the established tunnel and hands the raw bytes written by
// the client to the caller through capture.
func fakeSocksServer(t *testing.T, reply []byte, capture *[]byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// SOCKS4a connect request: VN CD DSTPORT(2) DSTIP(4) USERID\0 HOST\0
		br := bufio.NewReader(conn)
		header := make([]byte, 8)
		io.ReadFull(br, header) // VN CD DSTPORT(2) DSTIP(4)
		br.ReadString(0)       // USERID\0
		br.ReadString(0)       // HOST\0
		conn.Write([]byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0})

		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		*capture = append(*capture, buf[:n]...)
		conn.Write(reply)
	}()

	return ln.Addr().String()
}

func newTestPipeline(t *testing.T, socksAddr string) (*Pipeline, *coordinator.Coordinator) {
	t.Helper()
	cfg := config.Default()
	cfg.DNS.Suffix = "example.com"
	cfg.Control.Enabled = false
	if socksAddr != "" {
		host, port, err := net.SplitHostPort(socksAddr)
		if err != nil {
			t.Fatalf("split socks addr: %v", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			t.Fatalf("parse socks port: %v", err)
		}
		cfg.Tor.IP = host
		cfg.Tor.Port = p
	}

	logger, err := logging.NewAppLogger(config.LogConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	coord := coordinator.New(cfg, "", logger)
	if err := coord.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	return New(coord, logger), coord
}

func serveOnLoopback(t *testing.T, p *Pipeline) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go p.Serve(ln)
	return ln.Addr().String()
}

func sendRequest(t *testing.T, addr, host string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: " + host + "\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

func TestForwardsValidOnionRequestThroughSocks(t *testing.T) {
	var captured []byte
	canned := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")
	socksAddr := fakeSocksServer(t, canned, &captured)

	p, _ := newTestPipeline(t, socksAddr)
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, testOnion+".example.com")
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("expected response forwarded from upstream, got %q", resp)
	}
	if !strings.Contains(string(captured), "Host: "+testOnion) {
		t.Fatalf("expected rewritten Host header to reach upstream, got %q", captured)
	}
}

func TestBlacklistedHostIsRefusedWithoutDialing(t *testing.T) {
	p, coord := newTestPipeline(t, "")
	if err := coord.Lists.AddBlacklist(&lists.BlacklistEntry{
		Domain: testOnion,
		Name:   "Example",
		Reason: lists.Forbidden,
	}); err != nil {
		t.Fatalf("AddBlacklist() error: %v", err)
	}
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, testOnion+".example.com")
	if !strings.Contains(resp, "403") {
		t.Fatalf("expected 403 response for blacklisted onion, got %q", resp)
	}
}

func TestAliasRedirectsWithoutDialing(t *testing.T) {
	p, coord := newTestPipeline(t, "")
	if err := coord.Lists.AddAlias(&lists.AliasEntry{
		Alias: "myalias",
		Onion: testOnion,
		Type:  lists.Redirect,
	}); err != nil {
		t.Fatalf("AddAlias() error: %v", err)
	}
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, "myalias.example.com")
	if !strings.Contains(resp, "307") {
		t.Fatalf("expected a 307 redirect response, got %q", resp)
	}
	if !strings.Contains(resp, testOnion) {
		t.Fatalf("expected redirect location to reference canonical onion, got %q", resp)
	}
}

func TestAliasRewriteDialsCanonicalOnion(t *testing.T) {
	var captured []byte
	canned := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	socksAddr := fakeSocksServer(t, canned, &captured)

	p, coord := newTestPipeline(t, socksAddr)
	if err := coord.Lists.AddAlias(&lists.AliasEntry{
		Alias: "myalias",
		Onion: testOnion,
		Type:  lists.Rewrite,
	}); err != nil {
		t.Fatalf("AddAlias() error: %v", err)
	}
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, "myalias.example.com")
	if !strings.Contains(resp, "200 OK") {
		t.Fatalf("expected forwarded response, got %q", resp)
	}
	if !strings.Contains(string(captured), "Host: "+testOnion) {
		t.Fatalf("expected alias to resolve to the canonical onion host, got %q", captured)
	}
}

func TestV2AddressReturnsGone(t *testing.T) {
	p, _ := newTestPipeline(t, "")
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, "aaaaaaaaaaaaaaaa.example.com")
	if !strings.Contains(resp, "410") {
		t.Fatalf("expected 410 Gone for a v2-shaped address, got %q", resp)
	}
}

func TestInvalidLabelReturnsBadRequest(t *testing.T) {
	p, _ := newTestPipeline(t, "")
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, "not-an-onion.example.com")
	if !strings.Contains(resp, "400") {
		t.Fatalf("expected 400 Bad Request for a malformed label, got %q", resp)
	}
}

func TestHostNotMatchingSuffixReturnsBadRequest(t *testing.T) {
	p, _ := newTestPipeline(t, "")
	addr := serveOnLoopback(t, p)

	resp := sendRequest(t, addr, testOnion+".other.org")
	if !strings.Contains(resp, "400") {
		t.Fatalf("expected 400 Bad Request for a non-matching suffix, got %q", resp)
	}
}
