// SPDX-License-Identifier: MIT
package socks

import (
	"encoding/hex"
	"net"
	"testing"
	"time"
)

// startFakeServer accepts a single connection, hands the raw request bytes
// to capture, then writes reply back.
func startFakeServer(t *testing.T, reply []byte, capture *[]byte) string {
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

		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		*capture = append(*capture, buf[:n]...)
		conn.Write(reply)
	}()

	return ln.Addr().String()
}

func TestDialBuildsExpectedFrame(t *testing.T) {
	var captured []byte
	addr := startFakeServer(t, []byte{0x00, 0x5A, 0, 0, 0, 0, 0, 0}, &captured)

	host := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	conn, err := Dial(addr, "203.0.113.9", host, 80, time.Second)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	if len(captured) < 8 {
		t.Fatalf("short capture: %x", captured)
	}
	prefix := captured[:8]
	want, _ := hex.DecodeString("0401005000000000")
	want[7] = byte(len(host))
	if string(prefix) != string(want) {
		t.Errorf("got % X want % X", prefix, want)
	}
	if len(host) != 62 {
		t.Fatalf("fixture host must be 62 bytes, is %d", len(host))
	}
}

func TestDialRejected(t *testing.T) {
	var captured []byte
	addr := startFakeServer(t, []byte{0x00, 0x5B, 0, 0, 0, 0, 0, 0}, &captured)

	_, err := Dial(addr, "1.2.3.4", "x.onion", 80, time.Second)
	if err != ErrRejected {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestDialHostTooLong(t *testing.T) {
	longHost := make([]byte, 256)
	for i := range longHost {
		longHost[i] = 'a'
	}
	_, err := Dial("127.0.0.1:1", "1.2.3.4", string(longHost), 80, time.Second)
	if err != ErrHostTooLong {
		t.Fatalf("expected ErrHostTooLong, got %v", err)
	}
}
