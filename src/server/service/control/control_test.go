// SPDX-License-Identifier: MIT
package control

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/apimgr/onionbridge/src/config"
	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/logging"
)

func newTestCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.DNS.Suffix = "example.com"
	cfg.Control.Enabled = true
	cfg.Control.Password = "s3cret"

	logger, err := logging.NewAppLogger(config.LogConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	coord := coordinator.New(cfg, "", logger)
	if err := coord.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	return coord
}

// session wires a control Server to one in-memory connection and gives
// tests a line-at-a-time reader/writer over it.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newSession(t *testing.T) *session {
	t.Helper()
	coord := newTestCoordinator(t)
	srv := New(coord, coord.Logger())

	client, server := net.Pipe()
	go srv.handle(server)

	sess := &session{conn: client, reader: bufio.NewReader(client)}
	sess.readLine(t) // greeting
	sess.readLine(t) // greeting terminator OK
	return sess
}

func (s *session) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func (s *session) readLine(t *testing.T) string {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := s.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// readUntilTerminal collects payload lines up to and including the OK/ERR
// terminator, returning the payload lines and whether it succeeded.
func (s *session) readUntilTerminal(t *testing.T) ([]string, bool) {
	t.Helper()
	var payload []string
	for {
		line := s.readLine(t)
		if line == "OK" {
			return payload, true
		}
		if line == "ERR" {
			return payload, false
		}
		payload = append(payload, line)
	}
}

func TestNoopAndVersion(t *testing.T) {
	sess := newSession(t)
	defer sess.conn.Close()

	sess.send(t, "NOOP")
	if _, ok := sess.readUntilTerminal(t); !ok {
		t.Fatal("expected NOOP to succeed")
	}

	sess.send(t, "VERSION")
	payload, ok := sess.readUntilTerminal(t)
	if !ok || len(payload) != 1 || payload[0] != "1" {
		t.Fatalf("expected VERSION payload [1], got %v ok=%v", payload, ok)
	}
}

func TestUnknownCommandIsErr(t *testing.T) {
	sess := newSession(t)
	defer sess.conn.Close()

	sess.send(t, "BOGUS")
	if _, ok := sess.readUntilTerminal(t); ok {
		t.Fatal("expected unknown command to return ERR")
	}
}

func TestCommandsRequireAuth(t *testing.T) {
	sess := newSession(t)
	defer sess.conn.Close()

	sess.send(t, "HALT")
	payload, ok := sess.readUntilTerminal(t)
	if ok {
		t.Fatal("expected HALT without auth to fail")
	}
	if len(payload) != 1 || payload[0] != "authentication required" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestAuthThenHaltCont(t *testing.T) {
	sess := newSession(t)
	defer sess.conn.Close()

	sess.send(t, "AUTH s3cret")
	payload, ok := sess.readUntilTerminal(t)
	if !ok || len(payload) != 1 || payload[0] != "User authenticated" {
		t.Fatalf("expected successful AUTH, got %v ok=%v", payload, ok)
	}

	sess.send(t, "AUTH s3cret")
	if _, ok := sess.readUntilTerminal(t); ok {
		t.Fatal("expected second AUTH on an authenticated session to fail")
	}

	sess.send(t, "HALT")
	if _, ok := sess.readUntilTerminal(t); !ok {
		t.Fatal("expected HALT to succeed once authenticated")
	}

	sess.send(t, "INFO")
	payload, ok = sess.readUntilTerminal(t)
	if !ok {
		t.Fatal("expected INFO to succeed")
	}
	if !contains(payload, "HALT=1") {
		t.Fatalf("expected INFO payload to report HALT=1, got %v", payload)
	}

	sess.send(t, "CONT")
	if _, ok := sess.readUntilTerminal(t); !ok {
		t.Fatal("expected CONT to succeed")
	}
}

func TestExitClosesConnection(t *testing.T) {
	sess := newSession(t)
	defer sess.conn.Close()

	sess.send(t, "EXIT")
	if _, ok := sess.readUntilTerminal(t); !ok {
		t.Fatal("expected EXIT to reply OK before closing")
	}
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
