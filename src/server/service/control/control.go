// SPDX-License-Identifier: MIT
// Server implements the line-based control protocol: a free-form
// greeting, then a read-dispatch-respond loop per connection. The
// command table is a static map from verb to handler, per the "dynamic
// dispatch over chained conditionals" design note — there is no big
// switch statement to grow.
package control

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/lists"
	"github.com/apimgr/onionbridge/src/server/service/logging"
	"github.com/apimgr/onionbridge/src/server/service/metrics"
	"github.com/apimgr/onionbridge/src/server/service/onion"
)

const protocolVersion = "1"

// Server accepts control connections and runs each through the protocol
// state machine.
type Server struct {
	coord  *coordinator.Coordinator
	logger *logging.AppLogger
}

// New returns a Server bound to coord.
func New(coord *coordinator.Coordinator, logger *logging.AppLogger) *Server {
	return &Server{coord: coord, logger: logger}
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// session is the per-connection state machine: Unauthenticated until a
// successful AUTH, Authenticated thereafter, with no transition back.
type session struct {
	authed bool
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	suffix := s.coord.Config().DNS.Suffix
	if _, err := fmt.Fprintf(conn, "Http2Socks http://%s\r\nOK\r\n", suffix); err != nil {
		return
	}

	sess := &session{}
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" && err != nil {
			return
		}
		if trimmed != "" {
			if s.dispatch(conn, sess, trimmed) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dispatch runs one command line and writes its response. It returns
// true only for EXIT; write errors are not checked here, and the read
// loop in handle ends when the next read fails.
func (s *Server) dispatch(conn net.Conn, sess *session, line string) bool {
	verb, rest := splitCommand(line)
	upper := strings.ToUpper(verb)

	switch upper {
	case "EXIT":
		respond(conn, nil, true)
		return true
	case "NOOP":
		respond(conn, nil, true)
	case "AUTH":
		s.handleAuth(conn, sess, rest)
	default:
		handler, known := commands[upper]
		if !known {
			metrics.ControlCommandsTotal.WithLabelValues(strings.ToLower(upper), "err").Inc()
			respond(conn, nil, false)
			return false
		}
		args := splitArgs(rest)
		if handler.requiresAuth && !sess.authed {
			metrics.ControlCommandsTotal.WithLabelValues(strings.ToLower(upper), "err").Inc()
			respond(conn, []string{"authentication required"}, false)
			return false
		}
		payload, ok := handler.fn(s.coord, sess, args)
		result := "ok"
		if !ok {
			result = "err"
		}
		metrics.ControlCommandsTotal.WithLabelValues(strings.ToLower(upper), result).Inc()
		respond(conn, payload, ok)
	}
	return false
}

func (s *Server) handleAuth(conn net.Conn, sess *session, candidate string) {
	if sess.authed {
		respond(conn, []string{"User already authenticated"}, false)
		return
	}
	if s.coord.AuthAttempt(candidate) {
		sess.authed = true
		respond(conn, []string{"User authenticated"}, true)
		return
	}
	respond(conn, nil, false)
}

// splitCommand separates the verb from the remainder of the line
// without touching internal spacing — AUTH's credential argument may
// itself contain spaces.
func splitCommand(line string) (verb, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

// splitArgs splits the positional-argument remainder on single spaces;
// consecutive spaces therefore yield an empty-string token for a skipped
// optional argument.
func splitArgs(rest string) []string {
	if rest == "" {
		return nil
	}
	return strings.Split(rest, " ")
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func respond(conn net.Conn, payload []string, ok bool) {
	for _, line := range payload {
		fmt.Fprintf(conn, "%s\r\n", line)
	}
	if ok {
		fmt.Fprint(conn, "OK\r\n")
	} else {
		fmt.Fprint(conn, "ERR\r\n")
	}
}

type commandFunc func(coord *coordinator.Coordinator, sess *session, args []string) (payload []string, ok bool)

type command struct {
	requiresAuth bool
	fn           commandFunc
}

var commands = map[string]command{
	"VERSION":   {false, cmdVersion},
	"INFO":      {false, cmdInfo},
	"HALT":      {true, cmdHalt},
	"CONT":      {true, cmdCont},
	"BLRELOAD":  {true, cmdBlReload},
	"ALRELOAD":  {true, cmdAlReload},
	"BLLIST":    {true, cmdBlList},
	"ALLIST":    {true, cmdAlList},
	"BLADD":     {true, cmdBlAdd},
	"ALADD":     {true, cmdAlAdd},
	"BLREMOVE":  {true, cmdBlRemove},
	"ALREMOVE":  {true, cmdAlRemove},
	"BLSAVE":    {true, cmdBlSave},
	"ALSAVE":    {true, cmdAlSave},
}

func cmdVersion(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	return []string{protocolVersion}, true
}

func cmdInfo(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	authed := "0"
	if sess.authed {
		authed = "1"
	}
	payload := []string{"AUTH=" + authed}
	if sess.authed {
		halt := "0"
		if coord.Halted() {
			halt = "1"
		}
		blFile, alFile := "0", "0"
		if coord.BlacklistFileConfigured() {
			blFile = "1"
		}
		if coord.AliasFileConfigured() {
			alFile = "1"
		}
		payload = append(payload, "HALT="+halt, "BLFILE="+blFile, "ALFILE="+alFile)
	}
	return payload, true
}

func cmdHalt(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	changed, err := coord.SetHalt(true)
	if err != nil {
		return []string{err.Error()}, false
	}
	if changed {
		return []string{"Halted"}, true
	}
	return []string{"Already halted"}, true
}

func cmdCont(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	changed, err := coord.SetHalt(false)
	if err != nil {
		return []string{err.Error()}, false
	}
	if changed {
		return []string{"Resumed"}, true
	}
	return []string{"Already running"}, true
}

func cmdBlReload(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.ReloadBlacklist(); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdAlReload(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.ReloadAliases(); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdBlList(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	text, err := coord.Lists.ListBlacklistINI()
	if err != nil {
		return []string{err.Error()}, false
	}
	return splitLines(text), true
}

func cmdAlList(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	text, err := coord.Lists.ListAliasesINI()
	if err != nil {
		return []string{err.Error()}, false
	}
	return splitLines(text), true
}

func cmdBlAdd(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	domain := arg(args, 0)
	name := onion.URLDecode(arg(args, 1))
	notes := onion.URLDecode(arg(args, 2))
	reasonArg := arg(args, 3)
	if reasonArg == "" {
		reasonArg = "403"
	}
	reason, err := lists.ParseReason(reasonArg)
	if err != nil {
		return []string{err.Error()}, false
	}
	entry := &lists.BlacklistEntry{
		Domain: domain,
		Name:   name,
		Notes:  notes,
		Reason: reason,
		URL:    arg(args, 4),
	}
	if err := coord.Lists.AddBlacklist(entry); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdAlAdd(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	onionAddr := arg(args, 0)
	alias := arg(args, 1)
	typeArg := arg(args, 2)
	if typeArg == "" {
		typeArg = "Rewrite"
	}
	aliasType, err := lists.ParseAliasType(typeArg)
	if err != nil {
		return []string{err.Error()}, false
	}
	entry := &lists.AliasEntry{Alias: alias, Onion: onionAddr, Type: aliasType}
	if err := coord.Lists.AddAlias(entry); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdBlRemove(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.RemoveBlacklist(arg(args, 0)); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdAlRemove(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.RemoveAlias(arg(args, 0)); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdBlSave(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.SaveBlacklist(); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func cmdAlSave(coord *coordinator.Coordinator, sess *session, args []string) ([]string, bool) {
	if err := coord.Lists.SaveAliases(); err != nil {
		return []string{err.Error()}, false
	}
	return nil, true
}

func splitLines(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
