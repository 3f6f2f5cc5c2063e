// SPDX-License-Identifier: MIT
// Pipeline is the HTTP ingress: accept a plain-HTTP connection, read its
// head, resolve the onion host through the alias and blacklist tables,
// and either answer directly or splice the client to a freshly dialed
// SOCKS4a tunnel. Every step mirrors one numbered step of the request
// pipeline design.
package pipeline

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/httpio"
	"github.com/apimgr/onionbridge/src/server/service/lists"
	"github.com/apimgr/onionbridge/src/server/service/logging"
	"github.com/apimgr/onionbridge/src/server/service/metrics"
	"github.com/apimgr/onionbridge/src/server/service/onion"
	"github.com/apimgr/onionbridge/src/server/service/socks"
	"github.com/apimgr/onionbridge/src/server/service/splice"
)

// haltPollInterval is the deliberately simple wall-clock wait used while
// the halt flag is set; see the design notes on replacing it with a
// condition variable only if both HALT and CONT also learn to notify it.
const haltPollInterval = 100 * time.Millisecond

// Pipeline serves the plain-HTTP listener.
type Pipeline struct {
	coord  *coordinator.Coordinator
	logger *logging.AppLogger
	suffix *regexp.Regexp
}

// New compiles the suffix matcher and returns a ready Pipeline.
func New(coord *coordinator.Coordinator, logger *logging.AppLogger) *Pipeline {
	suffix := coord.Config().DNS.Suffix
	pattern := fmt.Sprintf(`(?i)^(.+)\.%s(:\d+)?$`, regexp.QuoteMeta(suffix))
	return &Pipeline{
		coord:  coord,
		logger: logger,
		suffix: regexp.MustCompile(pattern),
	}
}

// Serve accepts connections on ln until it is closed.
func (p *Pipeline) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go p.handle(conn)
	}
}

func (p *Pipeline) handle(conn net.Conn) {
	start := time.Now()
	defer func() {
		metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	// httpio.Read consumes conn one byte at a time with no bufio.Reader
	// in front of it (bufio.NewReader enforces a 16-byte minimum internal
	// buffer, which would silently swallow any body bytes that arrive in
	// the same TCP segment as the final header bytes). conn itself is
	// handed to the splicer below untouched, so nothing is lost.
	req, err := httpio.Read(conn)
	if err != nil {
		httpio.BadRequest(conn, err.Error())
		conn.Close()
		metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}

	if countHostHeaders(req) != 1 {
		httpio.BadRequest(conn, "exactly one Host header is required")
		conn.Close()
		metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}

	m := p.suffix.FindStringSubmatch(req.Host())
	if m == nil {
		httpio.BadRequest(conn, "Host does not match the configured suffix")
		conn.Close()
		metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
		return
	}
	label := m[1]

	for p.coord.Halted() {
		time.Sleep(haltPollInterval)
	}

	host, outcome := p.resolveHost(conn, req, label)
	if host == "" {
		metrics.RequestsTotal.WithLabelValues(outcome).Inc()
		conn.Close()
		return
	}

	if entry := p.coord.Lists.Blacklisted(host); entry != nil {
		p.respondBlacklisted(conn, entry)
		conn.Close()
		reason := "forbidden"
		if entry.Reason == lists.LegalReasons {
			reason = "legal_reasons"
		}
		metrics.BlacklistHitsTotal.WithLabelValues(reason).Inc()
		metrics.RequestsTotal.WithLabelValues("blacklisted").Inc()
		return
	}

	port := 80
	if m[2] != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(m[2], ":"))
		if err != nil {
			httpio.BadRequest(conn, "invalid port")
			conn.Close()
			metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
			return
		}
		port = parsed
	}

	hostHeader := host
	if port != 80 && port != 443 {
		hostHeader = fmt.Sprintf("%s:%d", host, port)
	}
	head := httpio.RewriteHost(req, hostHeader)

	ident, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	dialStart := time.Now()
	upstream, err := socks.Dial(p.torProxyAddr(), ident, host, port, p.coord.Config().TorTimeout())
	metrics.DialDuration.Observe(time.Since(dialStart).Seconds())
	if err != nil {
		httpio.ServiceUnavailable(conn, err.Error())
		conn.Close()
		metrics.DialFailuresTotal.Inc()
		metrics.RequestsTotal.WithLabelValues("dial_failed").Inc()
		return
	}

	if _, err := upstream.Write(head); err != nil {
		upstream.Close()
		conn.Close()
		metrics.RequestsTotal.WithLabelValues("dial_failed").Inc()
		return
	}

	metrics.ActiveSplices.Inc()
	metrics.RequestsTotal.WithLabelValues("forwarded").Inc()
	splice.Run(conn, upstream, p.logger)
	metrics.ActiveSplices.Dec()
}

func (p *Pipeline) torProxyAddr() string {
	if addr, ok := p.coord.TorSocksAddr(); ok {
		return addr
	}
	cfg := p.coord.Config()
	return fmt.Sprintf("%s:%d", cfg.Tor.IP, cfg.Tor.Port)
}

// resolveHost implements step 5 of the request pipeline: alias lookup on
// the last dot-separated segment, falling back to onion normalization.
// It writes a terminal response itself for redirects, v2 onions, and
// malformed labels, returning "" in those cases so the caller knows not
// to continue.
func (p *Pipeline) resolveHost(conn net.Conn, req *httpio.Request, label string) (host string, outcome string) {
	segment := label
	if i := strings.LastIndexByte(label, '.'); i >= 0 {
		segment = label[i+1:]
	}

	if alias := p.coord.Lists.AliasFor(strings.ToLower(segment)); alias != nil {
		switch alias.Type {
		case lists.Redirect:
			target := fmt.Sprintf("http://%s.%s%s", alias.Onion, p.coord.Config().DNS.Suffix, req.Target)
			httpio.Redirect(conn, target)
			metrics.AliasHitsTotal.WithLabelValues("redirect").Inc()
			return "", "redirect"
		default:
			metrics.AliasHitsTotal.WithLabelValues("rewrite").Inc()
			return alias.Onion, ""
		}
	}

	if normalized, ok := onion.Normalize(label); ok {
		return normalized, ""
	}

	if onion.IsV2(label) {
		httpio.Gone(conn, "Tor v2 onion addresses are no longer supported")
		return "", "gone"
	}

	httpio.BadRequest(conn, "not a valid onion address")
	return "", "bad_request"
}

func (p *Pipeline) respondBlacklisted(conn net.Conn, entry *lists.BlacklistEntry) {
	message := "this onion service has been blocked by the operator"
	if entry.Name != "" {
		message = fmt.Sprintf("%s has been blocked by the operator", entry.Name)
	}
	if entry.Reason == lists.LegalReasons {
		httpio.LegalReasons(conn, message, entry.URL)
		return
	}
	httpio.Forbidden(conn, message)
}

func countHostHeaders(req *httpio.Request) int {
	n := 0
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			n++
		}
	}
	return n
}
