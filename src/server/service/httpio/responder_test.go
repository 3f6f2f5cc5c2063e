// SPDX-License-Identifier: MIT
package httpio

import (
	"strings"
	"testing"
)

func TestBadRequestFormat(t *testing.T) {
	var b strings.Builder
	if !BadRequest(&b, "no host header") {
		t.Fatal("expected write to succeed")
	}
	out := b.String()
	if !strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("unexpected status line: %q", out)
	}
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Error("missing Connection: close")
	}
	if !strings.Contains(out, "no host header") {
		t.Error("missing reason in body")
	}
}

func TestLegalReasonsIncludesLinkHeader(t *testing.T) {
	var b strings.Builder
	LegalReasons(&b, "blocked", "https://ex/why")
	out := b.String()
	if !strings.Contains(out, `Link: <https://ex/why>; rel="blocked-by"`) {
		t.Errorf("missing Link header: %q", out)
	}
	if !strings.Contains(out, "https://ex/why") {
		t.Error("expected body to contain the URL")
	}
	if !strings.HasPrefix(out, "HTTP/1.1 451 Unavailable For Legal Reasons\r\n") {
		t.Errorf("unexpected status line: %q", out)
	}
}

func TestForbiddenStatusLine(t *testing.T) {
	var b strings.Builder
	Forbidden(&b, "blocked by operator")
	if !strings.HasPrefix(b.String(), "HTTP/1.1 403 Forbidden\r\n") {
		t.Errorf("unexpected status line: %q", b.String())
	}
}

func TestGoneMentionsV2(t *testing.T) {
	var b strings.Builder
	Gone(&b, "v2 onion addresses are no longer supported")
	out := b.String()
	if !strings.HasPrefix(out, "HTTP/1.1 410 Gone\r\n") {
		t.Errorf("unexpected status line: %q", out)
	}
	if !strings.Contains(out, "v2 onion") {
		t.Error("expected body to mention v2 onions")
	}
}

func TestServiceUnavailableEmbedsReason(t *testing.T) {
	var b strings.Builder
	ServiceUnavailable(&b, "socks4a: request rejected or failed")
	if !strings.Contains(b.String(), "request rejected") {
		t.Error("expected reason text embedded in body")
	}
}

func TestRedirectSetsLocation(t *testing.T) {
	var b strings.Builder
	Redirect(&b, "http://cccc.onion.example.com/x?y=1")
	out := b.String()
	if !strings.HasPrefix(out, "HTTP/1.1 307 Temporary Redirect\r\n") {
		t.Errorf("unexpected status line: %q", out)
	}
	if !strings.Contains(out, "Location: http://cccc.onion.example.com/x?y=1\r\n") {
		t.Errorf("missing Location header: %q", out)
	}
}

func TestEscapeHTMLSanitizesBody(t *testing.T) {
	var b strings.Builder
	BadRequest(&b, `<script>"&</script>`)
	out := b.String()
	if strings.Contains(out, "<script>") {
		t.Error("expected raw markup to be escaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("expected escaped markup in body: %q", out)
	}
}
