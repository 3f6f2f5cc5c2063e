// SPDX-License-Identifier: MIT
// HttpResponder writes canned HTTP/1.1 error and redirect responses with
// minimal HTML bodies. Every responder forces Connection: close and
// disables caching, since the pipeline never keeps a client connection
// open past one of these replies.
package httpio

import (
	"fmt"
	"io"
	"strings"
)

// escapeHTML sanitizes the handful of characters that matter inside the
// plain text bodies these responders emit.
func escapeHTML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

func writeStatus(w io.Writer, code int, reason, body string, extraHeaders ...string) bool {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, reason)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Cache-Control: no-store, max-age=0\r\n")
	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.WriteString(body)
	_, err := io.WriteString(w, b.String())
	return err == nil
}

func page(title, message string) string {
	return fmt.Sprintf(
		"<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		escapeHTML(title), escapeHTML(title), escapeHTML(message))
}

// BadRequest writes a 400 response describing why the request was rejected.
func BadRequest(w io.Writer, reason string) bool {
	return writeStatus(w, 400, "Bad Request", page("Bad Request", reason))
}

// Forbidden writes a 403 response, used for blacklisted onions with
// reason Forbidden.
func Forbidden(w io.Writer, message string) bool {
	return writeStatus(w, 403, "Forbidden", page("Forbidden", message))
}

// Gone writes a 410 response, used exclusively for retired v2 onion
// addresses.
func Gone(w io.Writer, message string) bool {
	return writeStatus(w, 410, "Gone", page("Gone", message))
}

// LegalReasons writes a 451 response for blacklist entries with reason
// LegalReasons, attaching a Link header to the entry's URL when present.
func LegalReasons(w io.Writer, message, url string) bool {
	var headers []string
	if url != "" {
		headers = append(headers, fmt.Sprintf(`Link: <%s>; rel="blocked-by"`, url))
	}
	body := page("Unavailable For Legal Reasons", message)
	if url != "" {
		body = fmt.Sprintf(
			"<html><head><title>Unavailable For Legal Reasons</title></head><body><h1>Unavailable For Legal Reasons</h1><p>%s</p><p><a href=\"%s\">%s</a></p></body></html>",
			escapeHTML(message), escapeHTML(url), escapeHTML(url))
	}
	return writeStatus(w, 451, "Unavailable For Legal Reasons", body, headers...)
}

// ServiceUnavailable writes a 503 response embedding the dial failure
// text, used when SocksDialer cannot reach the upstream.
func ServiceUnavailable(w io.Writer, reason string) bool {
	return writeStatus(w, 503, "Service Unavailable", page("Service Unavailable", reason))
}

// GatewayTimeout writes a 504 response for an upstream that accepted the
// tunnel but never responded within whatever timeout the caller enforces.
func GatewayTimeout(w io.Writer, reason string) bool {
	return writeStatus(w, 504, "Gateway Timeout", page("Gateway Timeout", reason))
}

// Redirect writes a 307 Temporary Redirect to target, used for alias
// entries of type Redirect. 307 preserves the method, unlike 301/302.
func Redirect(w io.Writer, target string) bool {
	body := page("Temporary Redirect", "The requested resource has moved temporarily.")
	return writeStatus(w, 307, "Temporary Redirect", body,
		fmt.Sprintf("Location: %s", target))
}
