// SPDX-License-Identifier: MIT
// OnionCodec normalizes and validates Tor onion addresses and carries the
// percent-encoding helpers the control protocol uses for its arguments.
package onion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var v3Pattern = regexp.MustCompile(`(?i)^(?:.*\.)?([a-z2-7]{56})(?:\.onion)?$`)
var v2Pattern = regexp.MustCompile(`(?i)^(?:.*\.)?([a-z2-7]{16})(?:\.onion)?$`)

// Normalize validates input as a v3 onion address and returns the
// canonical lowercase "<56-char>.onion" form. The second return value is
// false when input does not match the expected shape.
func Normalize(input string) (string, bool) {
	m := v3Pattern.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]) + ".onion", true
}

// IsV2 reports whether input has the shape of a (now retired) v2 onion
// address. It is used solely to produce a more helpful 410 response.
func IsV2(input string) bool {
	if _, ok := Normalize(input); ok {
		return false
	}
	return v2Pattern.MatchString(input)
}

// URLDecode implements application/x-www-form-urlencoded decoding: '+'
// becomes a space before percent-decoding runs.
func URLDecode(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// URLEncode percent-encodes everything but unreserved bytes, then swaps
// the resulting "%20" for '+' to match form-encoding conventions.
func URLEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return strings.ReplaceAll(b.String(), "%20", "+")
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
