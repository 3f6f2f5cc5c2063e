// SPDX-License-Identifier: MIT
// PasswordVault generates the control port's cookie secret and hashes /
// verifies its optional configured password.
package vault

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const recordPrefix = "ENC:"

var ErrMalformedRecord = errors.New("vault: malformed password record")

// IsHashed reports whether s has the shape of a hashed password record:
// "ENC:<salt>:<digest>".
func IsHashed(s string) bool {
	if !strings.HasPrefix(s, recordPrefix) {
		return false
	}
	rest := strings.TrimPrefix(s, recordPrefix)
	i := strings.IndexByte(rest, ':')
	return i > 0 && i < len(rest)-1
}

// Hash salts password with 18 CSPRNG bytes and returns the record
// "ENC:<b64 salt>:<b64 HMAC-SHA256(salt, password)>".
func Hash(password string) (string, error) {
	salt := make([]byte, 18)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	digest := digestFor(salt, password)
	return recordPrefix + base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(digest), nil
}

// Verify reports whether candidate hashes to the same digest stored in
// record, comparing in constant time.
func Verify(candidate, record string) bool {
	salt, digest, err := parse(record)
	if err != nil {
		return false
	}
	want := digestFor(salt, candidate)
	return hmac.Equal(want, digest)
}

func parse(record string) (salt, digest []byte, err error) {
	if !strings.HasPrefix(record, recordPrefix) {
		return nil, nil, ErrMalformedRecord
	}
	rest := strings.TrimPrefix(record, recordPrefix)
	i := strings.IndexByte(rest, ':')
	if i <= 0 || i >= len(rest)-1 {
		return nil, nil, ErrMalformedRecord
	}
	salt, err = base64.StdEncoding.DecodeString(rest[:i])
	if err != nil {
		return nil, nil, ErrMalformedRecord
	}
	digest, err = base64.StdEncoding.DecodeString(rest[i+1:])
	if err != nil {
		return nil, nil, ErrMalformedRecord
	}
	return salt, digest, nil
}

func digestFor(salt []byte, password string) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

// NewCookie returns a fresh ASCII-printable bearer token: 33 random bytes,
// base64-encoded.
func NewCookie() (string, error) {
	buf := make([]byte, 33)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
