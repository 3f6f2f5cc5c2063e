// SPDX-License-Identifier: MIT
// The alias and blacklist tables hold two small tagged-variant record
// types rather than a class hierarchy: each implements Validate and
// WriteINI itself, and ListsStore never needs to know more than that.
package lists

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/apimgr/onionbridge/src/server/service/onion"
)

var (
	ErrInvalidAlias  = errors.New("lists: alias label is invalid")
	ErrInvalidOnion  = errors.New("lists: onion address is invalid")
	ErrInvalidReason = errors.New("lists: reason must be 403 or 451")
	ErrInvalidURL    = errors.New("lists: url must be an absolute URI")
	ErrInvalidType   = errors.New("lists: alias type must be Rewrite or Redirect")
	ErrControlChars  = errors.New("lists: field must not contain CR or LF")
)

var aliasLabelPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// AliasType distinguishes a transparent host rewrite from a visible
// redirect to the canonical onion address.
type AliasType int

const (
	Rewrite AliasType = iota
	Redirect
)

func (t AliasType) String() string {
	if t == Redirect {
		return "Redirect"
	}
	return "Rewrite"
}

// ParseAliasType accepts both the numeric (0/1) and named forms used in
// alias INI files and ALADD arguments.
func ParseAliasType(s string) (AliasType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "rewrite":
		return Rewrite, nil
	case "1", "redirect":
		return Redirect, nil
	default:
		return 0, ErrInvalidType
	}
}

// Reason is the HTTP status a blacklisted domain is refused with.
type Reason int

const (
	Forbidden    Reason = 403
	LegalReasons Reason = 451
)

// ParseReason accepts "403"/"451" or their Forbidden/LegalReasons names.
func ParseReason(s string) (Reason, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "403", "forbidden":
		return Forbidden, nil
	case "451", "legalreasons":
		return LegalReasons, nil
	default:
		return 0, ErrInvalidReason
	}
}

// AliasEntry maps a short DNS label to a full onion address, either by
// silently rewriting the Host header (Rewrite) or by issuing a 307 to the
// canonical form (Redirect).
type AliasEntry struct {
	Alias string
	Onion string
	Type  AliasType
}

// Validate normalizes and checks the entry's fields in place, returning
// the first violated invariant.
func (e *AliasEntry) Validate() error {
	e.Alias = strings.ToLower(strings.TrimSpace(e.Alias))
	if e.Alias == "" || !aliasLabelPattern.MatchString(e.Alias) {
		return ErrInvalidAlias
	}
	if strings.HasPrefix(e.Alias, "-") || strings.Contains(e.Alias, "--") || strings.Contains(e.Alias, ".") {
		return ErrInvalidAlias
	}
	normalized, ok := onion.Normalize(e.Onion)
	if !ok {
		return ErrInvalidOnion
	}
	e.Onion = normalized
	return nil
}

// WriteINI serializes the entry into sec, an already-named section
// (the section name is the alias label).
func (e *AliasEntry) WriteINI(sec *ini.Section) {
	sec.Key("Onion").SetValue(e.Onion)
	sec.Key("Type").SetValue(e.Type.String())
}

// aliasFromSection builds and validates an AliasEntry from an INI
// section named for the alias label.
func aliasFromSection(sec *ini.Section) (*AliasEntry, error) {
	typ, err := ParseAliasType(sec.Key("Type").String())
	if err != nil {
		return nil, err
	}
	e := &AliasEntry{
		Alias: sec.Name(),
		Onion: sec.Key("Onion").String(),
		Type:  typ,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// BlacklistEntry refuses a single onion address with a fixed HTTP status
// and an optional operator-supplied explanation URL.
type BlacklistEntry struct {
	Domain string
	Name   string
	Notes  string
	Reason Reason
	URL    string
}

// Validate normalizes and checks the entry's fields in place.
func (e *BlacklistEntry) Validate() error {
	normalized, ok := onion.Normalize(e.Domain)
	if !ok {
		return ErrInvalidOnion
	}
	e.Domain = normalized

	if strings.ContainsAny(e.Name, "\r\n") || strings.ContainsAny(e.Notes, "\r\n") {
		return ErrControlChars
	}

	if e.URL != "" {
		u, err := url.Parse(e.URL)
		if err != nil || !u.IsAbs() {
			return ErrInvalidURL
		}
	}
	return nil
}

// WriteINI serializes the entry into sec, an already-named section
// (the section name is the normalized onion domain).
func (e *BlacklistEntry) WriteINI(sec *ini.Section) {
	sec.Key("Name").SetValue(e.Name)
	sec.Key("Notes").SetValue(e.Notes)
	sec.Key("Reason").SetValue(strconv.Itoa(int(e.Reason)))
	sec.Key("URL").SetValue(e.URL)
}

func blacklistFromSection(sec *ini.Section) (*BlacklistEntry, error) {
	reason, err := ParseReason(sec.Key("Reason").String())
	if err != nil {
		return nil, err
	}
	e := &BlacklistEntry{
		Domain: sec.Name(),
		Name:   sec.Key("Name").String(),
		Notes:  sec.Key("Notes").String(),
		Reason: reason,
		URL:    sec.Key("URL").String(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func fmtDuplicate(key string) error {
	return fmt.Errorf("lists: duplicate %s", key)
}
