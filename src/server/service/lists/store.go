// SPDX-License-Identifier: MIT
// ListsStore holds the alias and blacklist tables in memory behind two
// independent mutexes. Reload builds a replacement table outside the
// lock and only swaps it in once the parse has fully succeeded, so a bad
// file on disk never corrupts a table readers are still using.
package lists

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/apimgr/onionbridge/src/server/service/onion"
)

// Store is safe for concurrent use by the request pipeline (reads) and
// the control protocol (reads and mutations).
type Store struct {
	aliasMu      sync.RWMutex
	aliases      map[string]*AliasEntry // keyed by alias label
	aliasByOnion map[string]string      // onion -> alias label, for the ALADD uniqueness rule
	aliasPath    string

	blacklistMu   sync.RWMutex
	blacklist     map[string]*BlacklistEntry // keyed by normalized onion
	blacklistPath string
}

// New returns an empty Store. Paths may be set later via SetPaths, or
// passed directly to LoadAliases/LoadBlacklist.
func New() *Store {
	return &Store{
		aliases:      make(map[string]*AliasEntry),
		aliasByOnion: make(map[string]string),
		blacklist:    make(map[string]*BlacklistEntry),
	}
}

// SetPaths records the configured file paths used by *Reload and the
// path-less *Save variants.
func (s *Store) SetPaths(aliasPath, blacklistPath string) {
	s.aliasPath = aliasPath
	s.blacklistPath = blacklistPath
}

// LoadAliases replaces the alias table with the contents of path. An
// empty path clears the table and reports success. A parse or
// validation failure leaves the existing table untouched.
func (s *Store) LoadAliases(path string) error {
	table, byOnion, err := loadAliasFile(path)
	if err != nil {
		return err
	}
	s.aliasMu.Lock()
	s.aliases = table
	s.aliasByOnion = byOnion
	s.aliasPath = path
	s.aliasMu.Unlock()
	return nil
}

func loadAliasFile(path string) (map[string]*AliasEntry, map[string]string, error) {
	table := make(map[string]*AliasEntry)
	byOnion := make(map[string]string)
	if path == "" {
		return table, byOnion, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("lists: load aliases: %w", err)
	}
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		entry, err := aliasFromSection(sec)
		if err != nil {
			return nil, nil, fmt.Errorf("lists: alias %q: %w", sec.Name(), err)
		}
		if _, dup := table[entry.Alias]; dup {
			return nil, nil, fmtDuplicate("alias " + entry.Alias)
		}
		if _, dup := byOnion[entry.Onion]; dup {
			return nil, nil, fmtDuplicate("onion " + entry.Onion)
		}
		table[entry.Alias] = entry
		byOnion[entry.Onion] = entry.Alias
	}
	return table, byOnion, nil
}

// LoadBlacklist replaces the blacklist table with the contents of path,
// with the same empty-path and atomic-swap semantics as LoadAliases.
func (s *Store) LoadBlacklist(path string) error {
	table, err := loadBlacklistFile(path)
	if err != nil {
		return err
	}
	s.blacklistMu.Lock()
	s.blacklist = table
	s.blacklistPath = path
	s.blacklistMu.Unlock()
	return nil
}

func loadBlacklistFile(path string) (map[string]*BlacklistEntry, error) {
	table := make(map[string]*BlacklistEntry)
	if path == "" {
		return table, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("lists: load blacklist: %w", err)
	}
	for _, sec := range file.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		entry, err := blacklistFromSection(sec)
		if err != nil {
			return nil, fmt.Errorf("lists: blacklist %q: %w", sec.Name(), err)
		}
		if _, dup := table[entry.Domain]; dup {
			return nil, fmtDuplicate("domain " + entry.Domain)
		}
		table[entry.Domain] = entry
	}
	return table, nil
}

// ReloadAliases re-reads the configured alias path.
func (s *Store) ReloadAliases() error {
	s.aliasMu.RLock()
	path := s.aliasPath
	s.aliasMu.RUnlock()
	return s.LoadAliases(path)
}

// ReloadBlacklist re-reads the configured blacklist path.
func (s *Store) ReloadBlacklist() error {
	s.blacklistMu.RLock()
	path := s.blacklistPath
	s.blacklistMu.RUnlock()
	return s.LoadBlacklist(path)
}

// SaveAliases serializes the current alias table to its configured path.
// It fails when no path is configured.
func (s *Store) SaveAliases() error {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	if s.aliasPath == "" {
		return fmt.Errorf("lists: no alias file configured")
	}
	file := ini.Empty()
	for label, entry := range s.aliases {
		sec, err := file.NewSection(label)
		if err != nil {
			return err
		}
		entry.WriteINI(sec)
	}
	return file.SaveTo(s.aliasPath)
}

// SaveBlacklist serializes the current blacklist table to its configured
// path. It fails when no path is configured.
func (s *Store) SaveBlacklist() error {
	s.blacklistMu.RLock()
	defer s.blacklistMu.RUnlock()
	if s.blacklistPath == "" {
		return fmt.Errorf("lists: no blacklist file configured")
	}
	file := ini.Empty()
	for domain, entry := range s.blacklist {
		sec, err := file.NewSection(domain)
		if err != nil {
			return err
		}
		entry.WriteINI(sec)
	}
	return file.SaveTo(s.blacklistPath)
}

// AddAlias validates entry and inserts it, first removing any existing
// entry that shares either its alias label or its onion address.
func (s *Store) AddAlias(entry *AliasEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()

	if prevAlias, ok := s.aliasByOnion[entry.Onion]; ok {
		delete(s.aliases, prevAlias)
	}
	if prev, ok := s.aliases[entry.Alias]; ok {
		delete(s.aliasByOnion, prev.Onion)
	}
	s.aliases[entry.Alias] = entry
	s.aliasByOnion[entry.Onion] = entry.Alias
	return nil
}

// RemoveAlias deletes the alias entry for onion, if one exists.
func (s *Store) RemoveAlias(onionAddr string) error {
	normalized, ok := onionFromInput(onionAddr)
	if !ok {
		return ErrInvalidOnion
	}
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	if label, ok := s.aliasByOnion[normalized]; ok {
		delete(s.aliases, label)
		delete(s.aliasByOnion, normalized)
	}
	return nil
}

// AddBlacklist validates entry and inserts or replaces the entry keyed by
// its domain.
func (s *Store) AddBlacklist(entry *BlacklistEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.blacklistMu.Lock()
	defer s.blacklistMu.Unlock()
	s.blacklist[entry.Domain] = entry
	return nil
}

// RemoveBlacklist deletes the blacklist entry for domain, if one exists.
func (s *Store) RemoveBlacklist(domain string) error {
	normalized, ok := onionFromInput(domain)
	if !ok {
		return ErrInvalidOnion
	}
	s.blacklistMu.Lock()
	defer s.blacklistMu.Unlock()
	delete(s.blacklist, normalized)
	return nil
}

// Blacklisted returns the blacklist entry for host, or nil if allowed.
func (s *Store) Blacklisted(host string) *BlacklistEntry {
	s.blacklistMu.RLock()
	defer s.blacklistMu.RUnlock()
	return s.blacklist[host]
}

// AliasFor returns the alias entry for label, or nil if there is none.
func (s *Store) AliasFor(label string) *AliasEntry {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	return s.aliases[label]
}

// ListBlacklistINI returns an INI-formatted snapshot of the blacklist
// table, used as the BLLIST response body.
func (s *Store) ListBlacklistINI() (string, error) {
	s.blacklistMu.RLock()
	defer s.blacklistMu.RUnlock()
	file := ini.Empty()
	for domain, entry := range s.blacklist {
		sec, err := file.NewSection(domain)
		if err != nil {
			return "", err
		}
		entry.WriteINI(sec)
	}
	return renderINI(file)
}

// ListAliasesINI returns an INI-formatted snapshot of the alias table,
// used as the ALLIST response body.
func (s *Store) ListAliasesINI() (string, error) {
	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()
	file := ini.Empty()
	for label, entry := range s.aliases {
		sec, err := file.NewSection(label)
		if err != nil {
			return "", err
		}
		entry.WriteINI(sec)
	}
	return renderINI(file)
}

func renderINI(file *ini.File) (string, error) {
	var sb strings.Builder
	if _, err := file.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func onionFromInput(s string) (string, bool) {
	return onion.Normalize(s)
}
