// SPDX-License-Identifier: MIT
package lists

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const onionB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.onion"
const onionC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccc.onion"

func TestAddAliasReplacesOnEitherKey(t *testing.T) {
	s := New()
	if err := s.AddAlias(&AliasEntry{Alias: "short", Onion: onionA, Type: Rewrite}); err != nil {
		t.Fatalf("AddAlias() error: %v", err)
	}
	// Same alias, different onion: must replace, not duplicate.
	if err := s.AddAlias(&AliasEntry{Alias: "short", Onion: onionB, Type: Redirect}); err != nil {
		t.Fatalf("AddAlias() error: %v", err)
	}
	if got := s.AliasFor("short"); got == nil || got.Onion != onionB {
		t.Fatalf("expected short -> %s, got %+v", onionB, got)
	}

	// Same onion under a new alias label: the old label must be dropped.
	if err := s.AddAlias(&AliasEntry{Alias: "other", Onion: onionB, Type: Rewrite}); err != nil {
		t.Fatalf("AddAlias() error: %v", err)
	}
	if s.AliasFor("short") != nil {
		t.Error("expected old alias label to be removed when its onion moves")
	}
	if got := s.AliasFor("other"); got == nil || got.Onion != onionB {
		t.Errorf("expected other -> %s", onionB)
	}
}

func TestBlacklistAddRemoveRoundTrip(t *testing.T) {
	s := New()
	if err := s.AddBlacklist(&BlacklistEntry{Domain: onionC, Reason: Forbidden}); err != nil {
		t.Fatalf("AddBlacklist() error: %v", err)
	}
	if s.Blacklisted(onionC) == nil {
		t.Fatal("expected domain to be blacklisted")
	}
	if err := s.RemoveBlacklist(onionC); err != nil {
		t.Fatalf("RemoveBlacklist() error: %v", err)
	}
	if s.Blacklisted(onionC) != nil {
		t.Error("expected domain to be removed from the blacklist")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blacklist.ini")

	s := New()
	s.SetPaths("", path)
	if err := s.AddBlacklist(&BlacklistEntry{
		Domain: onionC, Name: "Test Name", Reason: LegalReasons, URL: "https://ex",
	}); err != nil {
		t.Fatalf("AddBlacklist() error: %v", err)
	}
	if err := s.SaveBlacklist(); err != nil {
		t.Fatalf("SaveBlacklist() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "["+onionC+"]") {
		t.Errorf("expected section header for domain, got:\n%s", content)
	}
	if !strings.Contains(content, "Name") || !strings.Contains(content, "Test Name") {
		t.Errorf("expected Name field in saved file, got:\n%s", content)
	}

	s2 := New()
	if err := s2.LoadBlacklist(path); err != nil {
		t.Fatalf("LoadBlacklist() error: %v", err)
	}
	entry := s2.Blacklisted(onionC)
	if entry == nil || entry.Name != "Test Name" || entry.Reason != LegalReasons {
		t.Errorf("unexpected round-tripped entry: %+v", entry)
	}
}

func TestLoadBlacklistParseFailureKeepsOldTable(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.ini")
	if err := os.WriteFile(badPath, []byte("[not-an-onion]\nReason=403\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := New()
	if err := s.AddBlacklist(&BlacklistEntry{Domain: onionC, Reason: Forbidden}); err != nil {
		t.Fatalf("AddBlacklist() error: %v", err)
	}
	if err := s.LoadBlacklist(badPath); err == nil {
		t.Fatal("expected a parse failure")
	}
	if s.Blacklisted(onionC) == nil {
		t.Error("expected the pre-existing table to survive a failed reload")
	}
}

func TestListBlacklistINIContainsAllEntries(t *testing.T) {
	s := New()
	s.AddBlacklist(&BlacklistEntry{Domain: onionB, Reason: Forbidden})
	s.AddBlacklist(&BlacklistEntry{Domain: onionC, Reason: LegalReasons})

	text, err := s.ListBlacklistINI()
	if err != nil {
		t.Fatalf("ListBlacklistINI() error: %v", err)
	}
	if !strings.Contains(text, onionB) || !strings.Contains(text, onionC) {
		t.Errorf("expected both domains in snapshot, got:\n%s", text)
	}
}

func TestLoadAliasesEmptyPathClearsTable(t *testing.T) {
	s := New()
	s.AddAlias(&AliasEntry{Alias: "short", Onion: onionA, Type: Rewrite})
	if err := s.LoadAliases(""); err != nil {
		t.Fatalf("LoadAliases(\"\") error: %v", err)
	}
	if s.AliasFor("short") != nil {
		t.Error("expected empty-path load to clear the table")
	}
}
