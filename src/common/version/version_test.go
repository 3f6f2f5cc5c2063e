// SPDX-License-Identifier: MIT
package version

import (
	"strings"
	"testing"
)

func TestGetShortReturnsVersion(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "1.2.3"
	if got := GetShort(); got != "1.2.3" {
		t.Fatalf("expected GetShort() to return %q, got %q", "1.2.3", got)
	}
	if got := GetVersion(); got != "1.2.3" {
		t.Fatalf("expected GetVersion() to return %q, got %q", "1.2.3", got)
	}
}

func TestGetFullIncludesBuildMetadata(t *testing.T) {
	oldV, oldB := Version, BuildTime
	defer func() { Version, BuildTime = oldV, oldB }()

	Version = "1.2.3"
	BuildTime = "2026-01-01T00:00:00Z"

	full := GetFull()
	for _, want := range []string{"1.2.3", "2026-01-01T00:00:00Z", GoVersion, GOOS, GOARCH} {
		if !strings.Contains(full, want) {
			t.Errorf("expected GetFull() to mention %q, got %q", want, full)
		}
	}
}

func TestInfoReturnsAllFields(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "commit", "build_time", "go_version", "os", "arch"} {
		if _, ok := info[key]; !ok {
			t.Errorf("expected Info() to contain key %q", key)
		}
	}
}
