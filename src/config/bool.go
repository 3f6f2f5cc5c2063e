// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
)

// Truthy values (case-insensitive)
var truthyValues = map[string]bool{
	"1": true, "y": true, "t": true,
	"yes": true, "true": true, "on": true, "ok": true,
	"enable": true, "enabled": true,
}

// Falsy values (case-insensitive)
var falsyValues = map[string]bool{
	"0": true, "n": true, "f": true,
	"no": true, "false": true, "off": true,
	"disable": true, "disabled": true,
}

// ParseBoolWithDefault parses a string into a boolean using truthy/falsy values.
// Empty string returns the provided default value.
func ParseBoolWithDefault(s string, defaultVal bool) (bool, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	if s == "" {
		return defaultVal, nil
	}
	if truthyValues[s] {
		return true, nil
	}
	if falsyValues[s] {
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %q", s)
}

// IsTruthy returns true if the string is a truthy value.
func IsTruthy(s string) bool {
	return truthyValues[strings.TrimSpace(strings.ToLower(s))]
}
