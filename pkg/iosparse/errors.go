// Package iosparse turns Cisco IOS / CME command output into structured
// records. Every function here is pure and total: empty or unrelated input
// yields an empty result, never an error.
package iosparse

import (
	"regexp"
	"strings"
)

// errorPatterns are checked in order; the first pattern that matches any
// line wins.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)% Invalid input detected`),
	regexp.MustCompile(`(?i)% Incomplete command`),
	regexp.MustCompile(`(?i)% Ambiguous command`),
	regexp.MustCompile(`(?i)% Unrecognized command`),
	regexp.MustCompile(`(?i)% Bad IP address`),
	regexp.MustCompile(`(?i)% Invalid range`),
	regexp.MustCompile(`(?i)% Cannot`),
	regexp.MustCompile(`(?i)% Error`),
}

// DetectError returns the full (trimmed) line carrying the first device
// error marker found in output, or "" when the output is clean.
func DetectError(output string) string {
	if !strings.Contains(output, "%") {
		return ""
	}
	lines := splitLines(output)
	for _, pat := range errorPatterns {
		for _, line := range lines {
			if pat.MatchString(line) {
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}

// IsError reports whether output carries a device error marker
func IsError(output string) bool {
	return DetectError(output) != ""
}

// splitLines splits on \n and drops the \r that PTY output carries
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, "\n")
	for i, l := range raw {
		raw[i] = strings.TrimRight(l, "\r")
	}
	return raw
}
