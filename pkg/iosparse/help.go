package iosparse

import (
	"regexp"
	"strings"
)

// Completion is one "token  description" line offered by `<cmd> ?`
type Completion struct {
	Token       string `json:"token"`
	Description string `json:"description"`
}

// HelpResult is the interpretation of an inline `?` probe
type HelpResult struct {
	Valid       bool         `json:"valid"`
	Completions []Completion `json:"completions,omitempty"`
	AcceptsCR   bool         `json:"accepts_cr"`
	Error       string       `json:"error,omitempty"`
}

var completionRe = regexp.MustCompile(`^\s{2,}(\S+)\s*(.*)$`)

// ParseHelpOutput classifies probe output. A device error marks the probed
// command invalid; otherwise every indented completion line is collected in
// order and a bare <cr> completion sets AcceptsCR. Valid is true when the
// device offered anything at all.
func ParseHelpOutput(output string) HelpResult {
	var res HelpResult
	if errLine := DetectError(output); errLine != "" {
		res.Error = errLine
		return res
	}

	for _, line := range splitLines(output) {
		m := completionRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == "<cr>" {
			res.AcceptsCR = true
		}
		res.Completions = append(res.Completions, Completion{Token: m[1], Description: strings.TrimSpace(m[2])})
	}

	res.Valid = res.AcceptsCR || len(res.Completions) > 0
	return res
}
