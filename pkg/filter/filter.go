// Package filter decides whether a command may be sent to the router.
// Decisions depend only on the command text and the maintenance flag.
package filter

import "strings"

// Verdict reasons
const (
	ReasonEmpty             = "empty command"
	ReasonExecAllowed       = "allowed exec command"
	ReasonExecMaintenance   = "maintenance mode: exec commands allowed"
	ReasonExecNotAllowed    = "command not in exec allowlist"
	ReasonConfigAllowed     = "allowed CME config command"
	ReasonConfigMaintenance = "allowed in maintenance mode"
	ReasonConfigNotAllowed  = "command not in config allowlist"

	deniedPrefix = "denied by safety rule: "
)

// Verdict is the outcome of a single check
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Check pairs a command with its verdict
type Check struct {
	Command string  `json:"command"`
	Verdict Verdict `json:"verdict"`
}

// Filter applies the allow/deny policy. The zero value is a filter with
// maintenance mode off.
type Filter struct {
	maintenance bool
}

// New creates a filter; maintenance widens the config allow-list and lets
// any non-denied exec command through.
func New(maintenance bool) *Filter {
	return &Filter{maintenance: maintenance}
}

// Maintenance reports whether maintenance mode is on
func (f *Filter) Maintenance() bool {
	return f.maintenance
}

// CheckExec checks a one-off exec-mode command
func (f *Filter) CheckExec(command string) Verdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Reason: ReasonEmpty}
	}
	if v, denied := checkDeny(cmd); denied {
		return v
	}
	if matchAny(execAllowRules, cmd) {
		return Verdict{Allowed: true, Reason: ReasonExecAllowed}
	}
	if f.maintenance {
		return Verdict{Allowed: true, Reason: ReasonExecMaintenance}
	}
	return Verdict{Reason: ReasonExecNotAllowed}
}

// CheckConfig checks a command that will run inside configuration mode
func (f *Filter) CheckConfig(command string) Verdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Reason: ReasonEmpty}
	}
	if v, denied := checkDeny(cmd); denied {
		return v
	}
	if matchAny(cmeConfigRules, cmd) {
		return Verdict{Allowed: true, Reason: ReasonConfigAllowed}
	}
	if f.maintenance && matchAny(maintenanceRules, cmd) {
		return Verdict{Allowed: true, Reason: ReasonConfigMaintenance}
	}
	return Verdict{Reason: ReasonConfigNotAllowed}
}

// CheckPlanCommands runs CheckConfig over every mode-path entry and then
// every command, without stopping at the first denial.
func (f *Filter) CheckPlanCommands(modePath, commands []string) []Check {
	checks := make([]Check, 0, len(modePath)+len(commands))
	for _, cmd := range modePath {
		checks = append(checks, Check{Command: cmd, Verdict: f.CheckConfig(cmd)})
	}
	for _, cmd := range commands {
		checks = append(checks, Check{Command: cmd, Verdict: f.CheckConfig(cmd)})
	}
	return checks
}

// Denied returns the checks that were rejected
func Denied(checks []Check) []Check {
	var out []Check
	for _, c := range checks {
		if !c.Verdict.Allowed {
			out = append(out, c)
		}
	}
	return out
}

// IsDenyReason reports whether reason came from an always-deny rule
func IsDenyReason(reason string) bool {
	return strings.HasPrefix(reason, deniedPrefix)
}

func checkDeny(cmd string) (Verdict, bool) {
	for _, r := range denyRules {
		if r.match(cmd) {
			return Verdict{Reason: deniedPrefix + r.String()}, true
		}
	}
	return Verdict{}, false
}

func matchAny(rules []rule, cmd string) bool {
	for _, r := range rules {
		if r.match(cmd) {
			return true
		}
	}
	return false
}
