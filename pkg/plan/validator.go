package plan

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/logger"
)

// Prober sends an inline help probe ("<command> ?") from inside
// configuration mode, after entering modePath, and returns whatever the
// device printed, or "" if the probe could not run.
type Prober interface {
	ProbeConfigHelp(ctx context.Context, modePath []string, text string, wait time.Duration) string
}

// Messages recorded on CommandValidation
const (
	MsgBlockedPrefix  = "Blocked by allowlist: "
	MsgDeviceRejected = "Router rejected command"
	MsgDeviceProbe    = "Validated by router probe"
	MsgKnownPattern   = "Matches known CME pattern"
	MsgNeedsApproval  = "Could not auto-validate; manual approval required"
)

// rawSeparator joins per-command probe output
const rawSeparator = "\n---\n"

// knownPatterns are the command shapes accepted without a device probe
var knownPatterns = compileAll(
	`^telephony-service$`,
	`^max-ephones\s+\d+$`,
	`^max-dn\s+\d+$`,
	`^ip\s+source-address\s+\S+\s+port\s+\d+`,
	`^(no\s+)?create\s+cnf-files`,
	`^ephone\s+\d+`,
	`^ephone-dn\s+\d+`,
	`^mac-address\s+[\da-fA-F.]+`,
	`^type\s+\S+`,
	`^button\s+.+`,
	`^number\s+\S+`,
	`^name\s+.+`,
	`^label\s+.+`,
	`^description\s+.+`,
	`^codec\s+\S+`,
	`^(no\s+)?shutdown$`,
	`^preference\s+\d+`,
	`^call-forward\s+.+`,
	`^(no\s+)?huntstop$`,
	`^dial-peer\s+voice\s+\d+\s+\S+`,
	`^destination-pattern\s+\S+`,
	`^session\s+target\s+.+`,
	`^session\s+protocol\s+\S+`,
	`^dtmf-relay\s+.+`,
	`^voice\s+register\s+(global|dn|pool)\b`,
	`^voice\s+translation-rule\s+\d+`,
	`^voice\s+translation-profile\s+\S+`,
	`^translate\s+.+`,
	`^rule\s+\d+\s+.+`,
	`^(no\s+)?(reset|restart)\b`,
	`^configure\s+terminal$`,
	`^end$`,
	`^exit$`,
	`^transfer-system\s+\S+`,
	`^transfer-pattern\s+\S+`,
	`^(no\s+)?auto\s+assign\b`,
	`^(no\s+)?keepalive\s+\d+`,
	`^(no\s+)?moh\s+.+`,
	`^(no\s+)?multicast\s+moh\b`,
	`^speed-dial\s+.+`,
	`^pickup-group\s+\d+`,
	`^paging-dn\s+\d+`,
	`^(no\s+)?softkeys\s+.+`,
	`^(no\s+)?corlist\s+.+`,
	`^after-hours\s+.+`,
	`^pin\s+\d+`,
	`^(no\s+)?night-service\b`,
	`^(no\s+)?caller-id\s+.+`,
	`^(no\s+)?intercom\s+.+`,
	`^(no\s+)?url\s+(services|directories|idle|information|authentication|proxy-server)\b`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// MatchesKnownPattern reports whether cmd has a recognised CME shape
func MatchesKnownPattern(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	for _, re := range knownPatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// Validator checks plan commands against the safety filter, the known
// pattern catalogue and, optionally, the device's own help output.
type Validator struct {
	filter    *filter.Filter
	prober    Prober
	store     Store
	probeWait time.Duration
}

// NewValidator wires a validator. prober may be nil when probing is never
// requested.
func NewValidator(f *filter.Filter, prober Prober, store Store) *Validator {
	return &Validator{filter: f, prober: prober, store: store}
}

// WithProbeWait overrides the settle time passed to each probe
func (v *Validator) WithProbeWait(d time.Duration) *Validator {
	v.probeWait = d
	return v
}

// Validate checks every command and records the outcome on the stored
// plan whether or not it passed. The returned error is only for store
// failures; command problems live in the result.
func (v *Validator) Validate(ctx context.Context, p *ConfigPlan, probeDevice bool) (*ValidationResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: plan is required", ErrInvalidParams)
	}
	if probeDevice && v.prober == nil {
		return nil, fmt.Errorf("device probe requested but no session is configured")
	}

	result := &ValidationResult{
		PlanID:         p.PlanID,
		OK:             true,
		CommandResults: make([]CommandValidation, 0, len(p.Commands)),
	}
	var raw []string

	// mode-path entries reach the device while probing
	modePath := p.ScopedModePath()
	if probeDevice {
		if denied := filter.Denied(v.filter.CheckPlanCommands(modePath, nil)); len(denied) > 0 {
			logger.WithFields(logger.Fields{"plan_id": p.PlanID, "entry": denied[0].Command}).Warn("validate.mode_path_denied")
			raw = append(raw, fmt.Sprintf("[mode path %q denied: %s]", denied[0].Command, denied[0].Verdict.Reason))
			probeDevice = false
		}
	}

	for _, cmd := range p.Commands {
		cv := v.validateCommand(ctx, modePath, cmd, probeDevice, &raw)
		if cv.Status != StatusOK {
			result.OK = false
		}
		result.CommandResults = append(result.CommandResults, cv)
	}
	result.RawProbeOutput = strings.Join(raw, rawSeparator)

	p.Validated = result.OK
	p.ValidationResult = result.Clone()

	counts := result.Counts()
	logger.WithFields(logger.Fields{
		"plan_id":        p.PlanID,
		"ok":             result.OK,
		"probed":         probeDevice,
		"errors":         counts[StatusError],
		"needs_approval": counts[StatusNeedsApproval],
	}).Info("validate.done")

	if v.store != nil {
		if err := v.store.Save(p); err != nil {
			return result, fmt.Errorf("failed to record validation on plan %s: %w", p.PlanID, err)
		}
	}
	return result, nil
}

func (v *Validator) validateCommand(ctx context.Context, modePath []string, cmd string, probeDevice bool, raw *[]string) CommandValidation {
	verdict := v.filter.CheckConfig(cmd)
	if !verdict.Allowed {
		return CommandValidation{
			Command: cmd,
			Status:  StatusError,
			Message: MsgBlockedPrefix + verdict.Reason,
		}
	}

	patternOK := MatchesKnownPattern(cmd)

	var deviceOK *bool
	var rawOutput, suggestion string
	if probeDevice {
		rawOutput = v.prober.ProbeConfigHelp(ctx, modePath, cmd+" ?", v.probeWait)
		if rawOutput == "" {
			logger.WithFields(logger.Fields{"command": cmd}).Warn("validate.probe_failed")
			*raw = append(*raw, "[probe returned no output]")
		} else {
			*raw = append(*raw, rawOutput)
			help := iosparse.ParseHelpOutput(rawOutput)
			switch {
			case help.Error != "":
				deviceOK = boolPtr(false)
				suggestion = help.Error
			case help.Valid, strings.Contains(strings.ToLower(rawOutput), "<cr>"):
				deviceOK = boolPtr(true)
			}
		}
	}

	cv := CommandValidation{Command: cmd, RawOutput: rawOutput, Suggestion: suggestion}
	switch {
	case deviceOK != nil && !*deviceOK:
		cv.Status = StatusError
		cv.Message = suggestion
		if cv.Message == "" {
			cv.Message = MsgDeviceRejected
		}
	case deviceOK != nil:
		cv.Status = StatusOK
		cv.Message = MsgDeviceProbe
	case patternOK:
		cv.Status = StatusOK
		cv.Message = MsgKnownPattern
	default:
		cv.Status = StatusNeedsApproval
		cv.Message = MsgNeedsApproval
	}
	return cv
}

func boolPtr(b bool) *bool {
	return &b
}
