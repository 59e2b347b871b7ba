package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrPlanNotFound is returned for an unknown plan id
	ErrPlanNotFound = errors.New("plan not found")

	// ErrUnknownIntent is returned by ResolveIntent for names outside the catalogue
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrInvalidParams wraps request and intent parameter problems
	ErrInvalidParams = errors.New("invalid parameters")
)

// ConfigMode is the mode-path entry that the transport enters on its own
const ConfigMode = "configure terminal"

// RiskLevel is an advisory label; it changes nothing about how a plan runs
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is one of the known levels
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Request is the caller-supplied shape of a plan
type Request struct {
	Description      string    `json:"description" yaml:"description"`
	ModePath         []string  `json:"mode_path" yaml:"mode_path"`
	Commands         []string  `json:"commands" yaml:"commands"`
	Verification     []string  `json:"verification,omitempty" yaml:"verification,omitempty"`
	AffectedEntities []string  `json:"affected_entities,omitempty" yaml:"affected_entities,omitempty"`
	RiskLevel        RiskLevel `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
}

// Validate checks the request is well formed. It says nothing about
// whether the commands are safe; that is the filter's job.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidParams)
	}
	if len(r.Commands) == 0 {
		return fmt.Errorf("%w: at least one command is required", ErrInvalidParams)
	}
	for i, cmd := range r.Commands {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("%w: command %d is empty", ErrInvalidParams, i+1)
		}
	}
	if r.RiskLevel != "" && !r.RiskLevel.Valid() {
		return fmt.Errorf("%w: risk level %q (want low, medium or high)", ErrInvalidParams, r.RiskLevel)
	}
	return nil
}

// LoadRequest reads a request from a YAML or JSON file
func LoadRequest(path string) (Request, error) {
	var req Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read plan request: %w", err)
	}
	// JSON is a subset of YAML
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse plan request %s: %w", filepath.Base(path), err)
	}
	return req, nil
}

// ConfigPlan is a proposed configuration change. After creation only the
// validation fields change.
type ConfigPlan struct {
	PlanID           string            `json:"plan_id"`
	Description      string            `json:"description"`
	ModePath         []string          `json:"mode_path"`
	Commands         []string          `json:"commands"`
	Verification     []string          `json:"verification"`
	AffectedEntities []string          `json:"affected_entities"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	CreatedAt        time.Time         `json:"created_at"`
	Validated        bool              `json:"validated"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
}

// New builds a plan with a fresh id from a request
func New(req Request) *ConfigPlan {
	risk := req.RiskLevel
	if risk == "" {
		risk = RiskLow
	}
	return &ConfigPlan{
		PlanID:           uuid.New().String(),
		Description:      req.Description,
		ModePath:         cloneStrings(req.ModePath),
		Commands:         cloneStrings(req.Commands),
		Verification:     cloneStrings(req.Verification),
		AffectedEntities: cloneStrings(req.AffectedEntities),
		RiskLevel:        risk,
		CreatedAt:        time.Now().UTC(),
	}
}

// ShortID is the first eight characters of the id, used in backup reasons
func (p *ConfigPlan) ShortID() string {
	if len(p.PlanID) <= 8 {
		return p.PlanID
	}
	return p.PlanID[:8]
}

// ScopedModePath drops the leading configuration-mode entry
func (p *ConfigPlan) ScopedModePath() []string {
	out := make([]string, 0, len(p.ModePath))
	for _, m := range p.ModePath {
		if strings.EqualFold(strings.TrimSpace(m), ConfigMode) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FullCommands is the scoped mode path followed by the plan's commands
func (p *ConfigPlan) FullCommands() []string {
	return append(p.ScopedModePath(), p.Commands...)
}

// Summary is the plan digest recorded alongside backups
type Summary struct {
	PlanID           string   `json:"plan_id"`
	Description      string   `json:"description"`
	Commands         []string `json:"commands"`
	AffectedEntities []string `json:"affected_entities"`
}

// Summary returns the digest for backup manifests
func (p *ConfigPlan) Summary() *Summary {
	return &Summary{
		PlanID:           p.PlanID,
		Description:      p.Description,
		Commands:         cloneStrings(p.Commands),
		AffectedEntities: cloneStrings(p.AffectedEntities),
	}
}

// Clone returns a deep copy
func (p *ConfigPlan) Clone() *ConfigPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.ModePath = cloneStrings(p.ModePath)
	c.Commands = cloneStrings(p.Commands)
	c.Verification = cloneStrings(p.Verification)
	c.AffectedEntities = cloneStrings(p.AffectedEntities)
	c.ValidationResult = p.ValidationResult.Clone()
	return &c
}

// CommandStatus is the outcome of validating one command
type CommandStatus string

const (
	StatusOK            CommandStatus = "ok"
	StatusError         CommandStatus = "error"
	StatusWarning       CommandStatus = "warning"
	StatusNeedsApproval CommandStatus = "needs_approval"
)

// CommandValidation is the per-command validation record
type CommandValidation struct {
	Command    string        `json:"command"`
	Status     CommandStatus `json:"status"`
	Message    string        `json:"message"`
	RawOutput  string        `json:"raw_output,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// ValidationResult is the outcome of one validation run
type ValidationResult struct {
	PlanID         string              `json:"plan_id"`
	OK             bool                `json:"ok"`
	CommandResults []CommandValidation `json:"command_results"`
	RawProbeOutput string              `json:"raw_probe_output,omitempty"`
}

// Clone returns a deep copy
func (v *ValidationResult) Clone() *ValidationResult {
	if v == nil {
		return nil
	}
	c := *v
	c.CommandResults = append([]CommandValidation(nil), v.CommandResults...)
	return &c
}

// Counts tallies command results by status
func (v *ValidationResult) Counts() map[CommandStatus]int {
	counts := make(map[CommandStatus]int)
	for _, r := range v.CommandResults {
		counts[r.Status]++
	}
	return counts
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}
