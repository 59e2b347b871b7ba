package apply

import (
	"time"
)

// CommandExecution is one command sent during apply or verification
type CommandExecution struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// PhaseStatus of one apply phase
type PhaseStatus string

const (
	PhaseOK      PhaseStatus = "ok"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

// Phase names, in execution order
const (
	PhasePreBackup   = "pre_backup"
	PhaseApply       = "apply"
	PhaseVerify      = "verify"
	PhasePersist     = "persist"
	PhasePostBackup  = "post_backup"
	PhaseRollback    = "rollback"
	phaseSafetyCheck = "safety_check"
)

// PhaseRecord says what happened in one phase
type PhaseRecord struct {
	Name    string        `json:"name"`
	Status  PhaseStatus   `json:"status"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// ApplyResult is the full account of one apply
type ApplyResult struct {
	PlanID              string             `json:"plan_id"`
	Success             bool               `json:"success"`
	ExecutedCommands    []CommandExecution `json:"executed_commands"`
	PreBackupFile       string             `json:"pre_backup_file,omitempty"`
	PreBackupSHA        string             `json:"pre_backup_sha,omitempty"`
	PostBackupFile      string             `json:"post_backup_file,omitempty"`
	PostBackupSHA       string             `json:"post_backup_sha,omitempty"`
	VerificationResults []CommandExecution `json:"verification_results"`
	StartupSaved        bool               `json:"startup_saved"`
	RollbackAttempted   bool               `json:"rollback_attempted"`
	RollbackSuccess     *bool              `json:"rollback_success"`
	RollbackDetails     string             `json:"rollback_details,omitempty"`
	Error               string             `json:"error,omitempty"`
	Phases              []PhaseRecord      `json:"phases"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          time.Time          `json:"finished_at"`
}

// RollbackSucceeded reports whether a rollback ran and worked
func (r *ApplyResult) RollbackSucceeded() bool {
	return r.RollbackSuccess != nil && *r.RollbackSuccess
}

func newResult(planID string) *ApplyResult {
	return &ApplyResult{
		PlanID:              planID,
		ExecutedCommands:    []CommandExecution{},
		VerificationResults: []CommandExecution{},
		Phases:              []PhaseRecord{},
		StartedAt:           time.Now().UTC(),
	}
}

// phase times fn and appends its record
func (r *ApplyResult) phase(name string, fn func() (PhaseStatus, string)) PhaseStatus {
	start := time.Now()
	status, detail := fn()
	r.Phases = append(r.Phases, PhaseRecord{Name: name, Status: status, Detail: detail, Elapsed: time.Since(start)})
	return status
}

func (r *ApplyResult) skip(name, detail string) {
	r.Phases = append(r.Phases, PhaseRecord{Name: name, Status: PhaseSkipped, Detail: detail})
}

// Phase returns the record for name, if that phase ran or was skipped
func (r *ApplyResult) Phase(name string) (PhaseRecord, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseRecord{}, false
}

// FailedCommands returns the executed commands that did not succeed
func (r *ApplyResult) FailedCommands() []CommandExecution {
	var out []CommandExecution
	for _, c := range r.ExecutedCommands {
		if !c.Success {
			out = append(out, c)
		}
	}
	return out
}
