// Package apply pushes a validated plan to the router: back up, send,
// verify, persist, back up again and, on failure, attempt a scoped undo.
package apply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zph/cmectl/pkg/backup"
	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/plan"
	"github.com/zph/cmectl/pkg/transport"
)

// Device commands issued by the applier
const (
	ShowRunningConfig = "show running-config"
	WriteMemory       = "write memory"
)

// Session is the part of the session manager the applier drives
type Session interface {
	SendShow(ctx context.Context, command string) (transport.CommandResult, error)
	SendConfigs(ctx context.Context, commands []string, stopOnFailure bool) ([]transport.CommandResult, error)
}

// Options configure optional collaborators
type Options struct {
	// Ledger makes plans single-use; nil allows re-apply
	Ledger Ledger
	// Locks, with Device, serialises applies across processes
	Locks       *LockManager
	Device      string
	LockTimeout time.Duration
}

// Applier runs the apply sequence
type Applier struct {
	session Session
	backups backup.Store
	filter  *filter.Filter
	opts    Options
}

// NewApplier wires an applier
func NewApplier(session Session, backups backup.Store, f *filter.Filter, opts Options) *Applier {
	return &Applier{session: session, backups: backups, filter: f, opts: opts}
}

// Apply runs p against the device. Phase failures are reported in the
// result; the error return is for caller problems (nil plan, already
// applied, device locked), in which case the device was not touched.
func (a *Applier) Apply(ctx context.Context, p *plan.ConfigPlan) (*ApplyResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: plan is required", plan.ErrInvalidParams)
	}
	res := newResult(p.PlanID)
	log := logger.WithFields(logger.Fields{"plan_id": p.PlanID})

	if reason := a.rejection(p); reason != "" {
		res.phase(phaseSafetyCheck, func() (PhaseStatus, string) { return PhaseFailed, reason })
		res.Error = reason
		res.FinishedAt = time.Now().UTC()
		log.WithFields(logger.Fields{"reason": reason}).Warn("apply.rejected")
		return res, nil
	}

	if a.opts.Locks != nil {
		lock, err := a.opts.Locks.Acquire(a.opts.Device, p.PlanID, a.opts.LockTimeout)
		if err != nil {
			return a.refuse(res, err)
		}
		defer func() {
			if err := a.opts.Locks.Release(lock); err != nil {
				log.WithFields(logger.Fields{"error": err.Error()}).Warn("apply.lock_release_failed")
			}
		}()
	}

	if a.opts.Ledger != nil {
		if err := a.opts.Ledger.Claim(p.PlanID); err != nil {
			return a.refuse(res, err)
		}
	}

	log.WithFields(logger.Fields{"commands": len(p.Commands), "risk": p.RiskLevel}).Info("apply.start")
	a.run(ctx, p, res)
	res.FinishedAt = time.Now().UTC()

	if a.opts.Ledger != nil {
		var err error
		if res.PreBackupSHA == "" {
			// nothing reached the device; the plan can be tried again
			err = a.opts.Ledger.Release(p.PlanID)
		} else {
			err = a.opts.Ledger.Record(res)
		}
		if err != nil {
			log.WithFields(logger.Fields{"error": err.Error()}).Error("apply.ledger_failed")
		}
	}

	log.WithFields(logger.Fields{
		"success":            res.Success,
		"rollback_attempted": res.RollbackAttempted,
		"rollback_success":   res.RollbackSucceeded(),
	}).Info("apply.done")
	return res, nil
}

func (a *Applier) refuse(res *ApplyResult, err error) (*ApplyResult, error) {
	res.Error = err.Error()
	res.FinishedAt = time.Now().UTC()
	return res, err
}

// rejection returns why the filter refuses any part of the plan, or ""
func (a *Applier) rejection(p *plan.ConfigPlan) string {
	var reasons []string
	for _, c := range filter.Denied(a.filter.CheckPlanCommands(p.ScopedModePath(), p.Commands)) {
		reasons = append(reasons, fmt.Sprintf("%q: %s", c.Command, c.Verdict.Reason))
	}
	for _, v := range p.Verification {
		if verdict := a.filter.CheckExec(v); !verdict.Allowed {
			reasons = append(reasons, fmt.Sprintf("%q: %s", v, verdict.Reason))
		}
	}
	if len(reasons) == 0 {
		return ""
	}
	return "rejected by safety filter: " + strings.Join(reasons, "; ")
}

func (a *Applier) run(ctx context.Context, p *plan.ConfigPlan, res *ApplyResult) {
	log := logger.WithFields(logger.Fields{"plan_id": p.PlanID})
	summary := p.Summary()

	// 1. Pre-backup. No rollback point, no change.
	status := res.phase(PhasePreBackup, func() (PhaseStatus, string) {
		file, sha, err := a.snapshot(ctx, "pre-apply-"+p.ShortID(), summary)
		if err != nil {
			return PhaseFailed, err.Error()
		}
		res.PreBackupFile, res.PreBackupSHA = file, sha
		return PhaseOK, file
	})
	if status != PhaseOK {
		detail, _ := res.Phase(PhasePreBackup)
		res.RollbackDetails = "Pre-backup failed: " + detail.Detail
		res.Error = res.RollbackDetails
		log.WithFields(logger.Fields{"error": detail.Detail}).Error("apply.pre_backup_failed")
		for _, name := range []string{PhaseApply, PhaseVerify, PhasePersist, PhasePostBackup, PhaseRollback} {
			res.skip(name, "pre-backup failed")
		}
		return
	}
	log.WithFields(logger.Fields{"sha": res.PreBackupSHA}).Info("apply.pre_backup")

	// 2. Apply, stopping at the first failure
	res.Success = true
	res.phase(PhaseApply, func() (PhaseStatus, string) {
		results, err := a.session.SendConfigs(ctx, p.FullCommands(), true)
		for _, r := range results {
			ok := !r.Failed && !iosparse.IsError(r.Output)
			if !ok {
				res.Success = false
			}
			res.ExecutedCommands = append(res.ExecutedCommands, CommandExecution{Command: r.Command, Output: r.Output, Success: ok})
		}
		if err != nil {
			res.Success = false
			res.ExecutedCommands = append(res.ExecutedCommands, CommandExecution{Command: "(exception)", Output: err.Error()})
			return PhaseFailed, err.Error()
		}
		if !res.Success {
			failed := res.FailedCommands()
			return PhaseFailed, fmt.Sprintf("%q failed: %s", failed[0].Command, firstLine(failed[0].Output))
		}
		return PhaseOK, fmt.Sprintf("%d commands", len(results))
	})

	// 3. Verify, whatever happened above
	if len(p.Verification) == 0 {
		res.skip(PhaseVerify, "no verification commands")
	} else {
		res.phase(PhaseVerify, func() (PhaseStatus, string) {
			failed := 0
			for _, cmd := range p.Verification {
				ce := CommandExecution{Command: cmd}
				r, err := a.session.SendShow(ctx, cmd)
				if err != nil {
					ce.Output = err.Error()
				} else {
					ce.Output = r.Output
					ce.Success = !r.Failed && !iosparse.IsError(r.Output)
				}
				if !ce.Success {
					failed++
				}
				res.VerificationResults = append(res.VerificationResults, ce)
			}
			if failed > 0 {
				return PhaseFailed, fmt.Sprintf("%d of %d verification commands failed", failed, len(p.Verification))
			}
			return PhaseOK, ""
		})
	}

	// 4. Persist only a fully successful change
	if !res.Success {
		res.skip(PhasePersist, "apply failed")
	} else {
		res.phase(PhasePersist, func() (PhaseStatus, string) {
			r, err := a.session.SendShow(ctx, WriteMemory)
			if err == nil && (r.Failed || iosparse.IsError(r.Output)) {
				err = errors.New(firstLine(r.Output))
			}
			if err != nil {
				log.WithFields(logger.Fields{"error": err.Error()}).Warn("apply.write_memory_failed")
				return PhaseFailed, err.Error()
			}
			res.StartupSaved = true
			return PhaseOK, ""
		})
	}

	// 5. Post-backup, always
	res.phase(PhasePostBackup, func() (PhaseStatus, string) {
		file, sha, err := a.snapshot(ctx, "post-apply-"+p.ShortID(), summary)
		if err != nil {
			log.WithFields(logger.Fields{"error": err.Error()}).Warn("apply.post_backup_failed")
			return PhaseFailed, err.Error()
		}
		res.PostBackupFile, res.PostBackupSHA = file, sha
		return PhaseOK, file
	})

	// 6. Scoped rollback
	if res.Success {
		res.skip(PhaseRollback, "apply succeeded")
		return
	}
	res.RollbackAttempted = true
	res.phase(PhaseRollback, func() (PhaseStatus, string) {
		ok := a.rollback(ctx, p, res)
		res.RollbackSuccess = &ok
		log.WithFields(logger.Fields{"success": ok, "details": res.RollbackDetails}).Warn("apply.rollback")
		if ok {
			return PhaseOK, res.RollbackDetails
		}
		return PhaseFailed, res.RollbackDetails
	})
}

// rollback resets the last mode-path section to defaults. It is a narrow
// undo, not a restore of the pre-change configuration.
func (a *Applier) rollback(ctx context.Context, p *plan.ConfigPlan, res *ApplyResult) bool {
	if _, err := a.backups.Read(ctx, res.PreBackupSHA, res.PreBackupFile); err != nil {
		res.RollbackDetails = "Rollback failed: " + err.Error()
		return false
	}

	scope := p.ScopedModePath()
	if len(scope) == 0 {
		res.RollbackDetails = fmt.Sprintf("Rollback failed: plan has no section to default; restore from backup %s", short(res.PreBackupSHA))
		return false
	}

	cmds := append(scope, "default "+scope[len(scope)-1])
	results, err := a.session.SendConfigs(ctx, cmds, false)
	if err != nil {
		res.RollbackDetails = "Rollback failed: " + err.Error()
		return false
	}
	for _, r := range results {
		if r.Failed || iosparse.IsError(r.Output) {
			res.RollbackDetails = fmt.Sprintf("Rollback failed: %q: %s", r.Command, firstLine(r.Output))
			return false
		}
	}

	res.RollbackDetails = "Scoped rollback attempted (defaulted affected section)"
	return true
}

// snapshot fetches the running config and saves it as a backup
func (a *Applier) snapshot(ctx context.Context, reason string, summary *plan.Summary) (string, string, error) {
	r, err := a.session.SendShow(ctx, ShowRunningConfig)
	if err != nil {
		return "", "", fmt.Errorf("fetch running-config: %w", err)
	}
	if r.Failed || iosparse.IsError(r.Output) {
		return "", "", fmt.Errorf("fetch running-config: %s", firstLine(r.Output))
	}
	file, sha, err := a.backups.Save(ctx, r.Output, reason, summary)
	if err != nil {
		return "", "", fmt.Errorf("save backup %s: %w", reason, err)
	}
	return file, sha, nil
}

func firstLine(s string) string {
	if msg := iosparse.DetectError(s); msg != "" {
		return msg
	}
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
