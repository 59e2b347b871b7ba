// Package restore replays a saved configuration onto the router and
// reports what the router supports for doing so.
package restore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zph/cmectl/pkg/backup"
	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/transport"
)

// ErrInvalidMethod is returned for an unknown restore method
var ErrInvalidMethod = errors.New("invalid restore method")

// Restore methods
const (
	MethodAuto             = ""
	MethodConfigureReplace = "configure_replace"
	MethodLineByLine       = "line_by_line"
)

// maxReportedFailures caps the failed lines listed in one warning
const maxReportedFailures = 5

// Session is the part of the session manager a restore drives
type Session interface {
	Shower
	SendConfigs(ctx context.Context, commands []string, stopOnFailure bool) ([]transport.CommandResult, error)
}

// Result is the outcome of one restore
type Result struct {
	Success            bool     `json:"success"`
	MethodUsed         string   `json:"method_used"`
	Warnings           []string `json:"warnings"`
	VerificationOutput string   `json:"verification_output"`
	PreRestoreFile     string   `json:"pre_restore_file,omitempty"`
	PreRestoreSHA      string   `json:"pre_restore_sha,omitempty"`
	Error              string   `json:"error,omitempty"`
}

// Restorer restores backups onto the router
type Restorer struct {
	session Session
	backups backup.Store
	filter  *filter.Filter
}

// New wires a restorer. Backup lines matching an always-deny rule of f
// are never replayed; a nil f uses the non-maintenance filter.
func New(session Session, backups backup.Store, f *filter.Filter) *Restorer {
	if f == nil {
		f = filter.New(false)
	}
	return &Restorer{session: session, backups: backups, filter: f}
}

// Restore replays the backup at ref (and filename, if given) onto the
// running configuration. Device and backup failures are reported in the
// result; only an unknown method is returned as an error.
func (r *Restorer) Restore(ctx context.Context, ref, filename, method string) (*Result, error) {
	switch method {
	case MethodAuto, MethodConfigureReplace, MethodLineByLine:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	log := logger.WithFields(logger.Fields{"ref": ref})
	res := &Result{Warnings: []string{}}

	configText, err := r.backups.Read(ctx, ref, filename)
	if err != nil {
		res.Error = "Could not read backup: " + err.Error()
		return res, nil
	}

	if file, sha, err := r.preRestoreBackup(ctx, ref); err != nil {
		res.Warnings = append(res.Warnings, "Pre-restore backup failed: "+err.Error())
	} else {
		res.PreRestoreFile, res.PreRestoreSHA = file, sha
	}

	if method != MethodLineByLine {
		caps := DetectCapabilities(ctx, r.session)
		if caps.ConfigureReplaceAvailable {
			// the backup would have to be on flash: first
			log.Info("restore.configure_replace_available")
			res.Warnings = append(res.Warnings,
				"configure replace requires the backup file on flash:; file upload is not supported, falling back to line-by-line")
		}
	}

	res.MethodUsed = MethodLineByLine
	res.Warnings = append(res.Warnings,
		"Line-by-line restore is best-effort; it cannot remove commands that are absent from the backup")

	lines := PrepareConfigLines(configText)
	if len(lines) == 0 {
		res.Error = "Parsed 0 config lines from backup"
		return res, nil
	}
	lines, denied := r.dropDenied(lines)
	if len(denied) > 0 {
		log.WithFields(logger.Fields{"skipped": len(denied)}).Warn("restore.denied_lines")
		res.Warnings = append(res.Warnings, "Skipped lines denied by safety rules: "+strings.Join(denied, "; "))
	}
	if len(lines) == 0 {
		res.Error = "Every config line in the backup is denied by safety rules"
		return res, nil
	}

	results, err := r.session.SendConfigs(ctx, lines, false)
	if err != nil {
		res.Error = "Line-by-line restore failed: " + err.Error()
		log.WithFields(logger.Fields{"error": err.Error()}).Error("restore.failed")
		return res, nil
	}
	if failed := failedLines(results); len(failed) > 0 {
		res.Warnings = append(res.Warnings, "Some lines failed: "+strings.Join(failed, "; "))
	}

	if v, err := r.session.SendShow(ctx, "show running-config | include hostname"); err == nil {
		res.VerificationOutput = v.Output
	}

	res.Success = true
	log.WithFields(logger.Fields{"method": res.MethodUsed, "lines": len(lines)}).Info("restore.done")
	return res, nil
}

func (r *Restorer) preRestoreBackup(ctx context.Context, ref string) (string, string, error) {
	running, err := r.session.SendShow(ctx, "show running-config")
	if err != nil {
		return "", "", err
	}
	if running.Failed || iosparse.IsError(running.Output) {
		return "", "", errors.New(iosparse.DetectError(running.Output))
	}
	reason := "pre-restore-" + ref
	if len(ref) > 8 {
		reason = "pre-restore-" + ref[:8]
	}
	return r.backups.Save(ctx, running.Output, reason, nil)
}

// dropDenied splits out lines that hit an always-deny rule. Allow-lists do
// not apply: a backup holds the whole device config, not telephony alone.
func (r *Restorer) dropDenied(lines []string) (kept, denied []string) {
	for _, line := range lines {
		if filter.IsDenyReason(r.filter.CheckConfig(line).Reason) {
			denied = append(denied, strings.TrimSpace(line))
			continue
		}
		kept = append(kept, line)
	}
	return kept, denied
}

func failedLines(results []transport.CommandResult) []string {
	var out []string
	for _, res := range results {
		if !res.Failed && !iosparse.IsError(res.Output) {
			continue
		}
		if len(out) == maxReportedFailures {
			break
		}
		msg := strings.TrimSpace(res.Output)
		if len(msg) > 80 {
			msg = msg[:80]
		}
		out = append(out, strings.TrimSpace(res.Command)+": "+msg)
	}
	return out
}

var metaPrefixes = []string{
	"!",
	"building configuration",
	"current configuration",
	"version ",
	"boot-start-marker",
	"boot-end-marker",
}

// PrepareConfigLines drops blank and meta lines from a saved running
// config, leaving the lines that can be replayed in configuration mode.
// Sub-mode indentation is kept.
func PrepareConfigLines(configText string) []string {
	var lines []string
	for _, raw := range strings.Split(strings.ReplaceAll(configText, "\r\n", "\n"), "\n") {
		s := strings.ToLower(strings.TrimSpace(raw))
		if s == "" || s == "end" || hasAnyPrefix(s, metaPrefixes) {
			continue
		}
		lines = append(lines, strings.TrimRight(raw, " \t\r"))
	}
	return lines
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
