package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/zph/cmectl/pkg/apply"
	"github.com/zph/cmectl/pkg/plan"
)

var (
	validateProbe bool

	applyAutoApprove    bool
	applyLockTimeout    time.Duration
	applyForceUnlock    bool
	applyAllowUnchecked bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan-id>",
	Short: "Check a plan against the allowlist and, optionally, the router",
	Long: `Validate every command of a plan.

Without --probe the check is offline: the safety filter plus a list of known
CME command shapes. With --probe the router enters configuration mode and
the plan's mode path, and each command is typed followed by "?" so the
router's own help decides whether it parses. The commands themselves never
run, but entering an entity's mode (e.g. "ephone 12") creates that entity in
the running config if it is missing. The router is locked while probing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.close()

		store, err := a.planStore()
		if err != nil {
			return err
		}
		p, err := store.Get(args[0])
		if err != nil {
			return err
		}

		var prober plan.Prober
		if validateProbe {
			sess, err := a.session()
			if err != nil {
				return err
			}
			prober = sess

			locks, err := a.locks()
			if err != nil {
				return err
			}
			lock, err := locks.Acquire(a.deviceName(), "validate-"+p.ShortID(), 0)
			if err != nil {
				return err
			}
			defer locks.Release(lock)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(p.Commands)+1)*(a.settings.Session.ProbeWait+a.settings.Session.CommandTimeout))
		defer cancel()

		res, err := plan.NewValidator(a.filter, prober, store).
			WithProbeWait(a.settings.Session.ProbeWait).
			Validate(ctx, p, validateProbe)
		if err != nil {
			return err
		}
		if done, err := printJSON(res); done {
			return err
		}

		rows := make([][]string, 0, len(res.CommandResults))
		for _, r := range res.CommandResults {
			rows = append(rows, []string{r.Command, string(r.Status), r.Message, r.Suggestion})
		}
		if err := renderTable([]string{"Command", "Status", "Message", "Suggestion"}, rows); err != nil {
			return err
		}
		if res.OK {
			pterm.Success.Println("Plan is valid")
		} else {
			pterm.Error.Println("Plan has invalid commands")
		}
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <plan-id>",
	Short: "Apply a plan to the router",
	Long: `Apply a stored plan.

APPLY PHASES:
1. Pre-backup   - running-config is committed to the backup repository
2. Apply        - the mode path and commands are sent, stopping at the first error
3. Verify       - the plan's verification commands are run and recorded
4. Persist      - "write memory", only when every command succeeded
5. Post-backup  - running-config is committed again, whatever the outcome
6. Rollback     - on failure, the affected section is reset with "default"

A plan can be applied once. The router is locked for the duration so two
cmectl processes never change it at the same time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.close()

		store, err := a.planStore()
		if err != nil {
			return err
		}
		p, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if !p.Validated && !applyAllowUnchecked {
			return fmt.Errorf("plan %s has not been validated; run cmectl validate %s or pass --allow-unvalidated", p.ShortID(), p.PlanID)
		}
		if p.ValidationResult != nil && !p.ValidationResult.OK && !applyAllowUnchecked {
			return fmt.Errorf("plan %s failed validation", p.ShortID())
		}

		if !applyAutoApprove {
			_ = renderPlan(p)
			if !confirm(fmt.Sprintf("Apply this plan to %s?", a.settings.Router.Host)) {
				pterm.Info.Println("Apply cancelled")
				return nil
			}
		}

		sess, err := a.session()
		if err != nil {
			return err
		}
		ledger, err := a.ledger()
		if err != nil {
			return err
		}
		locks, err := a.locks()
		if err != nil {
			return err
		}
		if applyForceUnlock {
			if err := locks.ForceUnlock(a.deviceName()); err != nil {
				return err
			}
		}

		ctx := context.Background()
		backups, err := a.backupStore(ctx)
		if err != nil {
			return err
		}

		applier := apply.NewApplier(sess, backups, a.filter, apply.Options{
			Ledger:      ledger,
			Locks:       locks,
			Device:      a.deviceName(),
			LockTimeout: applyLockTimeout,
		})
		res, err := applier.Apply(ctx, p)
		if err != nil {
			if errors.Is(err, apply.ErrLocked) {
				return fmt.Errorf("%w (use --force-unlock if the holder is gone)", err)
			}
			return err
		}
		return renderApplyResult(res)
	},
}

var appliedCmd = &cobra.Command{
	Use:   "applied [plan-id]",
	Short: "List applied plans, or show one apply result",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := newApp().ledger()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			entry, err := ledger.Get(args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("plan %s has not been applied", args[0])
			}
			if entry.Result == nil {
				if done, err := printJSON(entry); done {
					return err
				}
				pterm.Warning.Printf("plan %s is %s since %s\n", entry.PlanID, entry.State, entry.ClaimedAt.Local().Format(time.RFC3339))
				return nil
			}
			return renderApplyResult(entry.Result)
		}

		entries, err := ledger.List()
		if err != nil {
			return err
		}
		if done, err := printJSON(entries); done {
			return err
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			success := "-"
			if e.Result != nil {
				success = yesNo(e.Result.Success)
			}
			rows = append(rows, []string{e.PlanID, string(e.State), e.ClaimedAt.Local().Format("2006-01-02 15:04"), success})
		}
		return renderTable([]string{"Plan", "State", "Claimed", "Success"}, rows)
	},
}

func renderApplyResult(res *apply.ApplyResult) error {
	if done, err := printJSON(res); done {
		return err
	}

	rows := make([][]string, 0, len(res.Phases))
	for _, ph := range res.Phases {
		rows = append(rows, []string{ph.Name, string(ph.Status), ph.Elapsed.Round(time.Millisecond).String(), ph.Detail})
	}
	if err := renderTable([]string{"Phase", "Status", "Elapsed", "Detail"}, rows); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan:          %s\n", res.PlanID)
	fmt.Fprintf(&b, "Pre-backup:    %s\n", orDash(res.PreBackupSHA))
	fmt.Fprintf(&b, "Post-backup:   %s\n", orDash(res.PostBackupSHA))
	fmt.Fprintf(&b, "Startup saved: %s\n", yesNo(res.StartupSaved))
	for _, c := range res.FailedCommands() {
		fmt.Fprintf(&b, "Failed:        %s\n               %s\n", c.Command, strings.TrimSpace(c.Output))
	}
	if res.RollbackAttempted {
		fmt.Fprintf(&b, "Rollback:      %s (%s)\n", yesNo(res.RollbackSucceeded()), res.RollbackDetails)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "Error:         %s\n", res.Error)
	}

	title := "Apply Succeeded"
	if !res.Success {
		title = "Apply Failed"
	}
	renderBox(title, res.Success, b.String())
	return nil
}

func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	validateCmd.Flags().BoolVar(&validateProbe, "probe", false, "ask the router's CLI help about each command")

	applyCmd.Flags().BoolVarP(&applyAutoApprove, "yes", "y", false, "apply without asking for confirmation")
	applyCmd.Flags().DurationVar(&applyLockTimeout, "lock-timeout", apply.DefaultLockTimeout, "how long the device lock is held before others may take it over")
	applyCmd.Flags().BoolVar(&applyForceUnlock, "force-unlock", false, "remove a stale device lock before applying")
	applyCmd.Flags().BoolVar(&applyAllowUnchecked, "allow-unvalidated", false, "apply a plan that was not validated, or failed validation")

	rootCmd.AddCommand(validateCmd, applyCmd, appliedCmd)
}
