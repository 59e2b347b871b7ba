package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/restore"
)

var (
	restoreFile        string
	restoreMethod      string
	restoreAutoApprove bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <ref>",
	Short: "Replay a backed-up config onto the router",
	Long: `Restore the running-config from a backup commit.

The current running-config is backed up first. Lines are replayed in
configuration mode; commands that are not in the backup are NOT removed, so
a restore is best-effort. Failed lines are reported as warnings.

The router is locked for the duration, as for apply.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.close()

		if !restoreAutoApprove && !confirm(fmt.Sprintf("Replay backup %s onto %s?", args[0], a.settings.Router.Host)) {
			pterm.Info.Println("Restore cancelled")
			return nil
		}

		sess, err := a.session()
		if err != nil {
			return err
		}
		locks, err := a.locks()
		if err != nil {
			return err
		}
		lock, err := locks.Acquire(a.deviceName(), "restore-"+args[0], 0)
		if err != nil {
			return err
		}
		defer locks.Release(lock)

		ctx := context.Background()
		backups, err := a.backupStore(ctx)
		if err != nil {
			return err
		}

		res, err := restore.New(sess, backups, a.filter).Restore(ctx, args[0], restoreFile, restoreMethod)
		if err != nil {
			return err
		}
		if done, err := printJSON(res); done {
			return err
		}

		for _, w := range res.Warnings {
			pterm.Warning.Println(w)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Method:      %s\n", orDash(res.MethodUsed))
		fmt.Fprintf(&b, "Pre-restore: %s\n", orDash(res.PreRestoreSHA))
		fmt.Fprintf(&b, "Verify:      %s\n", orDash(strings.TrimSpace(res.VerificationOutput)))
		if res.Error != "" {
			fmt.Fprintf(&b, "Error:       %s\n", res.Error)
		}
		title := "Restore Completed"
		if !res.Success {
			title = "Restore Failed"
		}
		renderBox(title, res.Success, b.String())
		return nil
	},
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Detect router features relevant to restore and rollback",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.close()

		sess, err := a.session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(a)
		defer cancel()

		caps := restore.DetectCapabilities(ctx, sess)
		if done, err := printJSON(caps); done {
			return err
		}

		rows := [][]string{
			{"IOS version", orDash(caps.IOSVersion)},
			{"Hostname", orDash(caps.Hostname)},
			{"Model", orDash(caps.Model)},
		}
		features := make([]string, 0, len(caps.DetectedFeatures))
		for f := range caps.DetectedFeatures {
			features = append(features, f)
		}
		sort.Strings(features)
		for _, f := range features {
			rows = append(rows, []string{f, yesNo(caps.DetectedFeatures[f])})
		}
		return renderTable([]string{"Capability", "Value"}, rows)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check router reachability and CME status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer a.close()

		sess, err := a.session()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(a)
		defer cancel()

		h := restore.CheckHealth(ctx, sess)
		if done, err := printJSON(h); done {
			return err
		}
		if !h.Reachable {
			pterm.Error.Printf("Router unreachable: %s\n", h.Error)
			return fmt.Errorf("router unreachable")
		}

		registered := 0
		for _, p := range h.RegisteredPhones {
			if p.Status == iosparse.StatusRegistered {
				registered++
			}
		}
		pterm.Success.Printf("Router reachable, %d of %d phones registered\n", registered, len(h.RegisteredPhones))
		return renderMap(h.TelephonyService)
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "file within the commit (default: the commit's .cfg)")
	restoreCmd.Flags().StringVar(&restoreMethod, "method", "", "restore method: configure_replace or line_by_line (default: detect)")
	restoreCmd.Flags().BoolVarP(&restoreAutoApprove, "yes", "y", false, "restore without asking for confirmation")

	rootCmd.AddCommand(restoreCmd, capabilitiesCmd, healthCmd)
}
