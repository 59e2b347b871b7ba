package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/zph/cmectl/pkg/apply"
	"github.com/zph/cmectl/pkg/iosparse"
)

var (
	backupReason   string
	backupLimit    int
	backupShowFile string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take and browse running-config backups",
	Long: `Backups are commits in a git repository (backup.workdir, optionally pushed
to backup.remote_url). Each commit holds the running-config and a JSON manifest
naming the reason and, for applies, the plan.`,
}

var backupTakeCmd = &cobra.Command{
	Use:   "take",
	Short: "Commit the current running-config",
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

		backups, err := a.backupStore(ctx)
		if err != nil {
			return err
		}
		res, err := sess.SendShow(ctx, apply.ShowRunningConfig)
		if err != nil {
			return err
		}
		if msg := iosparse.DetectError(res.Output); msg != "" {
			return fmt.Errorf("router refused %q: %s", apply.ShowRunningConfig, msg)
		}
		file, sha, err := backups.Save(ctx, res.Output, backupReason, nil)
		if err != nil {
			return err
		}
		if done, err := printJSON(map[string]string{"filename": file, "commit_sha": sha}); done {
			return err
		}
		pterm.Success.Printf("Backup %s committed as %s\n", file, sha)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup commits, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		backups, err := newApp().backupStore(ctx)
		if err != nil {
			return err
		}
		entries, err := backups.List(ctx, backupLimit)
		if err != nil {
			return err
		}
		if done, err := printJSON(entries); done {
			return err
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Ref, e.Date, e.Message})
		}
		return renderTable([]string{"Commit", "Date", "Message"}, rows)
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <ref>",
	Short: "Print a backed-up config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		backups, err := newApp().backupStore(ctx)
		if err != nil {
			return err
		}
		text, err := backups.Read(ctx, args[0], backupShowFile)
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

func init() {
	backupTakeCmd.Flags().StringVar(&backupReason, "reason", "manual", "reason recorded in the file name and commit")
	backupListCmd.Flags().IntVar(&backupLimit, "limit", 20, "maximum commits to list")
	backupShowCmd.Flags().StringVar(&backupShowFile, "file", "", "file within the commit (default: the commit's .cfg)")

	backupCmd.AddCommand(backupTakeCmd, backupListCmd, backupShowCmd)
	rootCmd.AddCommand(backupCmd)
}
