package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zph/cmectl/pkg/config"
	"github.com/zph/cmectl/pkg/logger"
)

var (
	rootConfigFile  string
	rootLogLevel    string
	rootLogFormat   string
	rootMaintenance bool
	rootJSON        bool

	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "cmectl",
	Short: "Cisco CME voice router configuration manager",
	Long: `cmectl reads and changes the telephony configuration of a Cisco
Unified Communications Manager Express router over SSH.

Changes follow a plan / validate / apply workflow:
1. Create a plan from raw commands (plan create -f) or an intent (plan intent)
2. Validate it against the allowlist and, optionally, the router's own help
3. Apply it: back up, push, verify, write memory, back up again

Every command sent to the router passes a safety filter. Destructive commands
such as reload, erase or username changes are always refused.

Settings come from --config (or CME_CONFIG), then CME_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Configure(rootLogLevel, rootLogFormat)

		s, err := config.Load(rootConfigFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("maintenance") {
			s.MaintenanceMode = rootMaintenance
		}
		settings = s
		if logger.IsDebug() {
			logger.Debug("settings: %+v", *s.Redacted())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigFile, "config", "", "YAML settings file (default $CME_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&rootLogFormat, "log-format", "", "log format: text or json (default $LOG_FORMAT)")
	rootCmd.PersistentFlags().BoolVar(&rootMaintenance, "maintenance", false, "widen the config allowlist beyond telephony")
	rootCmd.PersistentFlags().BoolVar(&rootJSON, "json", false, "print results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
