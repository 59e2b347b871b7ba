package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zph/cmectl/pkg/config"
)

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the router password in the OS keyring",
}

var keyringSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the router password for the configured user and host",
	Long: `Store the router password in the OS keyring.

The password is read from stdin, without echo on a terminal. Set use_keyring (or CME_KEYRING=true) so
cmectl reads it back when router.password is empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := settings.Router
		if r.Host == "" || r.Username == "" {
			return fmt.Errorf("router host and username must be configured first")
		}

		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", r.Username, r.Host)
		password, err := readPassword(os.Stdin)
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("empty password")
		}

		if err := config.StorePassword(r.Username, r.Host, password); err != nil {
			return fmt.Errorf("failed to store password: %w", err)
		}
		pterm.Success.Printf("Stored password for %s@%s\n", r.Username, r.Host)
		return nil
	},
}

// readPassword reads without echo from a terminal and falls back to one
// line of input when stdin is piped.
func readPassword(in *os.File) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	keyringCmd.AddCommand(keyringSetCmd)
	rootCmd.AddCommand(keyringCmd)
}
