// Package transport talks to the router's command line. A Driver is a
// single blocking CLI session; callers are expected to serialize use.
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned when the device prompt does not come back in time
var ErrTimeout = errors.New("timed out waiting for device prompt")

// CommandResult is the captured output of one command
type CommandResult struct {
	Command string        `json:"command"`
	Output  string        `json:"output"`
	Failed  bool          `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

// Driver is a blocking CLI session on one device
type Driver interface {
	// SendCommand runs one command at the current (exec) prompt
	SendCommand(command string) (CommandResult, error)

	// SendConfigs enters configuration mode, runs each command and returns
	// to exec mode. With stopOnFailure the run ends at the first failed
	// command; results cover only the commands actually issued.
	SendConfigs(commands []string, stopOnFailure bool) ([]CommandResult, error)

	// ProbeRaw writes text without a newline, waits, collects whatever the
	// device printed and then clears the input line.
	ProbeRaw(text string, wait time.Duration) (string, error)

	// Enable elevates to privileged exec using secret
	Enable(secret string) error

	IsAlive() bool
	Close() error
}

// DialFunc opens a new Driver
type DialFunc func(ctx context.Context) (Driver, error)

// failureMarkers flag a command as failed at the transport layer. This
// is the same short list the CLI itself uses to refuse input; richer
// error detection lives in iosparse.
var failureMarkers = []string{
	"% Ambiguous command",
	"% Incomplete command",
	"% Invalid input detected",
	"% Unknown command",
}

func outputFailed(output string) bool {
	for _, m := range failureMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}
