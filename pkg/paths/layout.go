// Package paths lays out cmectl's state directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout names every directory under the state dir:
//
//	<state-dir>/plans           stored plans and their .sha256 sidecars
//	<state-dir>/applied         the applied-plan ledger
//	<state-dir>/locks           one lock file per device
//	<state-dir>/backup-workdir  default git working copy for backups
type Layout struct {
	stateDir string
}

// NewLayout creates a layout rooted at stateDir. A leading "~/" is
// expanded to the home directory.
func NewLayout(stateDir string) (*Layout, error) {
	dir, err := ExpandHome(stateDir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	return &Layout{stateDir: filepath.Clean(dir)}, nil
}

// StateDir returns the root
func (l *Layout) StateDir() string {
	return l.stateDir
}

// PlansDir holds stored plans
func (l *Layout) PlansDir() string {
	return filepath.Join(l.stateDir, "plans")
}

// AppliedDir holds the applied-plan ledger
func (l *Layout) AppliedDir() string {
	return filepath.Join(l.stateDir, "applied")
}

// LocksDir holds device lock files
func (l *Layout) LocksDir() string {
	return filepath.Join(l.stateDir, "locks")
}

// BackupWorkdir is the default git working copy for backups
func (l *Layout) BackupWorkdir() string {
	return filepath.Join(l.stateDir, "backup-workdir")
}

// Ensure creates the state directory tree
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.PlansDir(), l.AppliedDir(), l.LocksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
