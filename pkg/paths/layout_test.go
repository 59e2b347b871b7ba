package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Directories(t *testing.T) {
	stateDir := "/home/user/.cmectl"
	layout, err := NewLayout(stateDir)
	require.NoError(t, err)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"state", layout.StateDir(), stateDir},
		{"plans", layout.PlansDir(), filepath.Join(stateDir, "plans")},
		{"applied", layout.AppliedDir(), filepath.Join(stateDir, "applied")},
		{"locks", layout.LocksDir(), filepath.Join(stateDir, "locks")},
		{"backup", layout.BackupWorkdir(), filepath.Join(stateDir, "backup-workdir")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLayout_CleansPath(t *testing.T) {
	layout, err := NewLayout("/var/lib/cmectl/../cmectl/")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cmectl", layout.StateDir())
}

func TestLayout_RequiresDir(t *testing.T) {
	_, err := NewLayout("")
	assert.Error(t, err)
}

func TestLayout_Ensure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	layout, err := NewLayout(root)
	require.NoError(t, err)
	require.NoError(t, layout.Ensure())

	for _, dir := range []string{layout.PlansDir(), layout.AppliedDir(), layout.LocksDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	// idempotent
	assert.NoError(t, layout.Ensure())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/.cmectl", filepath.Join(home, ".cmectl")},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"~other/x", "~other/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ExpandHome(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
