package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, 22, s.Router.Port)
	assert.Equal(t, 30*time.Second, s.Session.IdleTimeout)
	assert.Equal(t, 2*time.Second, s.Session.ProbeWait)
	assert.False(t, s.MaintenanceMode)
	assert.Equal(t, "main", s.Backup.Branch)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmectl.yaml")
	content := `
router:
  host: 10.20.102.11
  username: ops
  name: a14-con
session:
  idle_timeout: 45s
maintenance_mode: true
backup:
  folder: a14-con
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s := Default()
	require.NoError(t, s.loadFile(path))

	assert.Equal(t, "10.20.102.11", s.Router.Host)
	assert.Equal(t, "ops", s.Router.Username)
	assert.Equal(t, 22, s.Router.Port, "unset keys keep defaults")
	assert.Equal(t, 45*time.Second, s.Session.IdleTimeout)
	assert.True(t, s.MaintenanceMode)
	assert.Equal(t, "a14-con", s.Backup.Folder)
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [unclosed"), 0644))

	err := Default().loadFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	s := Default()
	err := s.applyEnv(envFrom(map[string]string{
		"CME_ROUTER_HOST":                  "192.0.2.1",
		"CME_ROUTER_PORT":                  "2222",
		"CME_ROUTER_ENABLE_SECRET":         "s3cret",
		"CME_SESSION_IDLE_TIMEOUT_SECONDS": "10",
		"CME_PROBE_WAIT":                   "500ms",
		"CME_MAINTENANCE_MODE":             "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.1", s.Router.Host)
	assert.Equal(t, 2222, s.Router.Port)
	assert.Equal(t, "s3cret", s.Router.EnableSecret)
	assert.Equal(t, 10*time.Second, s.Session.IdleTimeout)
	assert.Equal(t, 500*time.Millisecond, s.Session.ProbeWait)
	assert.True(t, s.MaintenanceMode)
}

func TestApplyEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"CME_ROUTER_PORT": "ssh"}},
		{"bad duration", map[string]string{"CME_SESSION_IDLE_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"CME_MAINTENANCE_MODE": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().applyEnv(envFrom(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	s := Default()
	assert.Error(t, s.Validate(), "host is required")

	s.Router.Host = "10.0.0.1"
	assert.NoError(t, s.Validate())

	s.Session.IdleTimeout = 0
	assert.Error(t, s.Validate())
}

func TestRedacted(t *testing.T) {
	s := Default()
	s.Router.Password = "pw"
	s.Router.EnableSecret = "en"

	r := s.Redacted()
	assert.Equal(t, "********", r.Router.Password)
	assert.Equal(t, "********", r.Router.EnableSecret)
	assert.Equal(t, "pw", s.Router.Password, "original untouched")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = ParseDuration("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}
