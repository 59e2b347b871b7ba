package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds everything cmectl needs to reach the router and keep
// backups. Values come from defaults, then an optional YAML file, then
// CME_* environment variables.
type Settings struct {
	Router  RouterConfig  `yaml:"router"`
	Session SessionConfig `yaml:"session"`
	Backup  BackupConfig  `yaml:"backup"`

	// MaintenanceMode widens the config-mode allowlist beyond telephony
	MaintenanceMode bool `yaml:"maintenance_mode"`

	// StateDir holds plans, the applied-plan ledger and the device lock
	StateDir string `yaml:"state_dir"`

	// UseKeyring enables the OS keyring fallback for the router password
	UseKeyring bool `yaml:"use_keyring"`
}

// RouterConfig describes how to reach the device
type RouterConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	KeyFile      string `yaml:"key_file,omitempty"`
	EnableSecret string `yaml:"enable_secret,omitempty"`
	Name         string `yaml:"name"`
}

// SessionConfig holds session timing knobs
type SessionConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ProbeWait      time.Duration `yaml:"probe_wait"`
}

// BackupConfig describes the git repository used for config snapshots
type BackupConfig struct {
	Workdir      string `yaml:"workdir"`
	Folder       string `yaml:"folder"`
	RemoteURL    string `yaml:"remote_url,omitempty"`
	Branch       string `yaml:"branch"`
	HTTPUsername string `yaml:"http_username,omitempty"`
	HTTPToken    string `yaml:"http_token,omitempty"`
	AuthorName   string `yaml:"author_name"`
	AuthorEmail  string `yaml:"author_email"`
}

// Default returns settings with every optional field populated
func Default() *Settings {
	stateDir := ".cmectl"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".cmectl")
	}

	return &Settings{
		Router: RouterConfig{
			Port:     22,
			Username: "admin",
			Name:     "cme",
		},
		Session: SessionConfig{
			IdleTimeout:    30 * time.Second,
			ConnectTimeout: 15 * time.Second,
			CommandTimeout: 30 * time.Second,
			ProbeWait:      2 * time.Second,
		},
		Backup: BackupConfig{
			Workdir:     filepath.Join(stateDir, "backup-workdir"),
			Folder:      "cme",
			Branch:      "main",
			AuthorName:  "CME Tools Bot",
			AuthorEmail: "cme-tools-bot@local",
		},
		StateDir: stateDir,
	}
}

// Load builds settings from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Settings, error) {
	s := Default()

	if path == "" {
		path = os.Getenv("CME_CONFIG")
	}
	if path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if s.Router.Password == "" && s.UseKeyring && s.Router.Host != "" {
		password, err := LookupPassword(s.Router.Username, s.Router.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to read router password from keyring: %w", err)
		}
		s.Router.Password = password
	}

	return s, nil
}

func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from environment variables. lookup is
// injected so tests don't have to mutate the process environment.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str("CME_ROUTER_HOST", &s.Router.Host)
	str("CME_ROUTER_USERNAME", &s.Router.Username)
	str("CME_ROUTER_PASSWORD", &s.Router.Password)
	str("CME_ROUTER_SSH_KEY_PATH", &s.Router.KeyFile)
	str("CME_ROUTER_ENABLE_SECRET", &s.Router.EnableSecret)
	str("CME_ROUTER_NAME", &s.Router.Name)
	str("CME_STATE_DIR", &s.StateDir)
	str("CME_BACKUP_WORKDIR", &s.Backup.Workdir)
	str("CME_GIT_BACKUP_FOLDER", &s.Backup.Folder)
	str("CME_GIT_REMOTE_URL", &s.Backup.RemoteURL)
	str("CME_GIT_BRANCH", &s.Backup.Branch)
	str("CME_GIT_HTTP_USERNAME", &s.Backup.HTTPUsername)
	str("CME_GIT_HTTP_TOKEN", &s.Backup.HTTPToken)
	str("CME_GIT_AUTHOR_NAME", &s.Backup.AuthorName)
	str("CME_GIT_AUTHOR_EMAIL", &s.Backup.AuthorEmail)

	if v, ok := lookup("CME_ROUTER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CME_ROUTER_PORT %q: %w", v, err)
		}
		s.Router.Port = port
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CME_SESSION_IDLE_TIMEOUT", &s.Session.IdleTimeout},
		{"CME_SESSION_IDLE_TIMEOUT_SECONDS", &s.Session.IdleTimeout},
		{"CME_CONNECT_TIMEOUT", &s.Session.ConnectTimeout},
		{"CME_COMMAND_TIMEOUT", &s.Session.CommandTimeout},
		{"CME_PROBE_WAIT", &s.Session.ProbeWait},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"CME_MAINTENANCE_MODE", &s.MaintenanceMode},
		{"CME_KEYRING", &s.UseKeyring},
	}
	for _, b := range bools {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", b.key, v, err)
		}
		*b.dst = parsed
	}

	return nil
}

// ParseDuration accepts Go duration strings ("45s", "2m") and bare
// integers, which are read as seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the settings needed to open a device session
func (s *Settings) Validate() error {
	if s.Router.Host == "" {
		return fmt.Errorf("router host is required (set CME_ROUTER_HOST or router.host)")
	}
	if s.Router.Username == "" {
		return fmt.Errorf("router username is required")
	}
	if s.Router.Port <= 0 || s.Router.Port > 65535 {
		return fmt.Errorf("router port %d out of range", s.Router.Port)
	}
	if s.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive")
	}
	if s.Session.ConnectTimeout <= 0 || s.Session.CommandTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print
func (s *Settings) Redacted() *Settings {
	c := *s
	if c.Router.Password != "" {
		c.Router.Password = "********"
	}
	if c.Router.EnableSecret != "" {
		c.Router.EnableSecret = "********"
	}
	if c.Backup.HTTPToken != "" {
		c.Backup.HTTPToken = "********"
	}
	return &c
}
