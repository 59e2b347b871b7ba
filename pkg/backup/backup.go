// Package backup keeps running-config snapshots in a git repository so
// every change has a rollback point and an audit trail.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/plan"
)

// ErrNotFound is returned when a ref holds no matching backup
var ErrNotFound = errors.New("backup not found")

// Entry is one backup commit
type Entry struct {
	Ref     string `json:"ref"`
	Date    string `json:"date"`
	Message string `json:"message"`
}

// Store is what the apply and restore flows need from a backup backend
type Store interface {
	Save(ctx context.Context, configText, reason string, summary *plan.Summary) (filename, ref string, err error)
	Read(ctx context.Context, ref, filename string) (string, error)
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Manifest is written next to each .cfg snapshot
type Manifest struct {
	Timestamp  time.Time         `json:"timestamp"`
	Reason     string            `json:"reason"`
	RouterHost string            `json:"router_host"`
	RouterName string            `json:"router_name"`
	Router     map[string]string `json:"router,omitempty"`
	Plan       *plan.Summary     `json:"plan,omitempty"`
}

// GitConfig locates the working copy and its optional remote
type GitConfig struct {
	Workdir      string
	Folder       string
	RemoteURL    string
	Branch       string
	HTTPUsername string
	HTTPToken    string
	AuthorName   string
	AuthorEmail  string

	RouterHost string
	RouterName string
}

// Git is a Store backed by a local git working copy. Pushes and pulls are
// best effort; the local commit is the durable record.
type Git struct {
	cfg GitConfig
	mu  sync.Mutex
	now func() time.Time

	// RouterMeta, when set, is copied into every manifest
	RouterMeta map[string]string
}

// NewGit creates the store; call EnsureRepo before first use
func NewGit(cfg GitConfig) *Git {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Folder == "" {
		cfg.Folder = "cme"
	}
	return &Git{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureRepo clones the remote, or initialises an empty repository when
// there is no remote or the clone fails.
func (g *Git) EnsureRepo(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.cfg.Workdir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup workdir: %w", err)
	}

	if _, err := os.Stat(filepath.Join(g.cfg.Workdir, ".git")); os.IsNotExist(err) {
		cloned := false
		if g.cfg.RemoteURL != "" {
			logger.WithFields(logger.Fields{"remote": g.cfg.RemoteURL}).Info("backup.clone")
			_, err := g.git(ctx, "clone", "--depth=1", "-b", g.cfg.Branch, g.remoteURL(), ".")
			if err == nil {
				cloned = true
			} else {
				logger.WithFields(logger.Fields{"error": err.Error()}).Warn("backup.clone_failed")
			}
		}
		if !cloned {
			logger.Info("backup.init_fresh")
			if _, err := g.git(ctx, "init"); err != nil {
				return err
			}
			if _, err := g.git(ctx, "symbolic-ref", "HEAD", "refs/heads/"+g.cfg.Branch); err != nil {
				return err
			}
			if g.cfg.RemoteURL != "" {
				g.gitQuiet(ctx, "remote", "add", "origin", g.remoteURL())
			}
		}
	}

	if err := os.MkdirAll(filepath.Join(g.cfg.Workdir, g.cfg.Folder), 0o755); err != nil {
		return fmt.Errorf("failed to create backup folder: %w", err)
	}
	return nil
}

// Save writes configText and a manifest, commits both and pushes. It
// returns the .cfg filename and the commit sha.
func (g *Git) Save(ctx context.Context, configText, reason string, summary *plan.Summary) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pull(ctx)

	now := g.now()
	folder := filepath.Join(g.cfg.Workdir, g.cfg.Folder)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create backup folder: %w", err)
	}

	base := fmt.Sprintf("%s__%s", now.Format("02-01-06__150405"), SafeReason(reason))
	for i := 2; fileExists(filepath.Join(folder, base+".cfg")); i++ {
		base = fmt.Sprintf("%s__%s-%d", now.Format("02-01-06__150405"), SafeReason(reason), i)
	}
	cfgName := base + ".cfg"
	jsonName := base + ".json"

	if err := os.WriteFile(filepath.Join(folder, cfgName), []byte(configText), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write backup: %w", err)
	}

	manifest := Manifest{
		Timestamp:  now,
		Reason:     reason,
		RouterHost: g.cfg.RouterHost,
		RouterName: g.cfg.RouterName,
		Router:     g.RouterMeta,
		Plan:       summary,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, jsonName), data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write manifest: %w", err)
	}

	rel := func(name string) string { return filepath.ToSlash(filepath.Join(g.cfg.Folder, name)) }
	if _, err := g.git(ctx, "add", "--", rel(cfgName), rel(jsonName)); err != nil {
		return "", "", err
	}
	if _, err := g.git(ctx, "commit", "-m", fmt.Sprintf("backup: %s (%s)", reason, cfgName)); err != nil {
		return "", "", err
	}
	sha, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", "", err
	}
	sha = strings.TrimSpace(sha)

	g.push(ctx)

	logger.WithFields(logger.Fields{"file": cfgName, "sha": short(sha)}).Info("backup.saved")
	return cfgName, sha, nil
}

// Read returns a backup's config text at ref. With no filename it reads
// the .cfg added by that commit, falling back to the last .cfg by name.
func (g *Git) Read(ctx context.Context, ref, filename string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if strings.HasPrefix(ref, "-") {
		return "", fmt.Errorf("%w: invalid ref %q", ErrNotFound, ref)
	}

	g.pull(ctx)

	var path string
	if filename != "" {
		if strings.ContainsAny(filename, `/\`) {
			return "", fmt.Errorf("%w: invalid filename %q", ErrNotFound, filename)
		}
		path = g.cfg.Folder + "/" + filename
	} else {
		added, _ := g.git(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", ref, "--", g.cfg.Folder+"/")
		path = lastCfg(added)
		if path == "" {
			listed, _ := g.git(ctx, "ls-tree", "--name-only", ref, g.cfg.Folder+"/")
			path = lastCfg(listed)
		}
		if path == "" {
			return "", fmt.Errorf("%w: no .cfg files at ref %s", ErrNotFound, ref)
		}
	}

	content, err := g.git(ctx, "show", ref+":"+path)
	if err != nil {
		return "", fmt.Errorf("%w: %s at %s: %v", ErrNotFound, path, ref, err)
	}
	return content, nil
}

// List returns recent backup commits, newest first
func (g *Git) List(ctx context.Context, limit int) ([]Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	// A repository with no commits makes git log fail; that is an empty list
	out, err := g.git(ctx, "log", fmt.Sprintf("--max-count=%d", limit), "--pretty=format:%H|%aI|%s", "--", g.cfg.Folder+"/")
	if err != nil {
		logger.Debug("git log: %v", err)
		return []Entry{}, nil
	}

	entries := make([]Entry, 0, limit)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, Entry{Ref: parts[0], Date: parts[1], Message: parts[2]})
	}
	return entries, nil
}

// SafeReason makes a reason usable inside a filename
func SafeReason(reason string) string {
	r := strings.NewReplacer(" ", "-", "/", "-", `\`, "-").Replace(strings.TrimSpace(reason))
	if r == "" {
		r = "manual"
	}
	if len(r) > 40 {
		r = r[:40]
	}
	return r
}

func (g *Git) pull(ctx context.Context) {
	if g.cfg.RemoteURL == "" {
		return
	}
	if _, err := g.git(ctx, "pull", "--rebase", "origin", g.cfg.Branch); err != nil {
		logger.WithFields(logger.Fields{"error": err.Error()}).Warn("backup.pull_failed")
	}
}

func (g *Git) push(ctx context.Context) {
	if g.cfg.RemoteURL == "" {
		return
	}
	if _, err := g.git(ctx, "push", "origin", g.cfg.Branch); err != nil {
		logger.WithFields(logger.Fields{"error": err.Error()}).Warn("backup.push_failed")
	}
}

// remoteURL injects HTTP credentials into an https remote
func (g *Git) remoteURL() string {
	url := g.cfg.RemoteURL
	if !strings.HasPrefix(url, "https://") || g.cfg.HTTPToken == "" {
		return url
	}
	creds := g.cfg.HTTPToken
	if g.cfg.HTTPUsername != "" {
		creds = g.cfg.HTTPUsername + ":" + g.cfg.HTTPToken
	}
	return strings.Replace(url, "https://", "https://"+creds+"@", 1)
}

// git runs one git command in the workdir and returns stdout
func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.cfg.Workdir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+g.cfg.AuthorName,
		"GIT_AUTHOR_EMAIL="+g.cfg.AuthorEmail,
		"GIT_COMMITTER_NAME="+g.cfg.AuthorName,
		"GIT_COMMITTER_EMAIL="+g.cfg.AuthorEmail,
		"GIT_TERMINAL_PROMPT=0",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if logger.IsDebug() {
		logger.WithFields(logger.Fields{"args": g.redact(strings.Join(args, " ")), "ok": err == nil}).Debug("git.exec")
	}
	if err != nil {
		return stdout.String(), fmt.Errorf("git %s failed: %s", args[0], g.redact(strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

func (g *Git) gitQuiet(ctx context.Context, args ...string) {
	if _, err := g.git(ctx, args...); err != nil {
		logger.Debug("%v", err)
	}
}

func (g *Git) redact(s string) string {
	if g.cfg.HTTPToken == "" {
		return s
	}
	return strings.ReplaceAll(s, g.cfg.HTTPToken, "********")
}

func lastCfg(listing string) string {
	var last string
	for _, f := range strings.Split(listing, "\n") {
		f = strings.TrimSpace(f)
		if strings.HasSuffix(f, ".cfg") {
			last = f
		}
	}
	return last
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

var _ Store = (*Git)(nil)
