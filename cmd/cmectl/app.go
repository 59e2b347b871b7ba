package main

import (
	"context"
	"fmt"

	"github.com/zph/cmectl/pkg/apply"
	"github.com/zph/cmectl/pkg/backup"
	"github.com/zph/cmectl/pkg/config"
	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/paths"
	"github.com/zph/cmectl/pkg/plan"
	"github.com/zph/cmectl/pkg/session"
	"github.com/zph/cmectl/pkg/transport"
)

// app holds the collaborators a command needs. Device and backup pieces
// are built on first use so offline commands never touch SSH or git.
type app struct {
	settings *config.Settings
	filter   *filter.Filter
	sess     *session.Manager
	backups  *backup.Git
}

func newApp() *app {
	a := &app{settings: settings, filter: filter.New(settings.MaintenanceMode)}
	if a.filter.Maintenance() {
		logger.Warn("maintenance mode: config allowlist widened beyond telephony")
	}
	return a
}

func (a *app) layout() (*paths.Layout, error) {
	l, err := paths.NewLayout(a.settings.StateDir)
	if err != nil {
		return nil, err
	}
	return l, l.Ensure()
}

func (a *app) planStore() (*plan.FileStore, error) {
	l, err := a.layout()
	if err != nil {
		return nil, err
	}
	return plan.NewFileStore(l.PlansDir())
}

func (a *app) ledger() (*apply.FileLedger, error) {
	l, err := a.layout()
	if err != nil {
		return nil, err
	}
	return apply.NewFileLedger(l.AppliedDir())
}

func (a *app) locks() (*apply.LockManager, error) {
	l, err := a.layout()
	if err != nil {
		return nil, err
	}
	return apply.NewLockManager(l.LocksDir())
}

// session opens (lazily) the one device session
func (a *app) session() (*session.Manager, error) {
	if a.sess != nil {
		return a.sess, nil
	}
	if err := a.settings.Validate(); err != nil {
		return nil, err
	}

	r := a.settings.Router
	sc := a.settings.Session
	sshConfig := transport.SSHConfig{
		Host:           r.Host,
		Port:           r.Port,
		User:           r.Username,
		Password:       r.Password,
		KeyFile:        r.KeyFile,
		ConnectTimeout: sc.ConnectTimeout,
		CommandTimeout: sc.CommandTimeout,
	}
	dial := func(ctx context.Context) (transport.Driver, error) {
		return transport.DialSSH(ctx, sshConfig)
	}

	a.sess = session.New(dial, session.Options{
		IdleTimeout:  sc.IdleTimeout,
		EnableSecret: r.EnableSecret,
		ProbeWait:    sc.ProbeWait,
	})
	return a.sess, nil
}

// backupStore prepares the git working copy
func (a *app) backupStore(ctx context.Context) (*backup.Git, error) {
	if a.backups != nil {
		return a.backups, nil
	}
	b := a.settings.Backup
	workdir, err := paths.ExpandHome(b.Workdir)
	if err != nil {
		return nil, err
	}
	if workdir == "" {
		l, err := a.layout()
		if err != nil {
			return nil, err
		}
		workdir = l.BackupWorkdir()
	}
	g := backup.NewGit(backup.GitConfig{
		Workdir:      workdir,
		Folder:       b.Folder,
		RemoteURL:    b.RemoteURL,
		Branch:       b.Branch,
		HTTPUsername: b.HTTPUsername,
		HTTPToken:    b.HTTPToken,
		AuthorName:   b.AuthorName,
		AuthorEmail:  b.AuthorEmail,
		RouterHost:   a.settings.Router.Host,
		RouterName:   a.settings.Router.Name,
	})
	if err := g.EnsureRepo(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare backup repository: %w", err)
	}
	a.backups = g
	return g, nil
}

// close drops the device session, if one was opened
func (a *app) close() {
	if a.sess == nil {
		return
	}
	if err := a.sess.Shutdown(context.Background()); err != nil {
		logger.Warn("failed to close device session: %v", err)
	}
}

// deviceName identifies the router for the device lock
func (a *app) deviceName() string {
	if a.settings.Router.Name != "" && a.settings.Router.Name != "cme" {
		return a.settings.Router.Name
	}
	return a.settings.Router.Host
}
