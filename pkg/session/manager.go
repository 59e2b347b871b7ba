// Package session owns the single CLI session to the router. All access
// is serialized by one lock, blocking transport calls run on one worker
// goroutine and an idle timer drops the session when nobody uses it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zph/cmectl/pkg/iosparse"
	"github.com/zph/cmectl/pkg/logger"
	"github.com/zph/cmectl/pkg/transport"
)

// ErrClosed is returned after Shutdown
var ErrClosed = errors.New("session manager is shut down")

// State of the managed session
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateOpen    State = "open"
)

// Options tune session behaviour
type Options struct {
	// IdleTimeout closes the session after this long without use; zero
	// disables the timer.
	IdleTimeout time.Duration

	// EnableSecret, when set, is used to enter privileged exec on open
	EnableSecret string

	// ProbeWait is the default settle time for ProbeHelp
	ProbeWait time.Duration
}

// Manager serializes all use of one device session
type Manager struct {
	dial transport.DialFunc
	opts Options

	mu       sync.Mutex // held for the whole of every public operation
	lastUsed time.Time
	idle     *time.Timer

	stateMu sync.Mutex
	driver  transport.Driver
	state   State

	work     chan func()
	done     chan struct{}
	shutdown sync.Once
}

// New creates a manager; no connection is made until the first call
func New(dial transport.DialFunc, opts Options) *Manager {
	if opts.ProbeWait == 0 {
		opts.ProbeWait = 2 * time.Second
	}
	m := &Manager{
		dial:  dial,
		opts:  opts,
		state: StateClosed,
		work:  make(chan func()),
		done:  make(chan struct{}),
	}
	go m.worker()
	return m
}

func (m *Manager) worker() {
	for {
		select {
		case fn := <-m.work:
			fn()
		case <-m.done:
			return
		}
	}
}

// run hands fn to the worker and waits for it. The context only bounds
// the handoff; once started, a transport call runs to completion.
func (m *Manager) run(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.work <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// SendShow runs one exec-mode command
func (m *Manager) SendShow(ctx context.Context, command string) (transport.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv, err := m.ensureOpen(ctx)
	if err != nil {
		return transport.CommandResult{Command: command, Failed: true}, err
	}

	var res transport.CommandResult
	var cmdErr error
	if err := m.run(ctx, func() { res, cmdErr = drv.SendCommand(command) }); err != nil {
		return transport.CommandResult{Command: command, Failed: true}, err
	}
	if cmdErr != nil {
		return res, fmt.Errorf("send %q: %w", command, cmdErr)
	}

	m.touch()
	return res, nil
}

// SendConfigs runs commands inside configuration mode and returns one
// result per command issued.
func (m *Manager) SendConfigs(ctx context.Context, commands []string, stopOnFailure bool) ([]transport.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv, err := m.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	var results []transport.CommandResult
	var cmdErr error
	if err := m.run(ctx, func() { results, cmdErr = drv.SendConfigs(commands, stopOnFailure) }); err != nil {
		return nil, err
	}
	if cmdErr != nil {
		return results, fmt.Errorf("send configs: %w", cmdErr)
	}

	m.touch()
	return results, nil
}

// ProbeHelp writes text without a newline (e.g. "max-ephones ?"), waits
// for the inline help and clears the line. Any failure yields "".
func (m *Manager) ProbeHelp(ctx context.Context, text string, wait time.Duration) string {
	if wait <= 0 {
		wait = m.opts.ProbeWait
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drv, err := m.ensureOpen(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{"error": err.Error()}).Warn("ssh.probe_help_failed")
		return ""
	}

	var out string
	var probeErr error
	if err := m.run(ctx, func() { out, probeErr = drv.ProbeRaw(text, wait) }); err != nil {
		probeErr = err
	}
	if probeErr != nil {
		logger.WithFields(logger.Fields{"probe": text, "error": probeErr.Error()}).Warn("ssh.probe_help_failed")
		return ""
	}

	m.touch()
	return out
}

// ProbeConfigHelp runs a help probe inside configuration mode: it enters
// "configure terminal" and then each modePath entry, probes, and leaves
// with "end". Entering an entity sub-mode creates that entity in the
// running config if it does not exist yet. Any failure yields "".
func (m *Manager) ProbeConfigHelp(ctx context.Context, modePath []string, text string, wait time.Duration) string {
	if wait <= 0 {
		wait = m.opts.ProbeWait
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	drv, err := m.ensureOpen(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{"error": err.Error()}).Warn("ssh.probe_help_failed")
		return ""
	}

	var out string
	var probeErr error
	if err := m.run(ctx, func() { out, probeErr = probeInMode(drv, modePath, text, wait) }); err != nil {
		probeErr = err
	}
	if probeErr != nil {
		logger.WithFields(logger.Fields{"probe": text, "error": probeErr.Error()}).Warn("ssh.probe_help_failed")
		return ""
	}

	m.touch()
	return out
}

// probeInMode runs on the worker
func probeInMode(drv transport.Driver, modePath []string, text string, wait time.Duration) (string, error) {
	var out string
	var err error
	for _, cmd := range append([]string{"configure terminal"}, modePath...) {
		var res transport.CommandResult
		if res, err = drv.SendCommand(cmd); err != nil {
			break
		}
		if res.Failed || iosparse.IsError(res.Output) {
			err = fmt.Errorf("enter %q: %s", cmd, strings.TrimSpace(res.Output))
			break
		}
	}
	if err == nil {
		out, err = drv.ProbeRaw(text, wait)
	}
	if _, endErr := drv.SendCommand("end"); endErr != nil && err == nil {
		err = endErr
	}
	return out, err
}

// Close releases the session if one is open. The manager stays usable;
// the next call opens a fresh session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	return m.closeDriver(ctx)
}

// Shutdown closes the session and stops the worker
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.Close(ctx)
	m.shutdown.Do(func() { close(m.done) })
	return err
}

// IsConnected reports whether a session exists and reports itself alive.
// The liveness check runs on the worker, behind any call in flight.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv := m.current()
	if drv == nil {
		return false
	}
	alive := false
	if err := m.run(context.Background(), func() { alive = drv.IsAlive() }); err != nil {
		return false
	}
	return alive
}

// State returns the lifecycle state
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) setDriver(drv transport.Driver, state State) {
	m.stateMu.Lock()
	m.driver = drv
	m.state = state
	m.stateMu.Unlock()
}

func (m *Manager) current() transport.Driver {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.driver
}

// ensureOpen returns a live driver, replacing a dead one. Caller holds mu.
func (m *Manager) ensureOpen(ctx context.Context) (transport.Driver, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}

	if drv := m.current(); drv != nil {
		alive := false
		if err := m.run(ctx, func() { alive = drv.IsAlive() }); err != nil {
			return nil, err
		}
		if alive {
			return drv, nil
		}
		logger.Warn("ssh session is no longer alive, reconnecting")
		_ = m.closeDriver(ctx)
	}

	m.setDriver(nil, StateOpening)

	var drv transport.Driver
	var openErr error
	if err := m.run(ctx, func() { drv, openErr = m.open(ctx) }); err != nil {
		openErr = err
	}
	if openErr != nil {
		m.setDriver(nil, StateClosed)
		return nil, fmt.Errorf("failed to open device session: %w", openErr)
	}

	m.setDriver(drv, StateOpen)
	return drv, nil
}

// open runs on the worker
func (m *Manager) open(ctx context.Context) (transport.Driver, error) {
	drv, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}

	for _, cmd := range []string{"terminal length 0", "terminal width 0"} {
		if _, err := drv.SendCommand(cmd); err != nil {
			drv.Close()
			return nil, fmt.Errorf("terminal setup: %w", err)
		}
	}

	if m.opts.EnableSecret != "" {
		if err := drv.Enable(m.opts.EnableSecret); err != nil {
			logger.WithFields(logger.Fields{"error": err.Error()}).Warn("ssh.enable_failed")
		}
	}

	logger.Debug("ssh.session_ready")
	return drv, nil
}

// closeDriver tears the driver down. Caller holds mu.
func (m *Manager) closeDriver(ctx context.Context) error {
	drv := m.current()
	if drv == nil {
		return nil
	}
	m.setDriver(nil, StateClosed)

	var closeErr error
	if err := m.run(ctx, func() { closeErr = drv.Close() }); err != nil {
		closeErr = drv.Close()
	}

	logger.Info("ssh.closed")
	return closeErr
}

// touch records use and restarts the idle timer. Caller holds mu.
func (m *Manager) touch() {
	m.lastUsed = time.Now()
	if m.opts.IdleTimeout <= 0 {
		return
	}
	if m.idle != nil {
		m.idle.Stop()
	}
	m.idle = time.AfterFunc(m.opts.IdleTimeout, m.idleClose)
}

func (m *Manager) idleClose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.lastUsed)
	if m.current() == nil || elapsed < m.opts.IdleTimeout {
		return
	}
	logger.WithFields(logger.Fields{"elapsed": elapsed.Round(time.Millisecond).String()}).Info("ssh.idle_timeout")
	_ = m.closeDriver(context.Background())
}
