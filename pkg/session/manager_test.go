package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zph/cmectl/pkg/session"
	"github.com/zph/cmectl/pkg/transport"
	"github.com/zph/cmectl/pkg/transport/transporttest"
)

func newManager(t *testing.T, opts session.Options, setup func(*transporttest.Driver)) (*session.Manager, *transporttest.Dialer) {
	t.Helper()
	dialer := &transporttest.Dialer{Setup: setup}
	m := session.New(dialer.Dial, opts)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, dialer
}

func TestSendShow_OpensOnceAndReuses(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{}, func(d *transporttest.Driver) {
		d.Responses["show clock"] = "*10:00:00.000 UTC"
	})

	assert.Equal(t, session.StateClosed, m.State())
	assert.False(t, m.IsConnected())

	res, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, "*10:00:00.000 UTC", res.Output)
	assert.False(t, res.Failed)

	_, err = m.SendShow(ctx, "show clock")
	require.NoError(t, err)

	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, session.StateOpen, m.State())
	assert.True(t, m.IsConnected())
	assert.Equal(t,
		[]string{"terminal length 0", "terminal width 0", "show clock", "show clock"},
		dialer.Last().Shows())
}

func TestOpen_EnableSecret(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{EnableSecret: "s3cret"}, nil)

	_, err := m.SendShow(ctx, "show version")
	require.NoError(t, err)
	assert.Equal(t, []string{"s3cret"}, dialer.Last().Enables())
}

func TestOpen_EnableFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, session.Options{EnableSecret: "wrong"}, func(d *transporttest.Driver) {
		d.EnableErr = errors.New("secret rejected")
		d.Responses["show version"] = "Cisco IOS Software"
	})

	res, err := m.SendShow(ctx, "show version")
	require.NoError(t, err)
	assert.Equal(t, "Cisco IOS Software", res.Output)
}

func TestOpen_DialFailurePropagates(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{}, nil)
	dialer.Err = errors.New("connection refused")

	_, err := m.SendShow(ctx, "show clock")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, session.StateClosed, m.State())

	_, err = m.SendConfigs(ctx, []string{"ephone 1"}, true)
	assert.Error(t, err)

	// No automatic retry: the next call dials again on its own.
	dialer.Err = nil
	_, err = m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.Dials())
}

func TestDeadSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{}, nil)

	_, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	first := dialer.Last()

	first.Kill()
	assert.False(t, m.IsConnected())

	_, err = m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.Dials())
	assert.True(t, first.Closed())
	assert.NotSame(t, first, dialer.Last())
}

func TestIdleTimeoutReopensTransparently(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{IdleTimeout: 50 * time.Millisecond}, nil)

	_, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	first := dialer.Last()

	assert.Eventually(t, first.Closed, time.Second, 10*time.Millisecond)
	assert.Equal(t, session.StateClosed, m.State())
	assert.False(t, m.IsConnected())

	_, err = m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.Dials())
}

func TestIdleTimerResetByUse(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{IdleTimeout: 150 * time.Millisecond}, nil)

	for i := 0; i < 5; i++ {
		_, err := m.SendShow(ctx, "show clock")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, 1, dialer.Dials())
	assert.False(t, dialer.Last().Closed())
}

func TestSendConfigs(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{}, func(d *transporttest.Driver) {
		d.FailConfigs["speed-dial 3 x"] = true
	})

	cmds := []string{"ephone 1", "speed-dial 3 x", "speed-dial 4 4004"}

	results, err := m.SendConfigs(ctx, cmds, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[1].Failed)

	results, err = m.SendConfigs(ctx, cmds, false)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, [][]string{cmds[:2], cmds}, dialer.Last().Configs())
}

func TestProbeHelp(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{ProbeWait: time.Millisecond}, func(d *transporttest.Driver) {
		d.ProbeResponses["max-ephones ?"] = "  <1-240>  Maximum number of ephones supported"
		d.DefaultProbe = "  <cr>"
	})

	assert.Contains(t, m.ProbeHelp(ctx, "max-ephones ?", 0), "<1-240>")
	assert.Equal(t, "  <cr>", m.ProbeHelp(ctx, "url services x ?", 0))
	assert.Equal(t, []string{"max-ephones ?", "url services x ?"}, dialer.Last().Probes())
}

func TestProbeHelp_ErrorsYieldEmpty(t *testing.T) {
	ctx := context.Background()

	m, _ := newManager(t, session.Options{}, func(d *transporttest.Driver) {
		d.ProbeErr = errors.New("channel closed")
	})
	assert.Equal(t, "", m.ProbeHelp(ctx, "max-ephones ?", time.Millisecond))

	m2, dialer := newManager(t, session.Options{}, nil)
	dialer.Err = errors.New("no route to host")
	assert.Equal(t, "", m2.ProbeHelp(ctx, "max-ephones ?", time.Millisecond))
}

func TestProbeConfigHelp_EntersModePath(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{ProbeWait: time.Millisecond}, func(d *transporttest.Driver) {
		d.ProbeResponses["speed-dial 3 5555 label Helpdesk ?"] = "  <cr>"
	})

	out := m.ProbeConfigHelp(ctx, []string{"ephone 1"}, "speed-dial 3 5555 label Helpdesk ?", 0)
	assert.Equal(t, "  <cr>", out)
	assert.Equal(t, []string{
		"terminal length 0", "terminal width 0",
		"configure terminal", "ephone 1", "end",
	}, dialer.Last().Sent())
	assert.Equal(t, []string{"speed-dial 3 5555 label Helpdesk ?"}, dialer.Last().Probes())
}

func TestProbeConfigHelp_ModeEntryRejected(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{ProbeWait: time.Millisecond}, func(d *transporttest.Driver) {
		d.Responses["ephone 999"] = "% Invalid input detected at '^' marker."
		d.DefaultProbe = "  <cr>"
	})

	assert.Equal(t, "", m.ProbeConfigHelp(ctx, []string{"ephone 999"}, "type 7965 ?", 0))
	assert.Empty(t, dialer.Last().Probes())
	sent := dialer.Last().Sent()
	assert.Equal(t, "end", sent[len(sent)-1], "configuration mode is always left")
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	m, dialer := newManager(t, session.Options{}, nil)

	require.NoError(t, m.Close(ctx), "close without a session")

	_, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))
	assert.True(t, dialer.Last().Closed())
	assert.False(t, m.IsConnected())

	_, err = m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, 2, dialer.Dials())
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, session.Options{}, nil)

	require.NoError(t, m.Shutdown(ctx))
	require.NoError(t, m.Shutdown(ctx), "idempotent")

	_, err := m.SendShow(ctx, "show clock")
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestCancelledContext(t *testing.T) {
	m, dialer := newManager(t, session.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SendShow(ctx, "show clock")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, dialer.Dials())
}

// overlapDriver flags any two calls that are in flight at once
type overlapDriver struct {
	*transporttest.Driver
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (d *overlapDriver) SendCommand(command string) (transport.CommandResult, error) {
	if d.inFlight.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	return d.Driver.SendCommand(command)
}

func (d *overlapDriver) IsAlive() bool {
	if d.inFlight.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	return d.Driver.IsAlive()
}

func TestIsConnectedIsSerializedWithCommands(t *testing.T) {
	ctx := context.Background()
	drv := &overlapDriver{Driver: transporttest.New()}
	m := session.New(func(context.Context) (transport.Driver, error) { return drv, nil }, session.Options{})
	t.Cleanup(func() { m.Shutdown(ctx) })

	_, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.SendShow(ctx, "show clock")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.True(t, m.IsConnected())
		}()
	}
	wg.Wait()

	assert.False(t, drv.overlap.Load())
}

func TestIsConnectedAfterShutdown(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, session.Options{}, nil)

	_, err := m.SendShow(ctx, "show clock")
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(ctx))
	assert.False(t, m.IsConnected())
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	ctx := context.Background()
	drv := &overlapDriver{Driver: transporttest.New()}
	m := session.New(func(context.Context) (transport.Driver, error) { return drv, nil }, session.Options{})
	t.Cleanup(func() { m.Shutdown(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.SendShow(ctx, "show clock")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, drv.overlap.Load())
	assert.Len(t, drv.Shows(), 22, "terminal setup plus 20 commands")
}
