package apply_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zph/cmectl/pkg/apply"
	"github.com/zph/cmectl/pkg/backup/backuptest"
	"github.com/zph/cmectl/pkg/filter"
	"github.com/zph/cmectl/pkg/plan"
	"github.com/zph/cmectl/pkg/session"
	"github.com/zph/cmectl/pkg/transport/transporttest"
)

const runningConfig = "hostname a14-con\n!\ntelephony-service\n max-ephones 48\n!\nend"

type harness struct {
	dialer  *transporttest.Dialer
	backups *backuptest.Store
	ledger  *apply.MemoryLedger
	applier *apply.Applier
}

func newHarness(t *testing.T, setup func(*transporttest.Driver)) *harness {
	t.Helper()
	dialer := &transporttest.Dialer{Setup: func(d *transporttest.Driver) {
		d.Responses[apply.ShowRunningConfig] = runningConfig
		d.Responses["show ephone 1"] = "ephone-1[0] Mac:0011.2233.4455 TCP socket:[1] activeLine:0 REGISTERED"
		if setup != nil {
			setup(d)
		}
	}}
	mgr := session.New(dialer.Dial, session.Options{})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	h := &harness{
		dialer:  dialer,
		backups: backuptest.New(),
		ledger:  apply.NewMemoryLedger(),
	}
	h.applier = apply.NewApplier(mgr, h.backups, filter.New(false), apply.Options{Ledger: h.ledger})
	return h
}

func speedDialPlan() *plan.ConfigPlan {
	return plan.New(plan.Request{
		Description:      "Set speed-dial 3 on ephone 1",
		ModePath:         []string{"configure terminal", "ephone 1"},
		Commands:         []string{"speed-dial 3 5555 label Helpdesk"},
		Verification:     []string{"show ephone 1"},
		AffectedEntities: []string{"ephone 1"},
	})
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestApply_Success(t *testing.T) {
	h := newHarness(t, nil)
	p := speedDialPlan()

	res, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.Len(t, res.ExecutedCommands, 2)
	assert.Equal(t, "ephone 1", res.ExecutedCommands[0].Command)
	assert.Equal(t, "speed-dial 3 5555 label Helpdesk", res.ExecutedCommands[1].Command)
	assert.Empty(t, res.FailedCommands())

	require.Len(t, res.VerificationResults, 1)
	assert.True(t, res.VerificationResults[0].Success)
	assert.Contains(t, res.VerificationResults[0].Output, "REGISTERED")

	assert.True(t, res.StartupSaved)
	assert.NotEmpty(t, res.PreBackupSHA)
	assert.NotEmpty(t, res.PostBackupSHA)
	assert.False(t, res.RollbackAttempted)
	assert.Nil(t, res.RollbackSuccess, "unset when no rollback ran")
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"rollback_success":null`)

	assert.Equal(t, []string{"pre-apply-" + p.ShortID(), "post-apply-" + p.ShortID()}, h.backups.Reasons())
	saves := h.backups.Saves()
	assert.Equal(t, runningConfig, saves[0].Config)
	require.NotNil(t, saves[0].Summary)
	assert.Equal(t, p.PlanID, saves[0].Summary.PlanID)

	assert.Equal(t, []string{
		"terminal length 0", "terminal width 0",
		"show running-config",
		"ephone 1", "speed-dial 3 5555 label Helpdesk",
		"show ephone 1",
		"write memory",
		"show running-config",
	}, h.dialer.Last().Sent())

	for _, name := range []string{apply.PhasePreBackup, apply.PhaseApply, apply.PhaseVerify, apply.PhasePersist, apply.PhasePostBackup} {
		rec, ok := res.Phase(name)
		require.True(t, ok, name)
		assert.Equal(t, apply.PhaseOK, rec.Status, name)
	}
	rec, _ := res.Phase(apply.PhaseRollback)
	assert.Equal(t, apply.PhaseSkipped, rec.Status)
}

func TestApply_FailureTriggersScopedRollback(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.FailConfigs["speed-dial 3 5555 label Helpdesk"] = true
		d.ConfigOutputs["speed-dial 3 5555 label Helpdesk"] = "% Invalid input detected at '^' marker."
	})
	p := speedDialPlan()

	res, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.ExecutedCommands, 2)
	assert.True(t, res.ExecutedCommands[0].Success)
	assert.False(t, res.ExecutedCommands[1].Success)

	assert.True(t, res.RollbackAttempted)
	require.NotNil(t, res.RollbackSuccess)
	assert.True(t, *res.RollbackSuccess)
	assert.Contains(t, res.RollbackDetails, "Scoped rollback")
	assert.False(t, res.StartupSaved)

	drv := h.dialer.Last()
	assert.Equal(t, [][]string{
		{"ephone 1", "speed-dial 3 5555 label Helpdesk"},
		{"ephone 1", "default ephone 1"},
	}, drv.Configs())
	assert.Equal(t, -1, indexOf(drv.Sent(), "write memory"))

	assert.Len(t, h.backups.Saves(), 2, "post-backup runs even after failure")
	assert.Equal(t, []string{res.PreBackupSHA}, h.backups.Reads())

	// verification still ran
	assert.Len(t, res.VerificationResults, 1)
}

func TestApply_SecondOfTwoCommandsFails(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.FailConfigs["url idle time 99999"] = true
	})
	p := plan.New(plan.Request{
		Description: "two commands",
		ModePath:    []string{"configure terminal"},
		Commands:    []string{"telephony-service", "url idle time 99999"},
	})

	res, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.ExecutedCommands, 2)
	assert.True(t, res.ExecutedCommands[0].Success)
	assert.False(t, res.ExecutedCommands[1].Success)
	assert.True(t, res.RollbackAttempted)
	require.NotNil(t, res.RollbackSuccess)
	assert.False(t, *res.RollbackSuccess, "no section to default")
	assert.Contains(t, res.RollbackDetails, "Rollback failed")

	// only the apply itself was sent in config mode
	assert.Len(t, h.dialer.Last().Configs(), 1)
}

func TestApply_SemanticErrorWithoutTransportFailure(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.ConfigOutputs["speed-dial 3 5555 label Helpdesk"] = "% Incomplete command."
	})

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.ExecutedCommands[1].Success)
	assert.True(t, res.RollbackAttempted)
}

func TestApply_RejectedCommandsNeverReachTheDevice(t *testing.T) {
	tests := []struct {
		name string
		req  plan.Request
		want string
	}{
		{"denied command", plan.Request{
			Description: "x",
			ModePath:    []string{"configure terminal", "ephone 1"},
			Commands:    []string{"speed-dial 1 100", "reload"},
		}, "reload"},
		{"not allow-listed", plan.Request{
			Description: "x",
			ModePath:    []string{"configure terminal"},
			Commands:    []string{"hostname evil"},
		}, "hostname evil"},
		{"denied mode path", plan.Request{
			Description: "x",
			ModePath:    []string{"configure terminal", "username admin privilege 15"},
			Commands:    []string{"max-dn 96"},
		}, "username"},
		{"denied verification", plan.Request{
			Description:  "x",
			ModePath:     []string{"configure terminal", "telephony-service"},
			Commands:     []string{"max-dn 96"},
			Verification: []string{"reload in 5"},
		}, "reload in 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)

			res, err := h.applier.Apply(context.Background(), plan.New(tt.req))
			require.NoError(t, err)

			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "rejected by safety filter")
			assert.Contains(t, res.Error, tt.want)
			assert.Empty(t, res.ExecutedCommands)
			assert.Equal(t, 0, h.dialer.Dials(), "no session was opened")
			assert.Empty(t, h.backups.Saves())
		})
	}
}

func TestApply_PreBackupFailureAborts(t *testing.T) {
	h := newHarness(t, nil)
	p := speedDialPlan()
	h.backups.SaveErrFor["pre-apply-"+p.ShortID()] = errors.New("git push rejected")

	res, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.ExecutedCommands)
	assert.True(t, strings.HasPrefix(res.RollbackDetails, "Pre-backup failed: "))
	assert.Contains(t, res.RollbackDetails, "git push rejected")
	assert.False(t, res.RollbackAttempted)
	assert.Empty(t, h.dialer.Last().Configs(), "no configuration command was sent")

	for _, name := range []string{apply.PhaseApply, apply.PhaseVerify, apply.PhasePersist, apply.PhasePostBackup, apply.PhaseRollback} {
		rec, ok := res.Phase(name)
		require.True(t, ok)
		assert.Equal(t, apply.PhaseSkipped, rec.Status)
	}

	// nothing changed, so the plan may be applied again
	delete(h.backups.SaveErrFor, "pre-apply-"+p.ShortID())
	res, err = h.applier.Apply(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestApply_PreBackupFetchFailureAborts(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.SendErr[apply.ShowRunningConfig] = errors.New("read timeout")
	})

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.RollbackDetails, "read timeout")
	assert.Empty(t, h.backups.Saves())
	assert.Empty(t, h.dialer.Last().Configs())
}

func TestApply_ExactlyOnePreAndOnePostBackup(t *testing.T) {
	for _, fail := range []bool{false, true} {
		h := newHarness(t, func(d *transporttest.Driver) {
			d.FailConfigs["speed-dial 3 5555 label Helpdesk"] = fail
		})
		p := speedDialPlan()

		_, err := h.applier.Apply(context.Background(), p)
		require.NoError(t, err)

		assert.Equal(t, []string{"pre-apply-" + p.ShortID(), "post-apply-" + p.ShortID()}, h.backups.Reasons())

		sent := h.dialer.Last().Sent()
		first := indexOf(sent, apply.ShowRunningConfig)
		assert.Less(t, first, indexOf(sent, "ephone 1"), "pre-backup precedes configuration")
	}
}

func TestApply_PostBackupFailureIsOnlyLogged(t *testing.T) {
	h := newHarness(t, nil)
	p := speedDialPlan()
	h.backups.SaveErrFor["post-apply-"+p.ShortID()] = errors.New("disk full")

	res, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.PostBackupSHA)
	rec, _ := res.Phase(apply.PhasePostBackup)
	assert.Equal(t, apply.PhaseFailed, rec.Status)
	assert.Contains(t, rec.Detail, "disk full")
}

func TestApply_WriteMemoryFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.SendErr[apply.WriteMemory] = errors.New("channel closed")
	})

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.StartupSaved)
	rec, _ := res.Phase(apply.PhasePersist)
	assert.Equal(t, apply.PhaseFailed, rec.Status)
}

func TestApply_VerificationFailuresAreRecorded(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.SendErr["show ephone 1"] = errors.New("timeout waiting for prompt")
	})

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.True(t, res.Success, "verification does not decide success")
	require.Len(t, res.VerificationResults, 1)
	assert.False(t, res.VerificationResults[0].Success)
	assert.Contains(t, res.VerificationResults[0].Output, "timeout waiting for prompt")
}

func TestApply_TransportErrorDuringApply(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.ConfigErr = errors.New("connection reset")
	})

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.ExecutedCommands, 1)
	assert.Equal(t, "(exception)", res.ExecutedCommands[0].Command)
	assert.Contains(t, res.ExecutedCommands[0].Output, "connection reset")
	assert.True(t, res.RollbackAttempted)
	require.NotNil(t, res.RollbackSuccess)
	assert.False(t, *res.RollbackSuccess)
}

func TestApply_RollbackReadFailure(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.FailConfigs["speed-dial 3 5555 label Helpdesk"] = true
	})
	h.backups.ReadErr = errors.New("ref not found")

	res, err := h.applier.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.True(t, res.RollbackAttempted)
	require.NotNil(t, res.RollbackSuccess)
	assert.False(t, *res.RollbackSuccess)
	assert.Equal(t, "Rollback failed: ref not found", res.RollbackDetails)
	assert.Len(t, h.dialer.Last().Configs(), 1, "no default command without a readable backup")
}

func TestApply_PlansAreSingleUse(t *testing.T) {
	h := newHarness(t, nil)
	p := speedDialPlan()

	_, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)

	res, err := h.applier.Apply(context.Background(), p)
	assert.ErrorIs(t, err, apply.ErrAlreadyApplied)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already applied")
	assert.Len(t, h.backups.Saves(), 2, "second apply touched nothing")

	entry, err := h.ledger.Get(p.PlanID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, apply.LedgerDone, entry.State)
	assert.True(t, entry.Result.Success)
}

func TestApply_FailedPlansAreAlsoSingleUse(t *testing.T) {
	h := newHarness(t, func(d *transporttest.Driver) {
		d.FailConfigs["speed-dial 3 5555 label Helpdesk"] = true
	})
	p := speedDialPlan()

	_, err := h.applier.Apply(context.Background(), p)
	require.NoError(t, err)
	_, err = h.applier.Apply(context.Background(), p)
	assert.ErrorIs(t, err, apply.ErrAlreadyApplied)
}

func TestApply_DeviceLocked(t *testing.T) {
	h := newHarness(t, nil)
	locks, err := apply.NewLockManager(t.TempDir())
	require.NoError(t, err)

	mgr := session.New(h.dialer.Dial, session.Options{})
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	a := apply.NewApplier(mgr, h.backups, filter.New(false), apply.Options{Locks: locks, Device: "a14-con"})

	_, err = locks.Acquire("a14-con", "other-plan", 0)
	require.NoError(t, err)

	res, err := a.Apply(context.Background(), speedDialPlan())
	assert.ErrorIs(t, err, apply.ErrLocked)
	assert.Contains(t, res.Error, "locked")
	assert.Equal(t, 0, h.dialer.Dials())

	require.NoError(t, locks.ForceUnlock("a14-con"))
	res, err = a.Apply(context.Background(), speedDialPlan())
	require.NoError(t, err)
	assert.True(t, res.Success)

	locked, err := locks.IsLocked("a14-con")
	require.NoError(t, err)
	assert.False(t, locked, "lock released after apply")
}

func TestApply_NilPlan(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.applier.Apply(context.Background(), nil)
	assert.ErrorIs(t, err, plan.ErrInvalidParams)
}
