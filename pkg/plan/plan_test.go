package plan_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zph/cmectl/pkg/plan"
)

func TestResolveIntent_SetSpeedDial(t *testing.T) {
	req, err := plan.ResolveIntent(plan.IntentSetSpeedDial, plan.Params{
		"ephone_id": "1",
		"position":  "3",
		"label":     "Helpdesk",
		"number":    "5555",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"configure terminal", "ephone 1"}, req.ModePath)
	assert.Equal(t, []string{"speed-dial 3 5555 label Helpdesk"}, req.Commands)
	assert.Equal(t, []string{"show ephone 1"}, req.Verification)
	assert.Equal(t, []string{"ephone 1"}, req.AffectedEntities)
	assert.Equal(t, plan.RiskLow, req.RiskLevel)
	assert.Equal(t, "Set speed-dial 3 on ephone 1", req.Description)
}

func TestResolveIntent_Catalogue(t *testing.T) {
	tests := []struct {
		intent   plan.Intent
		params   plan.Params
		commands []string
		verify   string
		entity   string
	}{
		{plan.IntentSetSpeedDial, plan.Params{"ephone_id": "4", "position": "1", "number": "2001"},
			[]string{"speed-dial 1 2001"}, "show ephone 4", "ephone 4"},
		{plan.IntentDeleteSpeedDial, plan.Params{"ephone_id": "4", "position": "1"},
			[]string{"no speed-dial 1"}, "show ephone 4", "ephone 4"},
		{plan.IntentSetURLServices, plan.Params{"url": "http://10.0.0.1/services.xml"},
			[]string{"url services http://10.0.0.1/services.xml"}, "show telephony-service", "telephony-service"},
		{plan.IntentSetURLDirectories, plan.Params{"url": "http://10.0.0.1/dir.xml"},
			[]string{"url directories http://10.0.0.1/dir.xml"}, "show telephony-service", "telephony-service"},
		{plan.IntentSetURLIdle, plan.Params{"url": "http://10.0.0.1/idle.xml", "idle_timeout": "60"},
			[]string{"url idle http://10.0.0.1/idle.xml", "url idle time 60"}, "show telephony-service", "telephony-service"},
		{plan.IntentSetURLIdle, plan.Params{"url": "http://10.0.0.1/idle.xml", "idle_timeout": "0"},
			[]string{"url idle http://10.0.0.1/idle.xml"}, "show telephony-service", "telephony-service"},
		{plan.IntentSetURLServices, plan.Params{"url": "http://x", "idle_timeout": "60"},
			[]string{"url services http://x"}, "show telephony-service", "telephony-service"},
		{plan.IntentClearURLServices, nil, []string{"no url services"}, "show telephony-service", "telephony-service"},
		{plan.IntentClearURLDirectories, nil, []string{"no url directories"}, "show telephony-service", "telephony-service"},
		{plan.IntentClearURLIdle, nil, []string{"no url idle"}, "show telephony-service", "telephony-service"},
	}

	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			req, err := plan.ResolveIntent(tt.intent, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.commands, req.Commands)
			assert.Equal(t, []string{tt.verify}, req.Verification)
			assert.Equal(t, []string{tt.entity}, req.AffectedEntities)
			assert.Equal(t, "configure terminal", req.ModePath[0])
			assert.NoError(t, req.Validate())
		})
	}
}

func TestResolveIntent_Errors(t *testing.T) {
	_, err := plan.ResolveIntent("reboot_router", nil)
	assert.ErrorIs(t, err, plan.ErrUnknownIntent)

	tests := []struct {
		name   string
		intent plan.Intent
		params plan.Params
	}{
		{"position too high", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "1", "position": "100", "number": "1"}},
		{"position zero", plan.IntentDeleteSpeedDial, plan.Params{"ephone_id": "1", "position": "0"}},
		{"ephone zero", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "0", "position": "1", "number": "1"}},
		{"ephone not a number", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "one", "position": "1", "number": "1"}},
		{"missing number", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "1", "position": "1"}},
		{"number with spaces", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "1", "position": "1", "number": "1 2"}},
		{"multi-line label", plan.IntentSetSpeedDial, plan.Params{"ephone_id": "1", "position": "1", "number": "1", "label": "a\nend"}},
		{"missing url", plan.IntentSetURLServices, plan.Params{}},
		{"negative idle timeout", plan.IntentSetURLIdle, plan.Params{"url": "http://x", "idle_timeout": "-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plan.ResolveIntent(tt.intent, tt.params)
			assert.ErrorIs(t, err, plan.ErrInvalidParams)
		})
	}
}

func TestCreateFromIntent_StoresPlan(t *testing.T) {
	store := plan.NewMemoryStore()
	p, err := plan.CreateFromIntent(store, plan.IntentClearURLIdle, nil)
	require.NoError(t, err)

	got, err := store.Get(p.PlanID)
	require.NoError(t, err)
	assert.Equal(t, []string{"no url idle"}, got.Commands)
}

func TestIntents_Sorted(t *testing.T) {
	names := plan.Intents()
	assert.Len(t, names, 8)
	assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool { return names[i] < names[j] }))
}

func TestParseParams(t *testing.T) {
	params, err := plan.ParseParams([]string{"ephone_id=1", " label = Front Desk "})
	require.NoError(t, err)
	assert.Equal(t, plan.Params{"ephone_id": "1", "label": "Front Desk"}, params)

	_, err = plan.ParseParams([]string{"noequals"})
	assert.ErrorIs(t, err, plan.ErrInvalidParams)
	_, err = plan.ParseParams([]string{"=value"})
	assert.ErrorIs(t, err, plan.ErrInvalidParams)
}

func TestConfigPlan_Helpers(t *testing.T) {
	p := plan.New(plan.Request{
		Description: "dial-peer",
		ModePath:    []string{"Configure Terminal", "dial-peer voice 10 voip"},
		Commands:    []string{"destination-pattern 9T", "session target ipv4:10.0.0.2"},
	})

	assert.Len(t, p.ShortID(), 8)
	assert.Equal(t, p.PlanID[:8], p.ShortID())
	assert.Equal(t, []string{"dial-peer voice 10 voip"}, p.ScopedModePath())
	assert.Equal(t,
		[]string{"dial-peer voice 10 voip", "destination-pattern 9T", "session target ipv4:10.0.0.2"},
		p.FullCommands())
	assert.NotNil(t, p.Verification, "nil slices normalise to empty")

	s := p.Summary()
	assert.Equal(t, p.PlanID, s.PlanID)
	assert.Equal(t, p.Commands, s.Commands)
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`description: Raise ephone limit
mode_path:
  - configure terminal
  - telephony-service
commands:
  - max-ephones 48
verification:
  - show telephony-service
risk_level: medium
`), 0o644))

	req, err := plan.LoadRequest(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"max-ephones 48"}, req.Commands)
	assert.Equal(t, plan.RiskMedium, req.RiskLevel)

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"description":"d","commands":["max-dn 96"]}`), 0o644))
	req, err = plan.LoadRequest(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"max-dn 96"}, req.Commands)

	_, err = plan.LoadRequest(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
