package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoExecCore/internal/ports"
)

func TestPresets_Valid(t *testing.T) {
	for name, p := range Presets() {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, p.Validate())
			assert.Equal(t, name, p.Name)
		})
	}
}

func TestProfile_Apply(t *testing.T) {
	base := Presets()[ProfileBalanced]
	mult := 2.5
	off := false
	method := StopMethod("atr")

	p := base.Apply(Overrides{ATRMultiplier: &mult, TrailingEnabled: &off, StopMethod: &method})
	assert.Equal(t, 2.5, p.ATRMultiplier)
	assert.False(t, p.TrailingEnabled)
	assert.Equal(t, StopATR, p.StopMethod)
	// Unset fields keep the preset value.
	assert.Equal(t, base.TP1RiskReward, p.TP1RiskReward)
	assert.Equal(t, base.ValidationPct, p.ValidationPct)
	// The preset itself is untouched.
	assert.True(t, base.TrailingEnabled)
}

func TestProfile_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"unknown method", func(p *Profile) { p.StopMethod = "MAGIC" }},
		{"tp2 below tp1", func(p *Profile) { p.TP2RiskReward = p.TP1RiskReward }},
		{"exit fraction above one", func(p *Profile) { p.TP1ExitPct = 1.5 }},
		{"trailing before validation", func(p *Profile) { p.TrailingActivationPct = p.ValidationPct / 2 }},
		{"zero trailing distance", func(p *Profile) { p.TrailingDistancePct = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Presets()[ProfileBalanced]
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ports.ErrConfigurationError)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	content := `
default: prudent
profiles:
  balanced:
    atr_multiplier: 1.8
users:
  "7":
    profile: AGGRESSIVE
    overrides:
      tp1_exit_pct: 0.5
      breakeven_on_validation: true
  "8":
    overrides:
      trailing_enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadCatalog(path, ProfileBalanced)
	require.NoError(t, err)

	assert.Equal(t, ProfilePrudent, c.For(1).Name, "file default wins")

	balanced, ok := c.Named("balanced")
	require.True(t, ok)
	assert.Equal(t, 1.8, balanced.ATRMultiplier)

	u7 := c.For(7)
	assert.Equal(t, ProfileAggressive, u7.Name)
	assert.Equal(t, 0.5, u7.TP1ExitPct)
	assert.True(t, u7.BreakevenOnValidation)
	assert.Equal(t, 4.0, u7.TP2RiskReward)

	u8 := c.For(8)
	assert.Equal(t, ProfilePrudent, u8.Name)
	assert.False(t, u8.TrailingEnabled)
}

func TestLoadCatalog_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	_, err := LoadCatalog(write("bad-user.yaml", "users:\n  abc:\n    profile: PRUDENT\n"), "")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = LoadCatalog(write("bad-profile.yaml", "users:\n  \"1\":\n    profile: YOLO\n"), "")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = LoadCatalog(write("invalid.yaml", "profiles:\n  balanced:\n    tp2_rr: 0.5\n"), "")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = LoadCatalog("", "UNKNOWN")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	c, err := LoadCatalog("", "")
	require.NoError(t, err)
	assert.Equal(t, ProfileBalanced, c.For(99).Name)
}
