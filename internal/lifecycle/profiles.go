// Package lifecycle owns open trades from fill to close: it sets the initial
// stop-loss and take-profit levels, advances the trade phase and ratchets the
// trailing stop.
package lifecycle

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cryptoExecCore/internal/ports"
)

// StopMethod selects how the initial stop distance is computed.
type StopMethod string

const (
	StopATR    StopMethod = "ATR"    // Multiple of ATR
	StopFixed  StopMethod = "FIXED"  // Percentage of entry
	StopHybrid StopMethod = "HYBRID" // Wider of the two
)

// Preset profile names.
const (
	ProfilePrudent    = "PRUDENT"
	ProfileBalanced   = "BALANCED"
	ProfileAggressive = "AGGRESSIVE"
)

// Profile parameterizes the levels and phase thresholds of a trade. All
// percentages are fractions (0.01 is 1%).
type Profile struct {
	Name                  string     `yaml:"name"`
	StopMethod            StopMethod `yaml:"stop_method"`
	ATRMultiplier         float64    `yaml:"atr_multiplier"`
	StopLossPct           float64    `yaml:"stop_loss_pct"`
	MaxStopLossPct        float64    `yaml:"max_stop_loss_pct"`
	MinStopDistance       float64    `yaml:"min_stop_distance"` // Absolute price distance
	TP1RiskReward         float64    `yaml:"tp1_rr"`
	TP2RiskReward         float64    `yaml:"tp2_rr"`
	TP1ExitPct            float64    `yaml:"tp1_exit_pct"`
	ValidationPct         float64    `yaml:"validation_pct"`
	BreakevenOnValidation bool       `yaml:"breakeven_on_validation"`
	TrailingEnabled       bool       `yaml:"trailing_enabled"`
	TrailingActivationPct float64    `yaml:"trailing_activation_pct"`
	TrailingDistancePct   float64    `yaml:"trailing_distance_pct"`
}

// Presets returns the built-in profiles keyed by name.
func Presets() map[string]Profile {
	return map[string]Profile{
		ProfilePrudent: {
			Name:                  ProfilePrudent,
			StopMethod:            StopATR,
			ATRMultiplier:         2.0,
			StopLossPct:           0.015,
			MaxStopLossPct:        0.03,
			TP1RiskReward:         1.0,
			TP2RiskReward:         2.0,
			TP1ExitPct:            0.6,
			ValidationPct:         0.005,
			BreakevenOnValidation: true,
			TrailingEnabled:       true,
			TrailingActivationPct: 0.01,
			TrailingDistancePct:   0.005,
		},
		ProfileBalanced: {
			Name:                  ProfileBalanced,
			StopMethod:            StopHybrid,
			ATRMultiplier:         1.5,
			StopLossPct:           0.02,
			MaxStopLossPct:        0.05,
			TP1RiskReward:         1.5,
			TP2RiskReward:         3.0,
			TP1ExitPct:            0.5,
			ValidationPct:         0.01,
			BreakevenOnValidation: true,
			TrailingEnabled:       true,
			TrailingActivationPct: 0.015,
			TrailingDistancePct:   0.01,
		},
		ProfileAggressive: {
			Name:                  ProfileAggressive,
			StopMethod:            StopFixed,
			ATRMultiplier:         1.0,
			StopLossPct:           0.03,
			MaxStopLossPct:        0.08,
			TP1RiskReward:         2.0,
			TP2RiskReward:         4.0,
			TP1ExitPct:            0.3,
			ValidationPct:         0.015,
			BreakevenOnValidation: false,
			TrailingEnabled:       true,
			TrailingActivationPct: 0.025,
			TrailingDistancePct:   0.015,
		},
	}
}

// Validate checks the profile is internally consistent.
func (p Profile) Validate() error {
	var errs []string
	switch p.StopMethod {
	case StopATR:
		if p.ATRMultiplier <= 0 {
			errs = append(errs, "atr_multiplier must be positive")
		}
	case StopFixed:
		if p.StopLossPct <= 0 {
			errs = append(errs, "stop_loss_pct must be positive")
		}
	case StopHybrid:
		if p.ATRMultiplier <= 0 || p.StopLossPct <= 0 {
			errs = append(errs, "hybrid stop needs atr_multiplier and stop_loss_pct")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown stop_method %q", p.StopMethod))
	}
	if p.MaxStopLossPct < 0 || p.MaxStopLossPct >= 1 {
		errs = append(errs, "max_stop_loss_pct must be in [0, 1)")
	}
	if p.TP1RiskReward <= 0 || p.TP2RiskReward <= p.TP1RiskReward {
		errs = append(errs, "need 0 < tp1_rr < tp2_rr")
	}
	if p.TP1ExitPct <= 0 || p.TP1ExitPct > 1 {
		errs = append(errs, "tp1_exit_pct must be in (0, 1]")
	}
	if p.ValidationPct <= 0 {
		errs = append(errs, "validation_pct must be positive")
	}
	if p.TrailingEnabled {
		if p.TrailingDistancePct <= 0 || p.TrailingDistancePct >= 1 {
			errs = append(errs, "trailing_distance_pct must be in (0, 1)")
		}
		if p.TrailingActivationPct < p.ValidationPct {
			errs = append(errs, "trailing_activation_pct must not be below validation_pct")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("profile %s: %s: %w", p.Name, strings.Join(errs, "; "), ports.ErrConfigurationError)
	}
	return nil
}

// Overrides replaces individual profile fields. Nil fields keep the profile
// default.
type Overrides struct {
	StopMethod            *StopMethod `yaml:"stop_method"`
	ATRMultiplier         *float64    `yaml:"atr_multiplier"`
	StopLossPct           *float64    `yaml:"stop_loss_pct"`
	MaxStopLossPct        *float64    `yaml:"max_stop_loss_pct"`
	MinStopDistance       *float64    `yaml:"min_stop_distance"`
	TP1RiskReward         *float64    `yaml:"tp1_rr"`
	TP2RiskReward         *float64    `yaml:"tp2_rr"`
	TP1ExitPct            *float64    `yaml:"tp1_exit_pct"`
	ValidationPct         *float64    `yaml:"validation_pct"`
	BreakevenOnValidation *bool       `yaml:"breakeven_on_validation"`
	TrailingEnabled       *bool       `yaml:"trailing_enabled"`
	TrailingActivationPct *float64    `yaml:"trailing_activation_pct"`
	TrailingDistancePct   *float64    `yaml:"trailing_distance_pct"`
}

// Apply returns p with every set override field replaced.
func (p Profile) Apply(o Overrides) Profile {
	if o.StopMethod != nil {
		p.StopMethod = StopMethod(strings.ToUpper(string(*o.StopMethod)))
	}
	setFloat(&p.ATRMultiplier, o.ATRMultiplier)
	setFloat(&p.StopLossPct, o.StopLossPct)
	setFloat(&p.MaxStopLossPct, o.MaxStopLossPct)
	setFloat(&p.MinStopDistance, o.MinStopDistance)
	setFloat(&p.TP1RiskReward, o.TP1RiskReward)
	setFloat(&p.TP2RiskReward, o.TP2RiskReward)
	setFloat(&p.TP1ExitPct, o.TP1ExitPct)
	setFloat(&p.ValidationPct, o.ValidationPct)
	setFloat(&p.TrailingActivationPct, o.TrailingActivationPct)
	setFloat(&p.TrailingDistancePct, o.TrailingDistancePct)
	if o.BreakevenOnValidation != nil {
		p.BreakevenOnValidation = *o.BreakevenOnValidation
	}
	if o.TrailingEnabled != nil {
		p.TrailingEnabled = *o.TrailingEnabled
	}
	return p
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// UserSettings selects a profile for one user and overrides some of its fields.
type UserSettings struct {
	Profile   string    `yaml:"profile"`
	Overrides Overrides `yaml:"overrides"`
}

// ProfilesFile is the YAML layout of the optional overrides file.
type ProfilesFile struct {
	Default  string                  `yaml:"default"`
	Profiles map[string]Overrides    `yaml:"profiles"` // Adjusts presets globally
	Users    map[string]UserSettings `yaml:"users"`    // Keyed by user id
}

// Catalog resolves the effective profile of each user.
type Catalog struct {
	defaultName string
	profiles    map[string]Profile
	users       map[int64]Profile
}

// NewCatalog builds a catalog from the presets adjusted by file. file may be
// nil. Every resolved profile is validated.
func NewCatalog(defaultName string, file *ProfilesFile) (*Catalog, error) {
	profiles := Presets()
	users := make(map[int64]Profile)
	if file != nil {
		if file.Default != "" {
			defaultName = file.Default
		}
		for name, o := range file.Profiles {
			key := strings.ToUpper(name)
			base, ok := profiles[key]
			if !ok {
				base = profiles[ProfileBalanced]
				base.Name = key
			}
			profiles[key] = base.Apply(o)
		}
	}
	if defaultName == "" {
		defaultName = ProfileBalanced
	}
	defaultName = strings.ToUpper(defaultName)
	if _, ok := profiles[defaultName]; !ok {
		return nil, fmt.Errorf("unknown default profile %q: %w", defaultName, ports.ErrConfigurationError)
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if file != nil {
		for key, s := range file.Users {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user id %q in profiles file: %w", key, ports.ErrConfigurationError)
			}
			name := strings.ToUpper(s.Profile)
			if name == "" {
				name = defaultName
			}
			base, ok := profiles[name]
			if !ok {
				return nil, fmt.Errorf("user %d selects unknown profile %q: %w", id, s.Profile, ports.ErrConfigurationError)
			}
			p := base.Apply(s.Overrides)
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("user %d: %w", id, err)
			}
			users[id] = p
		}
	}
	return &Catalog{defaultName: defaultName, profiles: profiles, users: users}, nil
}

// LoadCatalog reads the YAML profiles file at path. An empty path yields the
// presets alone.
func LoadCatalog(path, defaultName string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(defaultName, nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file %s: %w", path, err)
	}
	var file ProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles file %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	return NewCatalog(defaultName, &file)
}

// For returns the effective profile of userID.
func (c *Catalog) For(userID int64) Profile {
	if p, ok := c.users[userID]; ok {
		return p
	}
	return c.profiles[c.defaultName]
}

// Named returns a profile by name.
func (c *Catalog) Named(name string) (Profile, bool) {
	p, ok := c.profiles[strings.ToUpper(name)]
	return p, ok
}
