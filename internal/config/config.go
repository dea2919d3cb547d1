package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models tandem.yml. All admission and load-index tunables live here
// so behavior can be adjusted without recompiling; the defaults reproduce the
// shipped behavior exactly.
type Config struct {
	Engine struct {
		TimezoneOffsetHours  int `yaml:"timezone_offset_hours"`
		Workers              int `yaml:"workers"`
		DailyPushCap         int `yaml:"daily_push_cap"`
		DuplicateWindowHours int `yaml:"duplicate_window_hours"`
		FatigueThreshold     int `yaml:"fatigue_threshold"`
		FatigueScanDepth     int `yaml:"fatigue_scan_depth"`
	} `yaml:"engine"`

	// CooldownMinutes maps event family to its cooldown window.
	CooldownMinutes map[string]int `yaml:"cooldown_minutes"`

	Windows struct {
		MorningStartHour int `yaml:"morning_start_hour"`
		MorningEndHour   int `yaml:"morning_end_hour"`
		EveningStartHour int `yaml:"evening_start_hour"`
		EveningEndHour   int `yaml:"evening_end_hour"`
		HumaneStartHour  int `yaml:"humane_start_hour"`
		HumaneEndHour    int `yaml:"humane_end_hour"`
	} `yaml:"windows"`

	Load struct {
		Weights struct {
			Pending        float64 `yaml:"pending"`
			Due48h         float64 `yaml:"due_48h"`
			Due24h         float64 `yaml:"due_24h"`
			Due6h          float64 `yaml:"due_6h"`
			CompletedToday float64 `yaml:"completed_today"`
			Activity24h    float64 `yaml:"activity_24h"`
			IgnoredPush24h float64 `yaml:"ignored_push_24h"`
		} `yaml:"weights"`
		CriticalThreshold float64 `yaml:"critical_threshold"`
		FocusThreshold    float64 `yaml:"focus_threshold"`
		AssistGap         float64 `yaml:"assist_gap"`
	} `yaml:"load"`

	Urgent struct {
		LookaheadMinutes int `yaml:"lookahead_minutes"`
		GraceMinutes     int `yaml:"grace_minutes"`
	} `yaml:"urgent"`

	Mood struct {
		DropThreshold float64 `yaml:"drop_threshold"`
		Floor         float64 `yaml:"floor"`
		MinSamples    int     `yaml:"min_samples"`
		RecentDays    int     `yaml:"recent_days"`
		BaselineDays  int     `yaml:"baseline_days"`
	} `yaml:"mood"`

	Drift struct {
		MinAgeMinutes         int `yaml:"min_age_minutes"`
		MaxAgeHours           int `yaml:"max_age_hours"`
		FollowupCooldownHours int `yaml:"followup_cooldown_hours"`
	} `yaml:"drift"`

	Push struct {
		Endpoint    string `yaml:"endpoint"`
		Subject     string `yaml:"subject"`
		TokenSecret string `yaml:"token_secret"`
	} `yaml:"push"`
}

// Default returns the shipped configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tandem.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset sections
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.TimezoneOffsetHours < -12 || c.Engine.TimezoneOffsetHours > 14 {
		return fmt.Errorf("engine.timezone_offset_hours out of range: %d", c.Engine.TimezoneOffsetHours)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1")
	}
	if c.Engine.DailyPushCap < 1 {
		return fmt.Errorf("engine.daily_push_cap must be >= 1")
	}
	if c.Engine.FatigueThreshold < 1 {
		return fmt.Errorf("engine.fatigue_threshold must be >= 1")
	}
	for family, minutes := range c.CooldownMinutes {
		if family == "" {
			return fmt.Errorf("cooldown_minutes contains empty family")
		}
		if minutes < 0 {
			return fmt.Errorf("cooldown for %s is negative", family)
		}
	}
	if c.Windows.MorningStartHour >= c.Windows.MorningEndHour {
		return fmt.Errorf("windows.morning is empty")
	}
	if c.Windows.HumaneStartHour >= c.Windows.HumaneEndHour {
		return fmt.Errorf("windows.humane is empty")
	}
	if c.Mood.MinSamples < 1 {
		return fmt.Errorf("mood.min_samples must be >= 1")
	}
	if c.Drift.MinAgeMinutes < 1 || c.Drift.MaxAgeHours < 1 {
		return fmt.Errorf("drift window is empty")
	}
	return nil
}

// GenerateDefault returns default config YAML for tandem init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `engine:
  timezone_offset_hours: 7
  workers: 2
  daily_push_cap: 6
  duplicate_window_hours: 48
  fatigue_threshold: 3
  fatigue_scan_depth: 30

cooldown_minutes:
  urgent_due: 90
  partner_assist: 180
  study_window: 120
  execution_followup: 120
  daily_close: 1440
  reminder: 90
  general: 90

windows:
  morning_start_hour: 6
  morning_end_hour: 10
  evening_start_hour: 20
  evening_end_hour: 23
  humane_start_hour: 9
  humane_end_hour: 21

load:
  weights:
    pending: 4
    due_48h: 6
    due_24h: 12
    due_6h: 18
    completed_today: -4
    activity_24h: -1.2
    ignored_push_24h: 4
  critical_threshold: 72
  focus_threshold: 40
  assist_gap: 18

urgent:
  lookahead_minutes: 90
  grace_minutes: 15

mood:
  drop_threshold: 0.7
  floor: 2.6
  min_samples: 3
  recent_days: 2
  baseline_days: 3

drift:
  min_age_minutes: 40
  max_age_hours: 6
  followup_cooldown_hours: 2

push:
  endpoint: ""
  subject: "mailto:tandem@localhost"
  token_secret: ""
`
