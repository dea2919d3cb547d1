package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Engine.DailyPushCap != 6 || cfg.Engine.DuplicateWindowHours != 48 {
		t.Fatalf("admission defaults changed: %+v", cfg.Engine)
	}
	if cfg.CooldownMinutes["urgent_due"] != 90 || cfg.CooldownMinutes["daily_close"] != 1440 {
		t.Fatalf("cooldown defaults changed: %+v", cfg.CooldownMinutes)
	}
	if cfg.Load.Weights.Pending != 4 || cfg.Load.Weights.Activity24h != -1.2 {
		t.Fatalf("load weight defaults changed: %+v", cfg.Load.Weights)
	}
}

func TestFromYAMLOverridesPartially(t *testing.T) {
	cfg, err := FromYAML([]byte("engine:\n  daily_push_cap: 3\ncooldown_minutes:\n  urgent_due: 45\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.DailyPushCap != 3 {
		t.Fatalf("override ignored: %+v", cfg.Engine)
	}
	// Untouched sections keep their defaults.
	if cfg.Engine.DuplicateWindowHours != 48 || cfg.Urgent.LookaheadMinutes != 90 {
		t.Fatalf("defaults lost on partial override: %+v", cfg)
	}
	if cfg.CooldownMinutes["urgent_due"] != 45 {
		t.Fatalf("cooldown override ignored: %+v", cfg.CooldownMinutes)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []string{
		"engine:\n  daily_push_cap: 0\n",
		"engine:\n  timezone_offset_hours: 30\n",
		"engine:\n  workers: 0\n",
		"mood:\n  min_samples: 0\n",
		"windows:\n  morning_start_hour: 11\n  morning_end_hour: 10\n",
		"not: [valid",
	}
	for _, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}
