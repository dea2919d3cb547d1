package signal

import (
	"context"
	"fmt"
	"time"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/domain"
	"tandem/internal/repo"
)

// MoodDrop compares the last two local days of mood entries against the
// preceding three and nudges on a sustained drop or a low absolute floor.
// It only speaks during humane hours; nobody wants this at 03:00.
type MoodDrop struct {
	Repo repo.Repo
	Cfg  *config.Config
}

func (m MoodDrop) Name() string { return "mood_drop" }

func (m MoodDrop) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	if w.Hour < m.Cfg.Windows.HumaneStartHour || w.Hour >= m.Cfg.Windows.HumaneEndHour {
		return nil, nil
	}
	recentFrom := now.Add(-time.Duration(m.Cfg.Mood.RecentDays) * 24 * time.Hour)
	baselineFrom := recentFrom.Add(-time.Duration(m.Cfg.Mood.BaselineDays) * 24 * time.Hour)

	recentAvg, recentN, err := m.Repo.MoodWindow(ctx, user.ID, recentFrom, now)
	if err != nil {
		return nil, fmt.Errorf("mood recent window: %w", err)
	}
	if recentN < m.Cfg.Mood.MinSamples {
		return nil, nil
	}
	baselineAvg, baselineN, err := m.Repo.MoodWindow(ctx, user.ID, baselineFrom, recentFrom)
	if err != nil {
		return nil, fmt.Errorf("mood baseline window: %w", err)
	}

	dropped := baselineN >= m.Cfg.Mood.MinSamples && baselineAvg-recentAvg >= m.Cfg.Mood.DropThreshold
	low := recentAvg <= m.Cfg.Mood.Floor
	if !dropped && !low {
		return nil, nil
	}

	reason := "low"
	if dropped {
		reason = "drop"
	}
	payload := map[string]any{
		"recent_avg":   recentAvg,
		"recent_n":     recentN,
		"baseline_avg": baselineAvg,
		"baseline_n":   baselineN,
		"reason":       reason,
	}

	out := []Candidate{{
		Collector:  m.Name(),
		UserID:     user.ID,
		EventType:  TypeMoodSelfCare,
		EventKey:   fmt.Sprintf("mood-%s", w.LocalDate),
		Level:      domain.LevelWarning,
		Title:      "Rough couple of days?",
		Body:       "Your mood has been lower than usual. A short break or a walk might help.",
		TargetURL:  "/mood",
		EntityKind: "general",
		Payload:    payload,
	}}

	if user.PartnerID != nil {
		out = append(out, Candidate{
			Collector:  m.Name(),
			UserID:     *user.PartnerID,
			EventType:  TypeMoodDropAlert,
			EventKey:   fmt.Sprintf("mood-%s-%s", user.ID, w.LocalDate),
			Level:      domain.LevelWarning,
			Title:      fmt.Sprintf("%s might need some support", user.Name),
			Body:       "Their mood has dipped over the last couple of days. A kind word goes a long way.",
			TargetURL:  "/mood",
			EntityKind: "general",
			Payload:    map[string]any{"for_user": user.ID, "reason": reason},
		})
	}
	return out, nil
}
