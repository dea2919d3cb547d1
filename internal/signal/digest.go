package signal

import (
	"context"
	"fmt"
	"time"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/domain"
	"tandem/internal/repo"
	"tandem/internal/schema"
)

// MorningBrief summarizes the day ahead once per local morning window. The
// event key is the local date, so a missed run catches up on the next
// invocation and a repeat within the window is absorbed on emission.
type MorningBrief struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (b MorningBrief) Name() string { return "morning_brief" }

func (b MorningBrief) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	if w.Hour < b.Cfg.Windows.MorningStartHour || w.Hour >= b.Cfg.Windows.MorningEndHour {
		return nil, nil
	}
	pending, err := b.Repo.CountOpenItems(ctx, b.Own, user.ID)
	if err != nil {
		return nil, fmt.Errorf("morning brief pending: %w", err)
	}
	dueToday, err := b.Repo.CountOpenDueBetween(ctx, b.Own, user.ID, now, w.DayEndUTC)
	if err != nil {
		return nil, fmt.Errorf("morning brief due today: %w", err)
	}

	body := fmt.Sprintf("You have %d open items, %d due today.", pending, dueToday)
	payload := map[string]any{"pending": pending, "due_today": dueToday}

	// Highlight whichever comes first: the most pressured item or the next
	// class on today's schedule.
	if item, err := b.Repo.NearestDeadlineOpenItem(ctx, b.Own, user.ID, now); err == nil && item.Deadline != nil {
		hoursLeft := item.Deadline.Sub(now).Hours()
		body += fmt.Sprintf(" Most pressing: %q (due in %.0fh).", item.Title, hoursLeft)
		payload["highlight_item"] = item.ID
		payload["highlight_kind"] = item.Kind
	} else if err != nil && err != repo.ErrNotFound {
		return nil, fmt.Errorf("morning brief highlight: %w", err)
	}
	nowMinute := w.Hour*60 + now.UTC().Add(time.Duration(b.Cfg.Engine.TimezoneOffsetHours)*time.Hour).Minute()
	if block, ok, err := b.Repo.NextScheduleBlock(ctx, user.ID, w.Weekday, nowMinute); err != nil {
		return nil, fmt.Errorf("morning brief schedule: %w", err)
	} else if ok {
		body += fmt.Sprintf(" Next on the schedule: %s at %02d:%02d.", block.Title, block.StartMinute/60, block.StartMinute%60)
		payload["next_block"] = block.ID
	}

	return []Candidate{{
		Collector:  b.Name(),
		UserID:     user.ID,
		EventType:  TypeMorningBrief,
		EventKey:   w.LocalDate,
		Level:      domain.LevelInfo,
		Title:      "Good morning — here is your day",
		Body:       body,
		TargetURL:  "/today",
		EntityKind: "general",
		Payload:    payload,
	}}, nil
}

// DailyClose summarizes the day once per local evening window and points at
// tomorrow's first action.
type DailyClose struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (d DailyClose) Name() string { return "daily_close" }

func (d DailyClose) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	if w.Hour < d.Cfg.Windows.EveningStartHour || w.Hour >= d.Cfg.Windows.EveningEndHour {
		return nil, nil
	}
	completed, err := d.Repo.CountCompletedBetween(ctx, d.Own, user.ID, w.DayStartUTC, now)
	if err != nil {
		return nil, fmt.Errorf("daily close completed: %w", err)
	}
	pending, err := d.Repo.CountOpenItems(ctx, d.Own, user.ID)
	if err != nil {
		return nil, fmt.Errorf("daily close pending: %w", err)
	}
	due24, err := d.Repo.CountOpenDueBetween(ctx, d.Own, user.ID, now, now.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("daily close due24: %w", err)
	}

	body := fmt.Sprintf("Done today: %d. Still open: %d (%d due within 24h).", completed, pending, due24)
	payload := map[string]any{"completed_today": completed, "pending": pending, "due_24h": due24}

	if item, err := d.Repo.NearestDeadlineOpenItem(ctx, d.Own, user.ID, now); err == nil {
		body += fmt.Sprintf(" Tomorrow, start with %q.", item.Title)
		payload["first_action_item"] = item.ID
		payload["first_action_kind"] = item.Kind
	} else if err != repo.ErrNotFound {
		return nil, fmt.Errorf("daily close first action: %w", err)
	}

	return []Candidate{{
		Collector:  d.Name(),
		UserID:     user.ID,
		EventType:  TypeDailyClose,
		EventKey:   w.LocalDate,
		Level:      domain.LevelInfo,
		Title:      "Closing out the day",
		Body:       body,
		TargetURL:  "/today",
		EntityKind: "general",
		Payload:    payload,
	}}, nil
}
