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

// DriftCopilot finds items the user started but never finished within a
// bounded staleness window and follows up with a concrete, sized next step.
// Step size shrinks to 15 minutes when the user has been snoozing the same
// item; a shorter ask is easier to accept.
type DriftCopilot struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (dc DriftCopilot) Name() string { return "drift_copilot" }

// NextAction is the copilot's recommendation for a user's single next step.
type NextAction struct {
	Item    domain.WorkItem
	Band    string
	Minutes int
	Action  string
	Reason  string
}

// Recommend picks the nearest-deadline open item and sizes a step for it.
func (dc DriftCopilot) Recommend(ctx context.Context, userID string, now time.Time) (NextAction, error) {
	item, err := dc.Repo.NearestDeadlineOpenItem(ctx, dc.Own, userID, now.Add(-time.Duration(dc.Cfg.Drift.MaxAgeHours)*time.Hour))
	if err != nil {
		return NextAction{}, err
	}
	hoursLeft := 0.0
	if item.Deadline != nil {
		hoursLeft = item.Deadline.Sub(now).Hours()
	}
	band := Assess(hoursLeft, item.Priority, item.Kind).Band

	minutes := 25
	snoozes, err := dc.Repo.CountEntityActivitySince(ctx, userID, domain.ActivityPushActionSnooze, item.ID, now.Add(-6*time.Hour))
	if err != nil {
		return NextAction{}, fmt.Errorf("drift snooze count: %w", err)
	}
	if snoozes >= 2 {
		minutes = 15
	}

	action := fmt.Sprintf("Give %q a %d-minute push.", item.Title, minutes)
	reason := fmt.Sprintf("It has the nearest deadline (about %.0fh left, %s risk).", hoursLeft, band)
	if snoozes >= 2 {
		reason = fmt.Sprintf("You have snoozed this a few times; %d minutes is enough to get moving.", minutes)
	}
	return NextAction{Item: item, Band: band, Minutes: minutes, Action: action, Reason: reason}, nil
}

func (dc DriftCopilot) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	from := now.Add(-time.Duration(dc.Cfg.Drift.MaxAgeHours) * time.Hour)
	to := now.Add(-time.Duration(dc.Cfg.Drift.MinAgeMinutes) * time.Minute)
	started, err := dc.Repo.StartedUnfinished(ctx, user.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("drift started items: %w", err)
	}
	if len(started) == 0 {
		return nil, nil
	}

	var out []Candidate
	for _, cand := range started {
		// A recent followup about the same item means the user already heard
		// from us; stay quiet.
		lastSent, ok, err := dc.Repo.LastSentForFamilyEntity(ctx, user.ID, "execution_followup", cand.EntityID)
		if err != nil {
			return nil, fmt.Errorf("drift followup check: %w", err)
		}
		if ok && now.Sub(lastSent) < time.Duration(dc.Cfg.Drift.FollowupCooldownHours)*time.Hour {
			continue
		}

		kind := cand.EntityKind
		if kind == "" {
			kind = "task"
		}
		item, err := dc.Repo.GetWorkItem(ctx, kind, cand.EntityID)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("drift item lookup: %w", err)
		}
		if item.Status == "done" {
			continue
		}

		body := fmt.Sprintf("You started %q %d minutes ago and it is still open.", item.Title, int(now.Sub(cand.StartedAt).Minutes()))
		payload := map[string]any{
			"item_kind":     item.Kind,
			"item_id":       item.ID,
			"started_at":    cand.StartedAt.UTC().Format(time.RFC3339),
			"stale_minutes": int(now.Sub(cand.StartedAt).Minutes()),
		}
		if rec, err := dc.Recommend(ctx, user.ID, now); err == nil {
			body += " " + rec.Action + " " + rec.Reason
			payload["next_action"] = rec.Action
			payload["next_reason"] = rec.Reason
			payload["step_minutes"] = rec.Minutes
			payload["risk_band"] = rec.Band
		} else if err != repo.ErrNotFound {
			return nil, fmt.Errorf("drift recommend: %w", err)
		}

		out = append(out, Candidate{
			Collector:  dc.Name(),
			UserID:     user.ID,
			EventType:  TypeDriftFollowup,
			EventKey:   fmt.Sprintf("%s-%s-%s", item.Kind, item.ID, w.HourBucket),
			Level:      domain.LevelWarning,
			Title:      fmt.Sprintf("Still on %s?", item.Title),
			Body:       body,
			TargetURL:  itemURL(item),
			EntityKind: item.Kind,
			EntityID:   item.ID,
			Payload:    payload,
		})
	}
	return out, nil
}
