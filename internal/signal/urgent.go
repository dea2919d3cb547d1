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

// Urgent radar stages over time-to-deadline.
const (
	StageOverdue  = "overdue"
	StageCritical = "critical"
	StageWarning  = "warning"
)

// UrgentRadar watches items whose deadline is inside a short lookahead (or
// just past, within a grace period) and classifies them into stages. The
// event key embeds the hour bucket so the same item in the same stage fires
// at most once per hour, while crossing into a worse stage fires fresh.
type UrgentRadar struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (u UrgentRadar) Name() string { return "urgent_radar" }

func (u UrgentRadar) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	lookahead := time.Duration(u.Cfg.Urgent.LookaheadMinutes) * time.Minute
	grace := time.Duration(u.Cfg.Urgent.GraceMinutes) * time.Minute
	items, err := u.Repo.OpenItemsDueBetween(ctx, u.Own, user.ID, now.Add(-grace), now.Add(lookahead))
	if err != nil {
		return nil, fmt.Errorf("urgent radar items: %w", err)
	}

	var out []Candidate
	for _, item := range items {
		if item.Deadline == nil {
			continue
		}
		minutesLeft := minutesUntil(now, *item.Deadline)
		stage := stageFor(minutesLeft)
		if stage == "" {
			continue
		}
		key := fmt.Sprintf("%s-%s-%s-%s", item.Kind, item.ID, stage, w.HourBucket)
		cand := Candidate{
			Collector:  u.Name(),
			UserID:     user.ID,
			EventType:  typeForStage(stage),
			EventKey:   key,
			Level:      levelForStage(stage),
			Title:      urgentTitle(stage, item.Title),
			Body:       urgentBody(stage, item.Title, minutesLeft),
			TargetURL:  itemURL(item),
			EntityKind: item.Kind,
			EntityID:   item.ID,
			HoursLeft:  hoursPtr(minutesLeft / 60),
			Payload: map[string]any{
				"stage":        stage,
				"minutes_left": int(minutesLeft),
				"item_kind":    item.Kind,
				"item_id":      item.ID,
				"action":       actionForStage(stage),
			},
		}
		out = append(out, cand)

		if user.PartnerID != nil && (stage == StageCritical || stage == StageOverdue) {
			out = append(out, Candidate{
				Collector:  u.Name(),
				UserID:     *user.PartnerID,
				EventType:  TypePartnerPing,
				EventKey:   fmt.Sprintf("urgent-%s-%s-%s-%s", item.Kind, item.ID, stage, w.HourBucket),
				Level:      domain.LevelWarning,
				Title:      fmt.Sprintf("%s is under deadline pressure", user.Name),
				Body:       fmt.Sprintf("%q is %s. A quick check-in could help.", item.Title, stageLabel(stage)),
				TargetURL:  itemURL(item),
				EntityKind: item.Kind,
				EntityID:   item.ID,
				HoursLeft:  hoursPtr(minutesLeft / 60),
				Payload: map[string]any{
					"stage":     stage,
					"for_user":  user.ID,
					"item_kind": item.Kind,
					"item_id":   item.ID,
				},
			})
		}
	}
	return out, nil
}

func stageFor(minutesLeft float64) string {
	switch {
	case minutesLeft <= 0:
		return StageOverdue
	case minutesLeft <= 30:
		return StageCritical
	case minutesLeft <= 90:
		return StageWarning
	default:
		return ""
	}
}

func typeForStage(stage string) string {
	switch stage {
	case StageOverdue:
		return TypeUrgentOverdue
	case StageCritical:
		return TypeUrgentCritical
	default:
		return TypeUrgentWarning
	}
}

func levelForStage(stage string) string {
	if stage == StageWarning {
		return domain.LevelWarning
	}
	return domain.LevelCritical
}

// Call-to-action per stage: warning gets a replan button, critical a
// request-support button, overdue a check-in.
func actionForStage(stage string) string {
	switch stage {
	case StageOverdue:
		return "checkin_now"
	case StageCritical:
		return "request_support"
	default:
		return "replan"
	}
}

func stageLabel(stage string) string {
	switch stage {
	case StageOverdue:
		return "overdue"
	case StageCritical:
		return "due in under 30 minutes"
	default:
		return "due soon"
	}
}

func urgentTitle(stage, title string) string {
	switch stage {
	case StageOverdue:
		return fmt.Sprintf("Overdue: %s", title)
	case StageCritical:
		return fmt.Sprintf("Due very soon: %s", title)
	default:
		return fmt.Sprintf("Coming up: %s", title)
	}
}

func urgentBody(stage, title string, minutesLeft float64) string {
	switch stage {
	case StageOverdue:
		return fmt.Sprintf("%q passed its deadline %d minutes ago.", title, int(-minutesLeft))
	case StageCritical:
		return fmt.Sprintf("%q is due in %d minutes.", title, int(minutesLeft))
	default:
		return fmt.Sprintf("%q is due in about %d minutes. Good moment to replan if needed.", title, int(minutesLeft))
	}
}

func itemURL(item domain.WorkItem) string {
	return fmt.Sprintf("/%ss/%s", item.Kind, item.ID)
}
