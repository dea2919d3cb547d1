package signal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/domain"
	"tandem/internal/repo"
	"tandem/internal/schema"
)

// How many predictive emissions one user gets per pass. More than this is
// flooding, not forecasting.
const riskEmitCap = 2

// RiskRadar scores items due between the urgent lookahead and 72 hours out
// and raises the high/critical ones, strongest first.
type RiskRadar struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (rr RiskRadar) Name() string { return "risk_radar" }

func (rr RiskRadar) Collect(ctx context.Context, user domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	from := now.Add(time.Duration(rr.Cfg.Urgent.LookaheadMinutes) * time.Minute)
	to := now.Add(72 * time.Hour)
	items, err := rr.Repo.OpenItemsDueBetween(ctx, rr.Own, user.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("risk radar items: %w", err)
	}

	type scored struct {
		item domain.WorkItem
		risk Assessment
	}
	var ranked []scored
	for _, item := range items {
		if item.Deadline == nil {
			continue
		}
		risk := Assess(item.Deadline.Sub(now).Hours(), item.Priority, item.Kind)
		if risk.Band != BandHigh && risk.Band != BandCritical {
			continue
		}
		ranked = append(ranked, scored{item: item, risk: risk})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].risk.Score > ranked[j].risk.Score })

	var out []Candidate
	for i, s := range ranked {
		if i >= riskEmitCap {
			break
		}
		level := domain.LevelWarning
		if s.risk.Band == BandCritical {
			level = domain.LevelCritical
		}
		out = append(out, Candidate{
			Collector:  rr.Name(),
			UserID:     user.ID,
			EventType:  TypeRiskRadar,
			EventKey:   fmt.Sprintf("%s-%s-%s", s.item.Kind, s.item.ID, s.risk.Band),
			Level:      level,
			Title:      fmt.Sprintf("At risk: %s", s.item.Title),
			Body:       riskBody(s.item, s.risk),
			TargetURL:  itemURL(s.item),
			EntityKind: s.item.Kind,
			EntityID:   s.item.ID,
			HoursLeft:  hoursPtr(s.risk.HoursLeft),
			Payload: map[string]any{
				"risk_score": s.risk.Score,
				"risk_band":  s.risk.Band,
				"hours_left": s.risk.HoursLeft,
				"item_kind":  s.item.Kind,
				"item_id":    s.item.ID,
			},
		})

		if user.PartnerID != nil && s.risk.Band == BandCritical {
			out = append(out, Candidate{
				Collector:  rr.Name(),
				UserID:     *user.PartnerID,
				EventType:  TypePartnerPing,
				EventKey:   fmt.Sprintf("risk-%s-%s-%s", s.item.Kind, s.item.ID, s.risk.Band),
				Level:      domain.LevelWarning,
				Title:      fmt.Sprintf("%s has a high-risk deadline", user.Name),
				Body:       fmt.Sprintf("%q looks hard to land in time. Maybe offer a hand.", s.item.Title),
				TargetURL:  itemURL(s.item),
				EntityKind: s.item.Kind,
				EntityID:   s.item.ID,
				HoursLeft:  hoursPtr(s.risk.HoursLeft),
				Payload: map[string]any{
					"risk_band": s.risk.Band,
					"for_user":  user.ID,
					"item_kind": s.item.Kind,
					"item_id":   s.item.ID,
				},
			})
		}
	}
	return out, nil
}

func riskBody(item domain.WorkItem, risk Assessment) string {
	return fmt.Sprintf("%q is due in about %.0f hours (risk %d/100). Starting early beats a rushed finish.",
		item.Title, risk.HoursLeft, risk.Score)
}
