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

// Load bands for the couple context.
const (
	LoadCritical = "critical"
	LoadFocus    = "focus"
	LoadCalm     = "calm"
)

// LoadIndex is the 0-100 workload pressure scalar for one user.
type LoadIndex struct {
	UserID string  `json:"user_id"`
	Value  float64 `json:"value"`
	Band   string  `json:"band"`
	Due24h int     `json:"due_24h"`
}

// LoadCalc computes the load index. Weights come from config; the defaults
// are the long-standing production values.
type LoadCalc struct {
	Repo repo.Repo
	Own  schema.Ownership
	Cfg  *config.Config
}

func (lc LoadCalc) Compute(ctx context.Context, userID string, now time.Time) (LoadIndex, error) {
	weights := lc.Cfg.Load.Weights
	pending, err := lc.Repo.CountOpenItems(ctx, lc.Own, userID)
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load pending: %w", err)
	}
	due48, err := lc.Repo.CountOpenDueBetween(ctx, lc.Own, userID, now, now.Add(48*time.Hour))
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load due48: %w", err)
	}
	due24, err := lc.Repo.CountOpenDueBetween(ctx, lc.Own, userID, now, now.Add(24*time.Hour))
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load due24: %w", err)
	}
	due6, err := lc.Repo.CountOpenDueBetween(ctx, lc.Own, userID, now, now.Add(6*time.Hour))
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load due6: %w", err)
	}
	dayAgo := now.Add(-24 * time.Hour)
	completed, err := lc.Repo.CountCompletedBetween(ctx, lc.Own, userID, dayAgo, now)
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load completed: %w", err)
	}
	activity, err := lc.Repo.CountNonPushActivitySince(ctx, userID, dayAgo)
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load activity: %w", err)
	}
	ignored, err := lc.Repo.CountActivitySince(ctx, userID, domain.ActivityPushIgnored, dayAgo)
	if err != nil {
		return LoadIndex{}, fmt.Errorf("load ignored: %w", err)
	}

	value := float64(pending)*weights.Pending +
		float64(due48)*weights.Due48h +
		float64(due24)*weights.Due24h +
		float64(due6)*weights.Due6h +
		float64(min(8, completed))*weights.CompletedToday +
		float64(min(16, activity))*weights.Activity24h +
		float64(min(6, ignored))*weights.IgnoredPush24h
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	return LoadIndex{UserID: userID, Value: value, Band: lc.band(value), Due24h: due24}, nil
}

func (lc LoadCalc) band(value float64) string {
	switch {
	case value >= lc.Cfg.Load.CriticalThreshold:
		return LoadCritical
	case value >= lc.Cfg.Load.FocusThreshold:
		return LoadFocus
	default:
		return LoadCalm
	}
}

// CoupleSync compares both partners' load indices and, when the gap is wide
// and the heavier side has near-term work, nudges the lighter partner to
// pick something up and the heavier one toward a single next action. Keyed
// per pair per local hour bucket.
type CoupleSync struct {
	Calc LoadCalc
}

func (cs CoupleSync) Name() string { return "couple_sync" }

// Collect evaluates one pair. Caller passes the pair once, not once per
// member.
func (cs CoupleSync) Collect(ctx context.Context, a, b domain.User, now time.Time, w clock.Window) ([]Candidate, error) {
	loadA, err := cs.Calc.Compute(ctx, a.ID, now)
	if err != nil {
		return nil, err
	}
	loadB, err := cs.Calc.Compute(ctx, b.ID, now)
	if err != nil {
		return nil, err
	}

	heavy, light := loadA, loadB
	heavyUser, lightUser := a, b
	if loadB.Value > loadA.Value {
		heavy, light = loadB, loadA
		heavyUser, lightUser = b, a
	}
	if heavy.Value-light.Value < cs.Calc.Cfg.Load.AssistGap || heavy.Due24h < 1 {
		return nil, nil
	}

	pairKey := fmt.Sprintf("%s:%s-%s", a.ID, b.ID, w.HourBucket)
	nextItem, err := cs.Calc.Repo.NearestDeadlineOpenItem(ctx, cs.Calc.Own, heavyUser.ID, now)
	if err != nil && err != repo.ErrNotFound {
		return nil, fmt.Errorf("couple sync next item: %w", err)
	}

	offer := Candidate{
		Collector:  cs.Name(),
		UserID:     lightUser.ID,
		EventType:  TypeAssistOffer,
		EventKey:   pairKey,
		Level:      domain.LevelInfo,
		Title:      fmt.Sprintf("%s has a heavy day", heavyUser.Name),
		Body:       "Their plate is fuller than yours right now. Taking over one small item would even things out.",
		TargetURL:  "/shared",
		EntityKind: "general",
		Payload: map[string]any{
			"heavy_user": heavyUser.ID,
			"heavy_load": heavy.Value,
			"light_load": light.Value,
			"gap":        heavy.Value - light.Value,
		},
	}
	focus := Candidate{
		Collector:  cs.Name(),
		UserID:     heavyUser.ID,
		EventType:  TypeFocusNext,
		EventKey:   pairKey,
		Level:      domain.LevelInfo,
		Title:      "One thing at a time",
		Body:       "Load is high. Pick the single nearest deadline and give it 25 focused minutes.",
		TargetURL:  "/today",
		EntityKind: "general",
		Payload: map[string]any{
			"load": heavy.Value,
			"band": heavy.Band,
		},
	}
	if err == nil {
		focus.Body = fmt.Sprintf("Load is high. Start with %q and give it 25 focused minutes.", nextItem.Title)
		focus.EntityKind = nextItem.Kind
		focus.EntityID = nextItem.ID
		focus.Payload["next_item"] = nextItem.ID
		offer.Payload["next_item"] = nextItem.ID
	}
	return []Candidate{offer, focus}, nil
}
