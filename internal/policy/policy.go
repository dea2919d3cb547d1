// Package policy is the gate between "an event happened" and "the user was
// interrupted". Every check reads the append-only activity log, so repeated
// and concurrent evaluations converge: the more push_sent entries exist, the
// more conservative the decision gets.
package policy

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/domain"
	"tandem/internal/repo"
	"tandem/internal/signal"
)

// Decision reasons.
const (
	ReasonOK       = "ok"
	ReasonDailyCap = "daily_cap"
	ReasonDupe     = "duplicate"
	ReasonCooldown = "cooldown"
	ReasonFatigue  = "fatigue"
	// ReasonInvalid covers fail-closed denials on unusable input.
	ReasonInvalid = "invalid"
)

// Event families.
const (
	FamilyUrgent     = "urgent_due"
	FamilyPartner    = "partner_assist"
	FamilyStudy      = "study_window"
	FamilyExecution  = "execution_followup"
	FamilyDailyClose = "daily_close"
	FamilyReminder   = "reminder"
	FamilyGeneral    = "general"
)

// Trace is the admission context logged alongside the outcome so later
// cooldown and duplicate checks can see it.
type Trace struct {
	Family        string `json:"family"`
	DedupKey      string `json:"dedup_key"`
	SourceDomain  string `json:"source_domain"`
	HorizonBucket string `json:"horizon_bucket"`
	DailyCount    int    `json:"daily_count"`
}

type Decision struct {
	Allowed bool
	Reason  string
	Trace   Trace
}

// SampleFunc is the deterministic fatigue-sampling hash. Swappable, but any
// replacement must stay stable for a fixed (user, family, hourBucket).
type SampleFunc func(userID, family, hourBucket string) uint32

// Gate evaluates candidates against the activity log.
type Gate struct {
	Repo   repo.Repo
	Cfg    *config.Config
	Sample SampleFunc
}

func New(r repo.Repo, cfg *config.Config) Gate {
	return Gate{Repo: r, Cfg: cfg, Sample: DefaultSample}
}

// DefaultSample hashes (user, family, hourBucket) with FNV-1a. The outcome
// is stable within an hour bucket and flips roughly half the time across
// buckets and users.
func DefaultSample(userID, family, hourBucket string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	h.Write([]byte{'|'})
	h.Write([]byte(family))
	h.Write([]byte{'|'})
	h.Write([]byte(hourBucket))
	return h.Sum32()
}

// FamilyFor maps a fine-grained event type to its admission family.
func FamilyFor(eventType string) string {
	switch eventType {
	case signal.TypeUrgentWarning, signal.TypeUrgentCritical, signal.TypeUrgentOverdue:
		return FamilyUrgent
	case signal.TypePartnerPing, signal.TypeMoodDropAlert, signal.TypeAssistOffer:
		return FamilyPartner
	case signal.TypeRiskRadar:
		return FamilyStudy
	case signal.TypeDriftFollowup:
		return FamilyExecution
	case signal.TypeDailyClose:
		return FamilyDailyClose
	case signal.TypeMorningBrief, signal.TypeFocusNext:
		return FamilyReminder
	default:
		return FamilyGeneral
	}
}

// Evaluate runs the checks in order and short-circuits on the first denial.
func (g Gate) Evaluate(ctx context.Context, cand signal.Candidate, now time.Time, w clock.Window) (Decision, error) {
	if cand.UserID == "" || cand.EventType == "" {
		return Decision{Allowed: false, Reason: ReasonInvalid}, nil
	}
	family := FamilyFor(cand.EventType)
	trace := Trace{
		Family:        family,
		DedupKey:      g.dedupKey(cand, family),
		SourceDomain:  sourceDomain(cand.EntityKind),
		HorizonBucket: horizonBucket(cand.HoursLeft),
	}

	// 1. Daily cap. Urgent deadline work always gets through; everything
	// else shares the budget.
	sent24h, err := g.Repo.CountActivitySince(ctx, cand.UserID, domain.ActivityPushSent, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("daily cap count: %w", err)
	}
	trace.DailyCount = sent24h
	if family != FamilyUrgent && sent24h >= g.Cfg.Engine.DailyPushCap {
		return Decision{Allowed: false, Reason: ReasonDailyCap, Trace: trace}, nil
	}

	// 2. Duplicate suppression across collectors and time buckets.
	dupWindow := time.Duration(g.Cfg.Engine.DuplicateWindowHours) * time.Hour
	dupe, err := g.Repo.HasSentWithDedup(ctx, cand.UserID, trace.DedupKey, now.Add(-dupWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("duplicate check: %w", err)
	}
	if dupe {
		return Decision{Allowed: false, Reason: ReasonDupe, Trace: trace}, nil
	}

	// 3. Per-family cooldown.
	last, ok, err := g.Repo.LastSentForFamily(ctx, cand.UserID, family)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown check: %w", err)
	}
	if ok && now.Sub(last) < g.cooldown(family) {
		return Decision{Allowed: false, Reason: ReasonCooldown, Trace: trace}, nil
	}

	// 4. Fatigue down-sampling.
	fatigued, err := g.isFatigued(ctx, cand.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("fatigue check: %w", err)
	}
	if fatigued && family != FamilyUrgent {
		if g.Sample(cand.UserID, family, w.HourBucket)%2 != 0 {
			return Decision{Allowed: false, Reason: ReasonFatigue, Trace: trace}, nil
		}
	}

	return Decision{Allowed: true, Reason: ReasonOK, Trace: trace}, nil
}

func (g Gate) cooldown(family string) time.Duration {
	if minutes, ok := g.Cfg.CooldownMinutes[family]; ok {
		return time.Duration(minutes) * time.Minute
	}
	return 90 * time.Minute
}

// isFatigued counts consecutive push_sent entries since the last engagement
// in the recent activity tail.
func (g Gate) isFatigued(ctx context.Context, userID string) (bool, error) {
	kinds, err := g.Repo.RecentPushKinds(ctx, userID, g.Cfg.Engine.FatigueScanDepth)
	if err != nil {
		return false, err
	}
	streak := 0
	for _, kind := range kinds {
		switch kind {
		case domain.ActivityPushSent:
			streak++
			if streak >= g.Cfg.Engine.FatigueThreshold {
				return true, nil
			}
		case domain.ActivityPushOpened, domain.ActivityPushActionStart,
			domain.ActivityPushActionSnooze, domain.ActivityPushActionDone:
			return false, nil
		}
	}
	return false, nil
}

// dedupKey returns the caller's explicit key or derives one that groups
// semantically equivalent reminders about the same item across collectors.
func (g Gate) dedupKey(cand signal.Candidate, family string) string {
	if cand.DedupKey != "" {
		return cand.DedupKey
	}
	entity := cand.EntityID
	if entity == "" {
		entity = "none"
	}
	return strings.Join([]string{family, sourceDomain(cand.EntityKind), horizonBucket(cand.HoursLeft), entity}, ":")
}

func sourceDomain(entityKind string) string {
	switch entityKind {
	case "task", "assignment", "study_session":
		return entityKind
	default:
		return "general"
	}
}

func horizonBucket(hoursLeft *float64) string {
	if hoursLeft == nil {
		return "na"
	}
	switch {
	case *hoursLeft <= 0:
		return "overdue"
	case *hoursLeft <= 24:
		return "<=24h"
	case *hoursLeft <= 48:
		return "<=48h"
	default:
		return ">48h"
	}
}
