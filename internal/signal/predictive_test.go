package signal

import (
	"context"
	"testing"
	"time"

	"tandem/internal/clock"
	"tandem/internal/domain"
)

func TestRiskRadarRanksAndCaps(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	// All inside [lookahead, 72h]. Scores: thesis 76 critical, quiz 70 high,
	// chores 48 medium (filtered), groceries 18+6 low (filtered).
	thesis := domain.WorkItem{ID: "thesis", Kind: "assignment", Title: "Thesis chapter", Deadline: deadlineIn(now, 11*time.Hour), Priority: "high", Status: "pending"}
	if err := env.repo.InsertWorkItem(ctx, thesis, "zaldy", "zaldy", now); err != nil {
		t.Fatal(err)
	}
	env.addTask(t, "quiz-prep", "zaldy", deadlineIn(now, 10*time.Hour), "high", now)
	env.addTask(t, "chores", "zaldy", deadlineIn(now, 20*time.Hour), "medium", now)
	env.addTask(t, "groceries", "zaldy", deadlineIn(now, 60*time.Hour), "medium", now)
	env.addTask(t, "too-close", "zaldy", deadlineIn(now, 30*time.Minute), "high", now)

	radar := RiskRadar{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := radar.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}

	// Critical thesis, its partner ping, then the high quiz. The medium and
	// low items never surface, and the 30-minute task belongs to the urgent
	// radar, not this one.
	if len(cands) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(cands), cands)
	}
	if cands[0].EventType != TypeRiskRadar || cands[0].EntityID != "thesis" || cands[0].Level != domain.LevelCritical {
		t.Fatalf("top candidate = %+v", cands[0])
	}
	if cands[1].EventType != TypePartnerPing || cands[1].UserID != "nesya" {
		t.Fatalf("expected partner ping for critical item, got %+v", cands[1])
	}
	if cands[2].EntityID != "quiz-prep" || cands[2].Level != domain.LevelWarning {
		t.Fatalf("second candidate = %+v", cands[2])
	}
	if cands[0].EventKey != "assignment-thesis-critical" {
		t.Fatalf("event key = %q", cands[0].EventKey)
	}
}

func TestRiskRadarEmitCap(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	// Four high-band items; only the strongest two may surface.
	env.addTask(t, "h1", "zaldy", deadlineIn(now, 4*time.Hour), "low", now)
	env.addTask(t, "h2", "zaldy", deadlineIn(now, 5*time.Hour), "low", now)
	env.addTask(t, "h3", "zaldy", deadlineIn(now, 10*time.Hour), "high", now)
	env.addTask(t, "h4", "zaldy", deadlineIn(now, 11*time.Hour), "high", now)

	radar := RiskRadar{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := radar.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}
	own := 0
	for _, c := range cands {
		if c.UserID == "zaldy" {
			own++
		}
	}
	if own != riskEmitCap {
		t.Fatalf("expected %d own emissions, got %d: %+v", riskEmitCap, own, cands)
	}
}
