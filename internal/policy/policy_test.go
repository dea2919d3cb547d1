package policy

import (
	"context"
	"testing"
	"time"

	"tandem/internal/clock"
	"tandem/internal/config"
	"tandem/internal/db"
	"tandem/internal/domain"
	"tandem/internal/migrate"
	"tandem/internal/repo"
	"tandem/internal/signal"
)

func newTestGate(t *testing.T) Gate {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(repo.Repo{DB: conn}, config.Default())
}

func sent(t *testing.T, g Gate, userID, family, dedupKey string, at time.Time) {
	t.Helper()
	if err := g.Repo.AppendActivity(context.Background(), domain.ActivityEvent{
		UserID: userID, Kind: domain.ActivityPushSent, Family: family, DedupKey: dedupKey, CreatedAt: at,
	}); err != nil {
		t.Fatal(err)
	}
}

func hours(v float64) *float64 { return &v }

func TestDailyCapDeniesAndUrgentBypasses(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	for i := 0; i < g.Cfg.Engine.DailyPushCap; i++ {
		sent(t, g, "zaldy", FamilyGeneral, string(rune('a'+i)), now.Add(-time.Duration(i+1)*time.Hour))
	}

	risk := signal.Candidate{
		UserID: "zaldy", EventType: signal.TypeRiskRadar,
		EntityKind: "task", EntityID: "t-1", HoursLeft: hours(20),
	}
	dec, err := g.Evaluate(ctx, risk, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonDailyCap {
		t.Fatalf("expected daily_cap denial, got %+v", dec)
	}
	if dec.Trace.DailyCount != g.Cfg.Engine.DailyPushCap {
		t.Fatalf("trace daily count = %d", dec.Trace.DailyCount)
	}

	// Urgent deadline work is exempt from the cap (and from fatigue).
	urgent := signal.Candidate{
		UserID: "zaldy", EventType: signal.TypeUrgentCritical,
		EntityKind: "task", EntityID: "t-2", HoursLeft: hours(0.3),
	}
	dec, err = g.Evaluate(ctx, urgent, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Fatalf("expected urgent candidate to bypass the cap, got %+v", dec)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	cand := signal.Candidate{
		UserID: "zaldy", EventType: signal.TypeRiskRadar,
		EntityKind: "task", EntityID: "t-9", HoursLeft: hours(20),
	}
	// The derived key groups equivalent reminders about the same item.
	key := g.dedupKey(cand, FamilyStudy)
	if key != "study_window:task:<=24h:t-9" {
		t.Fatalf("derived dedup key = %q", key)
	}

	sent(t, g, "zaldy", FamilyStudy, key, now.Add(-47*time.Hour))
	dec, err := g.Evaluate(ctx, cand, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonDupe {
		t.Fatalf("expected duplicate denial at 47h, got %+v", dec)
	}
}

func TestDuplicateWindowExpires(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	cand := signal.Candidate{
		UserID: "zaldy", EventType: signal.TypeRiskRadar,
		EntityKind: "task", EntityID: "t-9", HoursLeft: hours(20),
	}
	sent(t, g, "zaldy", FamilyStudy, g.dedupKey(cand, FamilyStudy), now.Add(-49*time.Hour))
	dec, err := g.Evaluate(ctx, cand, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Fatalf("expected 49h-old send to have aged out, got %+v", dec)
	}
}

func TestFamilyCooldownBoundary(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	cooldown := time.Duration(g.Cfg.CooldownMinutes[FamilyStudy]) * time.Minute
	last := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	sent(t, g, "zaldy", FamilyStudy, "other-key", last)

	cand := signal.Candidate{
		UserID: "zaldy", EventType: signal.TypeRiskRadar,
		EntityKind: "task", EntityID: "t-3", HoursLeft: hours(30),
	}

	inside := last.Add(cooldown - time.Second)
	dec, err := g.Evaluate(ctx, cand, inside, clock.Resolve(inside, 7))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonCooldown {
		t.Fatalf("expected cooldown denial one second inside the window, got %+v", dec)
	}

	outside := last.Add(cooldown + time.Second)
	dec, err = g.Evaluate(ctx, cand, outside, clock.Resolve(outside, 7))
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Fatalf("expected pass one second outside the window, got %+v", dec)
	}
}

func TestFatigueSamplingDeterministic(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	// Three unanswered sends in a row trip the fatigue detector. Old enough
	// that no family cooldown interferes with the candidate below.
	for i := 0; i < g.Cfg.Engine.FatigueThreshold; i++ {
		sent(t, g, "zaldy", FamilyStudy, string(rune('a'+i)), now.Add(-time.Duration(20+i)*time.Hour))
	}

	cand := signal.Candidate{UserID: "zaldy", EventType: signal.TypeMoodDropAlert, EntityKind: "general"}
	want := ReasonOK
	if DefaultSample("zaldy", FamilyPartner, w.HourBucket)%2 != 0 {
		want = ReasonFatigue
	}
	for i := 0; i < 3; i++ {
		dec, err := g.Evaluate(ctx, cand, now, w)
		if err != nil {
			t.Fatal(err)
		}
		if dec.Reason != want {
			t.Fatalf("run %d: reason = %q, want %q", i, dec.Reason, want)
		}
	}
}

func TestEngagementResetsFatigue(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)

	for i := 0; i < g.Cfg.Engine.FatigueThreshold; i++ {
		sent(t, g, "zaldy", FamilyStudy, string(rune('a'+i)), now.Add(-time.Duration(20+i)*time.Hour))
	}
	if err := g.Repo.AppendActivity(ctx, domain.ActivityEvent{
		UserID: "zaldy", Kind: domain.ActivityPushOpened, CreatedAt: now.Add(-10 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	cand := signal.Candidate{UserID: "zaldy", EventType: signal.TypeMoodDropAlert, EntityKind: "general"}
	dec, err := g.Evaluate(ctx, cand, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Fatalf("expected engagement to clear the fatigue streak, got %+v", dec)
	}
}

func TestEvaluateFailsClosedOnBadInput(t *testing.T) {
	g := newTestGate(t)
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	dec, err := g.Evaluate(context.Background(), signal.Candidate{}, now, clock.Resolve(now, 7))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonInvalid {
		t.Fatalf("expected invalid denial, got %+v", dec)
	}
}

func TestFamilyFor(t *testing.T) {
	cases := map[string]string{
		signal.TypeUrgentWarning:  FamilyUrgent,
		signal.TypeUrgentCritical: FamilyUrgent,
		signal.TypeUrgentOverdue:  FamilyUrgent,
		signal.TypePartnerPing:    FamilyPartner,
		signal.TypeMoodDropAlert:  FamilyPartner,
		signal.TypeAssistOffer:    FamilyPartner,
		signal.TypeRiskRadar:      FamilyStudy,
		signal.TypeDriftFollowup:  FamilyExecution,
		signal.TypeDailyClose:     FamilyDailyClose,
		signal.TypeMorningBrief:   FamilyReminder,
		signal.TypeFocusNext:      FamilyReminder,
		signal.TypeMoodSelfCare:   FamilyGeneral,
	}
	for eventType, family := range cases {
		if got := FamilyFor(eventType); got != family {
			t.Errorf("FamilyFor(%s) = %s, want %s", eventType, got, family)
		}
	}
}

func TestHorizonBucket(t *testing.T) {
	if got := horizonBucket(nil); got != "na" {
		t.Fatalf("nil hours = %q", got)
	}
	cases := []struct {
		hours float64
		want  string
	}{
		{-2, "overdue"},
		{0, "overdue"},
		{12, "<=24h"},
		{24, "<=24h"},
		{36, "<=48h"},
		{72, ">48h"},
	}
	for _, tc := range cases {
		if got := horizonBucket(hours(tc.hours)); got != tc.want {
			t.Errorf("horizonBucket(%v) = %q, want %q", tc.hours, got, tc.want)
		}
	}
}
