package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tandem/internal/config"
	"tandem/internal/db"
	"tandem/internal/domain"
	"tandem/internal/migrate"
	"tandem/internal/push"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []push.Message
	gone map[string]bool
}

func (f *fakeSender) Deliver(ctx context.Context, sub domain.PushSubscription, msg push.Message) error {
	if f.gone[sub.Endpoint] {
		return push.ErrSubscriptionGone
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine(t *testing.T) (Engine, *fakeSender) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	cfg := config.Default()
	cfg.Push.TokenSecret = "test-secret"
	sender := &fakeSender{gone: map[string]bool{}}
	e := New(conn, cfg, zap.NewNop(), sender)
	return e, sender
}

func seedHousehold(t *testing.T, e Engine, withSubs bool) {
	t.Helper()
	ctx := context.Background()
	zp, np := "nesya", "zaldy"
	for _, u := range []domain.User{
		{ID: "zaldy", Name: "Zaldy", PartnerID: &zp, Active: true},
		{ID: "nesya", Name: "Nesya", PartnerID: &np, Active: true},
	} {
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
		if withSubs {
			if err := e.Repo.InsertSubscription(ctx, domain.PushSubscription{
				ID: "sub-" + u.ID, UserID: u.ID, Endpoint: "https://push/" + u.ID, CreatedAt: time.Now(),
			}); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func addTask(t *testing.T, e Engine, id, owner string, deadline time.Time, priority string, now time.Time) {
	t.Helper()
	item := domain.WorkItem{ID: id, Kind: "task", Title: id, Deadline: &deadline, Priority: priority, Status: "pending"}
	if err := e.Repo.InsertWorkItem(context.Background(), item, owner, owner, now); err != nil {
		t.Fatal(err)
	}
}

// A task due in 20 minutes: the urgent radar raises a critical event plus a
// partner ping, both pass admission, and the load gap adds a couple-sync
// pair. A repeat pass at the same instant changes nothing.
func TestRunPassUrgentScenario(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // 14:00 local
	seedHousehold(t, e, true)
	addTask(t, e, "electric-bill", "zaldy", now.Add(20*time.Minute), "high", now)

	report, err := e.RunPass(ctx, now, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.UsersProcessed != 2 {
		t.Fatalf("users processed = %d", report.UsersProcessed)
	}
	if s := report.Stats["urgent_radar"]; s.Emitted != 2 || s.Duplicates != 0 {
		t.Fatalf("urgent radar stats = %+v", s)
	}
	if s := report.Stats["couple_sync"]; s.Emitted != 2 {
		t.Fatalf("couple sync stats = %+v", s)
	}
	// Critical event, partner ping and focus nudge go out; the assist offer
	// lands in the partner-family cooldown behind the ping.
	if report.Delivered != 3 {
		t.Fatalf("delivered = %d, want 3 (denied: %+v)", report.Delivered, report.Denied)
	}
	if report.Denied["cooldown"] != 1 {
		t.Fatalf("denied = %+v", report.Denied)
	}
	if sender.count() != 3 {
		t.Fatalf("sender saw %d messages", sender.count())
	}

	sentZaldy, err := e.Repo.CountActivitySince(ctx, "zaldy", domain.ActivityPushSent, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	sentNesya, err := e.Repo.CountActivitySince(ctx, "nesya", domain.ActivityPushSent, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sentZaldy != 2 || sentNesya != 1 {
		t.Fatalf("push_sent rows: zaldy=%d nesya=%d", sentZaldy, sentNesya)
	}

	// Second pass at the same instant: every key already exists, nothing new
	// is delivered.
	report2, err := e.RunPass(ctx, now, true)
	if err != nil {
		t.Fatal(err)
	}
	if s := report2.Stats["urgent_radar"]; s.Emitted != 0 || s.Duplicates != 2 {
		t.Fatalf("repeat urgent radar stats = %+v", s)
	}
	if s := report2.Stats["couple_sync"]; s.Duplicates != 2 {
		t.Fatalf("repeat couple sync stats = %+v", s)
	}
	if report2.Delivered != 0 || sender.count() != 3 {
		t.Fatalf("repeat pass delivered %d, sender total %d", report2.Delivered, sender.count())
	}
}

// With the daily budget exhausted, only urgent deadline work still goes out.
func TestRunPassDailyCap(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	seedHousehold(t, e, true)
	addTask(t, e, "electric-bill", "zaldy", now.Add(20*time.Minute), "high", now)
	addTask(t, e, "quiz-prep", "zaldy", now.Add(10*time.Hour), "high", now)

	for i := 0; i < e.Config.Engine.DailyPushCap; i++ {
		if err := e.Repo.AppendActivity(ctx, domain.ActivityEvent{
			UserID: "zaldy", Kind: domain.ActivityPushSent, Family: "daily_close",
			DedupKey: string(rune('a' + i)), CreatedAt: now.Add(-time.Duration(i+1) * time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := e.RunPass(ctx, now, true)
	if err != nil {
		t.Fatal(err)
	}
	// The urgent critical event and the partner ping get through; the risk
	// radar event and the focus nudge hit zaldy's exhausted budget.
	if report.Denied["daily_cap"] != 2 {
		t.Fatalf("denied = %+v", report.Denied)
	}
	if report.Delivered != 2 {
		t.Fatalf("delivered = %d, want urgent push and partner ping only", report.Delivered)
	}
	ignored, err := e.Repo.CountActivitySince(ctx, "zaldy", domain.ActivityPushIgnored, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ignored != 2 {
		t.Fatalf("push_ignored rows = %d", ignored)
	}
}

func TestRunPassDryRunEmitsWithoutDelivering(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	seedHousehold(t, e, true)
	addTask(t, e, "electric-bill", "zaldy", now.Add(20*time.Minute), "high", now)

	report, err := e.RunPass(ctx, now, false)
	if err != nil {
		t.Fatal(err)
	}
	emitted := 0
	for _, s := range report.Stats {
		emitted += s.Emitted
	}
	if emitted != 4 {
		t.Fatalf("emitted = %d, want 4", emitted)
	}
	if report.Delivered != 0 || sender.count() != 0 {
		t.Fatalf("dry run delivered %d, sender saw %d", report.Delivered, sender.count())
	}
	var activities int
	if err := e.DB.QueryRow(`SELECT COUNT(*) FROM activity_log`).Scan(&activities); err != nil {
		t.Fatal(err)
	}
	if activities != 0 {
		t.Fatalf("dry run wrote %d activity rows", activities)
	}

	// The events exist, so a later live pass treats them as duplicates.
	report2, err := e.RunPass(ctx, now, true)
	if err != nil {
		t.Fatal(err)
	}
	if report2.Delivered != 0 {
		t.Fatalf("live pass after dry run delivered %d", report2.Delivered)
	}
}

func TestRunPassCleansDeadSubscriptions(t *testing.T) {
	e, sender := newTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	seedHousehold(t, e, false)
	if err := e.Repo.InsertSubscription(ctx, domain.PushSubscription{
		ID: "sub-dead", UserID: "zaldy", Endpoint: "https://push/dead", CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	sender.gone["https://push/dead"] = true
	addTask(t, e, "electric-bill", "zaldy", now.Add(20*time.Minute), "high", now)

	report, err := e.RunPass(ctx, now, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Delivered != 0 {
		t.Fatalf("delivered = %d through a dead endpoint", report.Delivered)
	}
	subs, err := e.Repo.ListSubscriptions(ctx, "zaldy")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Fatalf("dead subscription not cleaned up: %+v", subs)
	}
	// No confirmed transport success, so no push_sent accounting either.
	sent, err := e.Repo.CountActivitySince(ctx, "zaldy", domain.ActivityPushSent, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 {
		t.Fatalf("push_sent rows = %d", sent)
	}
}
