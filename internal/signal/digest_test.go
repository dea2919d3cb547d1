package signal

import (
	"context"
	"strings"
	"testing"
	"time"

	"tandem/internal/clock"
	"tandem/internal/domain"
)

func TestMorningBriefInWindow(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC) // 08:00 local, Monday
	w := clock.Resolve(now, 7)

	env.addTask(t, "submit-form", "zaldy", deadlineIn(now, 3*time.Hour), "high", now)
	env.addTask(t, "someday", "zaldy", nil, "low", now)
	if err := env.repo.InsertScheduleBlock(ctx, domain.ScheduleBlock{
		ID: "b1", UserID: "zaldy", Title: "Linear Algebra", Weekday: 1, StartMinute: 9 * 60, EndMinute: 10 * 60,
	}); err != nil {
		t.Fatal(err)
	}

	b := MorningBrief{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := b.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.EventType != TypeMorningBrief || c.EventKey != w.LocalDate {
		t.Fatalf("candidate = %+v", c)
	}
	if c.Payload["pending"] != 2 || c.Payload["due_today"] != 1 {
		t.Fatalf("payload counts = %+v", c.Payload)
	}
	if c.Payload["highlight_item"] != "submit-form" {
		t.Fatalf("highlight = %v", c.Payload["highlight_item"])
	}
	if !strings.Contains(c.Body, "Linear Algebra") {
		t.Fatalf("body should mention the next class: %q", c.Body)
	}
}

func TestMorningBriefQuietOutsideWindow(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // 14:00 local
	w := clock.Resolve(now, 7)

	env.addTask(t, "anything", "zaldy", deadlineIn(now, 3*time.Hour), "high", now)
	b := MorningBrief{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := b.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("brief outside the morning window: %+v", cands)
	}
}

func TestDailyCloseSummarizesDay(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC) // 21:00 local
	w := clock.Resolve(now, 7)

	env.addTask(t, "done-today", "zaldy", deadlineIn(now, -2*time.Hour), "medium", now.Add(-8*time.Hour))
	if err := env.repo.CompleteWorkItem(ctx, "task", "done-today", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	env.addTask(t, "tomorrow-first", "zaldy", deadlineIn(now, 14*time.Hour), "high", now.Add(-8*time.Hour))

	d := DailyClose{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := d.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.EventType != TypeDailyClose || c.EventKey != w.LocalDate {
		t.Fatalf("candidate = %+v", c)
	}
	if c.Payload["completed_today"] != 1 || c.Payload["pending"] != 1 || c.Payload["due_24h"] != 1 {
		t.Fatalf("payload counts = %+v", c.Payload)
	}
	if c.Payload["first_action_item"] != "tomorrow-first" {
		t.Fatalf("first action = %v", c.Payload["first_action_item"])
	}
	if !strings.Contains(c.Body, "tomorrow-first") {
		t.Fatalf("body should name tomorrow's first action: %q", c.Body)
	}
}

func TestDailyCloseQuietOutsideWindow(t *testing.T) {
	env := newSignalEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // 14:00 local
	w := clock.Resolve(now, 7)

	d := DailyClose{Repo: env.repo, Own: env.own, Cfg: env.cfg}
	cands, err := d.Collect(ctx, env.zaldy, now, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("close outside the evening window: %+v", cands)
	}
}
