package clock_test

import (
	"testing"
	"time"

	"tandem/internal/clock"
)

func TestResolvePositiveOffset(t *testing.T) {
	// 2026-03-01 20:30 UTC at +7 is 2026-03-02 03:30 local.
	now := time.Date(2026, 3, 1, 20, 30, 0, 0, time.UTC)
	w := clock.Resolve(now, 7)
	if w.LocalDate != "2026-03-02" {
		t.Fatalf("local date = %s", w.LocalDate)
	}
	if w.Hour != 3 {
		t.Fatalf("hour = %d", w.Hour)
	}
	// 2026-03-02 is a Monday.
	if w.Weekday != 1 {
		t.Fatalf("weekday = %d", w.Weekday)
	}
	wantStart := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	if !w.DayStartUTC.Equal(wantStart) {
		t.Fatalf("day start = %v", w.DayStartUTC)
	}
	if !w.DayEndUTC.Equal(wantStart.Add(24 * time.Hour)) {
		t.Fatalf("day end = %v", w.DayEndUTC)
	}
	if w.HourBucket != "2026-03-02-03" {
		t.Fatalf("hour bucket = %s", w.HourBucket)
	}
}

func TestResolveSundayIsSeven(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, 0)
	if w.Weekday != 7 {
		t.Fatalf("weekday = %d", w.Weekday)
	}
}

func TestResolveNegativeOffset(t *testing.T) {
	// 2026-03-02 01:00 UTC at -5 is 2026-03-01 20:00 local.
	now := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	w := clock.Resolve(now, -5)
	if w.LocalDate != "2026-03-01" || w.Hour != 20 {
		t.Fatalf("window = %+v", w)
	}
	if !w.DayStartUTC.Equal(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("day start = %v", w.DayStartUTC)
	}
}

func TestResolveDeterministic(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 45, 12, 0, time.UTC)
	a := clock.Resolve(now, 7)
	b := clock.Resolve(now, 7)
	if a != b {
		t.Fatalf("resolve not deterministic: %+v vs %+v", a, b)
	}
}
