// Package clock resolves UTC instants into the household's local calendar
// window. The household runs on one fixed UTC offset, so resolution is pure
// arithmetic with no zoneinfo lookups.
package clock

import (
	"fmt"
	"time"
)

// Window is the local calendar context for one engine pass. All "today" and
// "due within N hours" comparisons downstream use these bounds rather than
// raw UTC.
type Window struct {
	LocalDate   string    // YYYY-MM-DD in local wall-clock terms
	Hour        int       // 0-23 local
	Weekday     int       // ISO: Monday=1 .. Sunday=7
	DayStartUTC time.Time // UTC instant of local 00:00
	DayEndUTC   time.Time // UTC instant of next local 00:00
	HourBucket  string    // LocalDate + "-" + HH, scopes hourly dedup keys
}

// Resolve computes the local window for now under a fixed offset in hours.
func Resolve(now time.Time, offsetHours int) Window {
	offset := time.Duration(offsetHours) * time.Hour
	local := now.UTC().Add(offset)
	y, m, d := local.Date()
	dayStartLocal := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	date := local.Format("2006-01-02")
	return Window{
		LocalDate:   date,
		Hour:        local.Hour(),
		Weekday:     weekday,
		DayStartUTC: dayStartLocal.Add(-offset),
		DayEndUTC:   dayStartLocal.Add(24 * time.Hour).Add(-offset),
		HourBucket:  fmt.Sprintf("%s-%02d", date, local.Hour()),
	}
}
