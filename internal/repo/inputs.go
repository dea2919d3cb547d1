package repo

import (
	"context"
	"database/sql"
	"time"

	"tandem/internal/domain"
)

// MoodWindow returns the average mood and sample count inside [from, to).
func (r Repo) MoodWindow(ctx context.Context, userID string, from, to time.Time) (float64, int, error) {
	var avg sql.NullFloat64
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT AVG(mood), COUNT(*) FROM mood_entries
		WHERE user_id=? AND created_at>=? AND created_at<?`,
		userID, from.UTC().Format(tsFormat), to.UTC().Format(tsFormat)).Scan(&avg, &n)
	if err != nil {
		return 0, 0, err
	}
	if !avg.Valid {
		return 0, n, nil
	}
	return avg.Float64, n, nil
}

func (r Repo) InsertMood(ctx context.Context, m domain.MoodEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO mood_entries(id,user_id,mood,created_at) VALUES (?,?,?,?)`,
		m.ID, m.UserID, m.Mood, m.CreatedAt.UTC().Format(tsFormat))
	return err
}

// NextScheduleBlock finds the user's next block today starting at or after
// afterMinute (minutes since local midnight).
func (r Repo) NextScheduleBlock(ctx context.Context, userID string, weekday, afterMinute int) (domain.ScheduleBlock, bool, error) {
	var b domain.ScheduleBlock
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,title,weekday,start_minute,end_minute FROM schedule_blocks
		WHERE user_id=? AND weekday=? AND start_minute>=? ORDER BY start_minute ASC LIMIT 1`,
		userID, weekday, afterMinute).
		Scan(&b.ID, &b.UserID, &b.Title, &b.Weekday, &b.StartMinute, &b.EndMinute)
	if err == sql.ErrNoRows {
		return b, false, nil
	}
	if err != nil {
		return b, false, err
	}
	return b, true, nil
}

func (r Repo) InsertScheduleBlock(ctx context.Context, b domain.ScheduleBlock) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO schedule_blocks(id,user_id,title,weekday,start_minute,end_minute) VALUES (?,?,?,?,?,?)`,
		b.ID, b.UserID, b.Title, b.Weekday, b.StartMinute, b.EndMinute)
	return err
}
