package repo

import (
	"context"
	"database/sql"
	"time"

	"tandem/internal/domain"
)

// AppendActivity writes one entry to the append-only engagement log.
func (r Repo) AppendActivity(ctx context.Context, ev domain.ActivityEvent) error {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return err
	}
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO activity_log(user_id,kind,entity_kind,entity_id,family,dedup_key,payload_json,created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		ev.UserID, ev.Kind, nullable(ev.EntityKind), nullable(ev.EntityID),
		nullable(ev.Family), nullable(ev.DedupKey), payload, ts.UTC().Format(tsFormat))
	return err
}

// CountActivitySince counts entries of one kind for a user after since.
func (r Repo) CountActivitySince(ctx context.Context, userID, kind string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log WHERE user_id=? AND kind=? AND created_at>=?`,
		userID, kind, since.UTC().Format(tsFormat)).Scan(&n)
	return n, err
}

// CountNonPushActivitySince measures raw UI activity intensity: every entry
// that is not engine-originated push accounting.
func (r Repo) CountNonPushActivitySince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log
		WHERE user_id=? AND kind NOT IN (?,?) AND created_at>=?`,
		userID, domain.ActivityPushSent, domain.ActivityPushIgnored, since.UTC().Format(tsFormat)).Scan(&n)
	return n, err
}

// HasSentWithDedup reports whether a push_sent entry with the dedup key
// exists after since.
func (r Repo) HasSentWithDedup(ctx context.Context, userID, dedupKey string, since time.Time) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log
		WHERE user_id=? AND kind=? AND dedup_key=? AND created_at>=?`,
		userID, domain.ActivityPushSent, dedupKey, since.UTC().Format(tsFormat)).Scan(&n)
	return n > 0, err
}

// LastSentForFamily returns the timestamp of the most recent push_sent entry
// tagged with family, if any.
func (r Repo) LastSentForFamily(ctx context.Context, userID, family string) (time.Time, bool, error) {
	var ts string
	err := r.DB.QueryRowContext(ctx, `SELECT created_at FROM activity_log
		WHERE user_id=? AND kind=? AND family=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, domain.ActivityPushSent, family).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTS(ts)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// LastSentForFamilyEntity is LastSentForFamily narrowed to one entity; used
// to suppress repeated drift followups about the same item.
func (r Repo) LastSentForFamilyEntity(ctx context.Context, userID, family, entityID string) (time.Time, bool, error) {
	var ts string
	err := r.DB.QueryRowContext(ctx, `SELECT created_at FROM activity_log
		WHERE user_id=? AND kind=? AND family=? AND entity_id=? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, domain.ActivityPushSent, family, entityID).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := parseTS(ts)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// RecentPushKinds returns the kinds of the most recent push-related entries,
// newest first, for fatigue detection.
func (r Repo) RecentPushKinds(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind FROM activity_log
		WHERE user_id=? AND kind IN (?,?,?,?,?) ORDER BY id DESC LIMIT ?`,
		userID, domain.ActivityPushSent, domain.ActivityPushOpened,
		domain.ActivityPushActionStart, domain.ActivityPushActionSnooze, domain.ActivityPushActionDone,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// CountEntityActivitySince counts entries of one kind referencing an entity,
// e.g. snoozes of a specific item.
func (r Repo) CountEntityActivitySince(ctx context.Context, userID, kind, entityID string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log
		WHERE user_id=? AND kind=? AND entity_id=? AND created_at>=?`,
		userID, kind, entityID, since.UTC().Format(tsFormat)).Scan(&n)
	return n, err
}

// StartedItem is an item the user marked started, from the activity log.
type StartedItem struct {
	EntityKind string
	EntityID   string
	StartedAt  time.Time
}

// StartedUnfinished finds items started inside [from, to] with no completion
// entry after the start. Both explicit item_started entries and
// push_action_start taps count as start markers.
func (r Repo) StartedUnfinished(ctx context.Context, userID string, from, to time.Time) ([]StartedItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT a.entity_kind, a.entity_id, MAX(a.created_at)
		FROM activity_log a
		WHERE a.user_id=? AND a.kind IN (?,?) AND a.entity_id IS NOT NULL
		  AND a.created_at>=? AND a.created_at<=?
		  AND NOT EXISTS (
			SELECT 1 FROM activity_log d
			WHERE d.user_id=a.user_id AND d.entity_id=a.entity_id
			  AND d.kind IN (?,?) AND d.created_at>=a.created_at
		  )
		GROUP BY a.entity_kind, a.entity_id`,
		userID, domain.ActivityItemStarted, domain.ActivityPushActionStart,
		from.UTC().Format(tsFormat), to.UTC().Format(tsFormat),
		domain.ActivityItemDone, domain.ActivityPushActionDone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StartedItem
	for rows.Next() {
		var it StartedItem
		var kind sql.NullString
		var ts string
		if err := rows.Scan(&kind, &it.EntityID, &ts); err != nil {
			return nil, err
		}
		if kind.Valid {
			it.EntityKind = kind.String
		}
		t, err := parseTS(ts)
		if err != nil {
			continue
		}
		it.StartedAt = t
		res = append(res, it)
	}
	return res, rows.Err()
}
