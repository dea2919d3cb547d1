package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tandem/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const tsFormat = time.RFC3339

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(tsFormat)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsFormat, s)
}

func marshalPayload(p map[string]any) (any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil
	}
	return p
}

func (r Repo) ListActiveUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,partner_id,active FROM users WHERE active=1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var partner sql.NullString
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &partner, &active); err != nil {
			return nil, err
		}
		if partner.Valid {
			u.PartnerID = &partner.String
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var partner sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,partner_id,active FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &partner, &active)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if partner.Valid {
		u.PartnerID = &partner.String
	}
	u.Active = active == 1
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	var partner any
	if u.PartnerID != nil {
		partner = *u.PartnerID
	}
	active := 0
	if u.Active {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,partner_id,active) VALUES (?,?,?,?)`,
		u.ID, u.Name, partner, active)
	return err
}

// InsertProactiveEvent attempts the idempotent insert. A conflict on the
// (user_id, event_type, event_key, local_date) unique index is absorbed by
// OR IGNORE and reported as inserted=false, never as an error.
func (r Repo) InsertProactiveEvent(ctx context.Context, ev domain.ProactiveEvent) (bool, error) {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO proactive_events
		(id,user_id,event_type,event_key,level,title,body,target_url,payload_json,local_date,delivered,delivered_at,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,0,NULL,?)`,
		ev.ID, ev.UserID, ev.EventType, ev.EventKey, ev.Level, ev.Title, ev.Body,
		nullable(ev.TargetURL), payload, ev.LocalDate, ev.CreatedAt.UTC().Format(tsFormat))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkDelivered flips delivered/delivered_at on confirmed transport success.
func (r Repo) MarkDelivered(ctx context.Context, eventID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE proactive_events SET delivered=1, delivered_at=? WHERE id=?`,
		at.UTC().Format(tsFormat), eventID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestProactiveEvents returns the recent feed for one user, newest first.
// Cursor is the rowid of the oldest row of the previous page; 0 starts at
// the top.
func (r Repo) LatestProactiveEvents(ctx context.Context, userID string, limit int, cursor int64) ([]domain.ProactiveEvent, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT rowid,id,user_id,event_type,event_key,level,title,body,target_url,payload_json,local_date,delivered,delivered_at,created_at
		FROM proactive_events WHERE user_id=?`
	args := []any{userID}
	if cursor > 0 {
		query += ` AND rowid<?`
		args = append(args, cursor)
	}
	query += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.ProactiveEvent
	var last int64
	for rows.Next() {
		var ev domain.ProactiveEvent
		var rowid int64
		var target, deliveredAt, payload sql.NullString
		var delivered int
		var created string
		if err := rows.Scan(&rowid, &ev.ID, &ev.UserID, &ev.EventType, &ev.EventKey, &ev.Level, &ev.Title, &ev.Body,
			&target, &payload, &ev.LocalDate, &delivered, &deliveredAt, &created); err != nil {
			return nil, 0, err
		}
		if target.Valid {
			ev.TargetURL = target.String
		}
		ev.Payload = unmarshalPayload(payload)
		ev.Delivered = delivered == 1
		if deliveredAt.Valid {
			if t, err := parseTS(deliveredAt.String); err == nil {
				ev.DeliveredAt = &t
			}
		}
		if t, err := parseTS(created); err == nil {
			ev.CreatedAt = t
		}
		last = rowid
		res = append(res, ev)
	}
	return res, last, rows.Err()
}

func (r Repo) ListSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,endpoint,p256dh,auth,created_at FROM push_subscriptions WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PushSubscription
	for rows.Next() {
		var s domain.PushSubscription
		var p256, auth sql.NullString
		var created string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &p256, &auth, &created); err != nil {
			return nil, err
		}
		if p256.Valid {
			s.P256DH = p256.String
		}
		if auth.Valid {
			s.Auth = auth.String
		}
		if t, err := parseTS(created); err == nil {
			s.CreatedAt = t
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) InsertSubscription(ctx context.Context, s domain.PushSubscription) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO push_subscriptions(id,user_id,endpoint,p256dh,auth,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.UserID, s.Endpoint, nullable(s.P256DH), nullable(s.Auth), s.CreatedAt.UTC().Format(tsFormat))
	return err
}

// DeleteSubscription removes a dead subscription after a permanent delivery
// failure.
func (r Repo) DeleteSubscription(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id=?`, id)
	return err
}
