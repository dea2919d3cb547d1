package domain

import "time"

// Severity levels carried by proactive events.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Activity kinds recorded in the append-only activity log.
const (
	ActivityPushSent         = "push_sent"
	ActivityPushIgnored      = "push_ignored"
	ActivityPushOpened       = "push_opened"
	ActivityPushActionStart  = "push_action_start"
	ActivityPushActionSnooze = "push_action_snooze"
	ActivityPushActionDone   = "push_action_done"
	ActivityItemStarted      = "item_started"
	ActivityItemDone         = "item_done"
	ActivityAppActive        = "app_active"
)

type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	PartnerID *string `json:"partner_id,omitempty"`
	Active    bool    `json:"active"`
}

// WorkItem is a task or assignment row projected into the shape the
// collectors need. Kind is "task" or "assignment".
type WorkItem struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Title    string     `json:"title"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Priority string     `json:"priority"`
	Status   string     `json:"status"`
}

type ScheduleBlock struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
}

type MoodEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Mood      float64   `json:"mood"`
	CreatedAt time.Time `json:"created_at"`
}

// ProactiveEvent records that a signal fired for a user on a local day.
// The tuple (user_id, event_type, event_key, local_date) is unique in the
// store; repeated inserts of the same tuple are no-ops.
type ProactiveEvent struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	EventType   string         `json:"event_type"`
	EventKey    string         `json:"event_key"`
	Level       string         `json:"level"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	TargetURL   string         `json:"target_url,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	LocalDate   string         `json:"local_date"`
	Delivered   bool           `json:"delivered"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ActivityEvent is one entry of the append-only engagement log. Family and
// DedupKey are set on push_sent entries so admission checks can query them
// directly; Payload carries the rest of the trace.
type ActivityEvent struct {
	ID         int64          `json:"id"`
	UserID     string         `json:"user_id"`
	Kind       string         `json:"kind"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Family     string         `json:"family,omitempty"`
	DedupKey   string         `json:"dedup_key,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256DH    string    `json:"p256dh,omitempty"`
	Auth      string    `json:"auth,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
