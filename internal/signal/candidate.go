// Package signal holds the collectors that turn the household's outstanding
// work and mood history into candidate proactive events. Collectors only
// read; emission and admission happen in the engine.
package signal

import "time"

// Event types produced by the collectors.
const (
	TypeUrgentWarning  = "urgent_radar_warning"
	TypeUrgentCritical = "urgent_radar_critical"
	TypeUrgentOverdue  = "urgent_radar_overdue"
	TypePartnerPing    = "partner_support_ping"
	TypeRiskRadar      = "risk_radar"
	TypeMoodSelfCare   = "mood_selfcare"
	TypeMoodDropAlert  = "mood_drop_alert"
	TypeMorningBrief   = "morning_brief"
	TypeDailyClose     = "daily_close"
	TypeAssistOffer    = "couple_assist_offer"
	TypeFocusNext      = "couple_focus_next"
	TypeDriftFollowup  = "drift_followup"
)

// Candidate is a proactive event a collector wants raised for a user. The
// engine decides whether it is new (emission) and whether it may interrupt
// (admission).
type Candidate struct {
	Collector  string
	UserID     string
	EventType  string
	EventKey   string
	Level      string
	Title      string
	Body       string
	TargetURL  string
	DedupKey   string // optional; policy derives one when empty
	EntityKind string // task, assignment, study_session or general
	EntityID   string
	HoursLeft  *float64
	Payload    map[string]any
}

func hoursPtr(v float64) *float64 { return &v }

func minutesUntil(now, deadline time.Time) float64 {
	return deadline.Sub(now).Minutes()
}
