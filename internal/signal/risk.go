package signal

// Risk bands derived from a numeric score.
const (
	BandLow      = "low"
	BandMedium   = "medium"
	BandHigh     = "high"
	BandCritical = "critical"
)

// Assessment is the deadline-risk verdict for one work item. Recomputed on
// every pass; only ever persisted inside event payloads.
type Assessment struct {
	Score     int     `json:"risk_score"`
	Band      string  `json:"risk_band"`
	HoursLeft float64 `json:"hours_left"`
}

// Assess scores an item from its time budget, priority and kind. Assignments
// skew riskier; they are dated deliverables with external graders.
func Assess(hoursLeft float64, priority, kind string) Assessment {
	score := baseScore(hoursLeft)
	switch priority {
	case "high":
		score += 14
	case "medium":
		score += 6
	}
	if kind == "assignment" {
		score += 6
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Assessment{Score: score, Band: bandFor(score), HoursLeft: hoursLeft}
}

func baseScore(hoursLeft float64) int {
	switch {
	case hoursLeft <= 0:
		return 85
	case hoursLeft <= 6:
		return 70
	case hoursLeft <= 12:
		return 56
	case hoursLeft <= 24:
		return 42
	case hoursLeft <= 48:
		return 30
	default:
		return 18
	}
}

func bandFor(score int) string {
	switch {
	case score >= 75:
		return BandCritical
	case score >= 55:
		return BandHigh
	case score >= 35:
		return BandMedium
	default:
		return BandLow
	}
}
