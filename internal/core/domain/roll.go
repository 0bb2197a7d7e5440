package domain

import "time"

// RollStatus is the lifecycle state of a speed roll. A pending roll moves to
// exactly one terminal status and never transitions again.
type RollStatus string

const (
	RollStatusPending  RollStatus = "pending"
	RollStatusAccepted RollStatus = "accepted"
	RollStatusDeclined RollStatus = "declined"
	RollStatusExpired  RollStatus = "expired"
)

// SpeedRoll is a time-boxed invitation to start a call, issued against the
// issuer's daily quota. Records are kept after they close (audit trail).
type SpeedRoll struct {
	ID                 string     `json:"roll_id"`
	IssuerID           UserID     `json:"issuer_id"`
	TargetID           UserID     `json:"target_id"`
	CompatibilityScore float64    `json:"compatibility_score"`
	Status             RollStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	RespondedAt        *time.Time `json:"responded_at,omitempty"`
}

// Terminal reports whether the roll has reached a final status.
func (r *SpeedRoll) Terminal() bool {
	return r.Status != RollStatusPending
}

// DefaultDailyQuota is the number of speed rolls a user may issue per day.
const DefaultDailyQuota = 5

// DailyRollQuota tracks one user's remaining rolls for one UTC day.
// Invariant: 0 <= Remaining <= quota maximum.
type DailyRollQuota struct {
	UserID    UserID `json:"user_id"`
	Day       string `json:"day"`
	Remaining int    `json:"remaining"`
}

// QuotaDay returns the quota bucket key for t. Day boundaries are UTC
// calendar days; per-user timezones are a directory concern, not ours.
func QuotaDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
