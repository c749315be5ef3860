package core

import "time"

// AlertKind classifies a normalized alert. The set is closed; connectors
// never invent new kinds at runtime.
type AlertKind string

const (
	KindFollow       AlertKind = "follow"
	KindSubscription AlertKind = "subscription"
	KindDonation     AlertKind = "donation"
	KindRaid         AlertKind = "raid"
)

// DefaultDisplayDuration is applied by the display driver when an alert
// carries no duration of its own.
const DefaultDisplayDuration = 3 * time.Second

// Alert is the unified structure every upstream event is translated into
// before it reaches the queue. ID is minted at ingestion time, never taken
// from upstream. Message, Amount, Currency, DisplayDurationMs and AvatarRef
// are optional for every kind; consumers must tolerate their absence.
type Alert struct {
	ID                string    `json:"id"`
	Kind              AlertKind `json:"type"`
	SubjectName       string    `json:"username"`
	Message           string    `json:"message,omitempty"`
	Amount            float64   `json:"amount,omitempty"`
	Currency          string    `json:"currency,omitempty"`
	DisplayDurationMs int       `json:"duration,omitempty"`
	AvatarRef         string    `json:"image,omitempty"`
}

// DisplayDuration returns the per-alert display time, falling back to
// DefaultDisplayDuration when the alert does not specify one.
func (a Alert) DisplayDuration() time.Duration {
	if a.DisplayDurationMs > 0 {
		return time.Duration(a.DisplayDurationMs) * time.Millisecond
	}
	return DefaultDisplayDuration
}

// ValidKind reports whether k belongs to the closed set of alert kinds.
func ValidKind(k AlertKind) bool {
	switch k {
	case KindFollow, KindSubscription, KindDonation, KindRaid:
		return true
	}
	return false
}
