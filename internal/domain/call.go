package domain

import "time"

// CallStatus represents the current status of a ride request.
type CallStatus string

const (
	CallStatusOpen      CallStatus = "Open"
	CallStatusAccepted  CallStatus = "Accepted"
	CallStatusCompleted CallStatus = "Completed"
	CallStatusCancelled CallStatus = "Cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusCancelled
}

// CanTransitionTo reports whether the call state machine permits moving
// from s to next. Open -> Accepted -> Completed; Open and Accepted may
// also be cancelled.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallStatusOpen:
		return next == CallStatusAccepted || next == CallStatusCancelled
	case CallStatusAccepted:
		return next == CallStatusCompleted || next == CallStatusCancelled
	default:
		return false
	}
}

// CallStaleness is the age beyond which a call is excluded from any
// open-calls listing regardless of its stored status.
const CallStaleness = 12 * time.Hour

// Call is a ride request published by a customer. It is owned by its
// initiator until accepted, then jointly referenced by the accepting
// driver. Terminal calls are not deleted, only filtered out of listings.
type Call struct {
	CallID         string     `json:"call_id"`
	InitiatorID    string     `json:"initiator_id"`
	InitiatorRole  Role       `json:"initiator_role"`
	PickupLat      float64    `json:"pickup_lat"`
	PickupLng      float64    `json:"pickup_lng"`
	DestLat        float64    `json:"dest_lat,omitempty"`
	DestLng        float64    `json:"dest_lng,omitempty"`
	PassengerCount int        `json:"passenger_count"`
	OfferPrice     float64    `json:"offer_price"`
	Status         CallStatus `json:"status"`
	AcceptedBy     string     `json:"accepted_by,omitempty"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StaleAt reports whether the call is older than the staleness window
// relative to the given time. Calls with a zero CreatedAt are treated as
// fresh rather than hiding possibly valid data.
func (c Call) StaleAt(now time.Time, window time.Duration) bool {
	if c.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(c.CreatedAt) >= window
}

// Active reports whether the call is still in flight for one of its
// parties (used by session resume).
func (c Call) Active() bool {
	return c.Status == CallStatusOpen || c.Status == CallStatusAccepted
}
