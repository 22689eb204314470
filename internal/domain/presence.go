package domain

import "time"

// Role identifies which side of a ride an actor is on.
type Role string

const (
	RoleDriver   Role = "Driver"
	RoleCustomer Role = "Customer"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleCustomer
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleDriver {
		return RoleCustomer
	}
	return RoleDriver
}

// PaymentMethod represents a payment method an actor accepts.
type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "Cash"
	PaymentMethodClick PaymentMethod = "Click"
	PaymentMethodPayme PaymentMethod = "Payme"
)

// PresenceLiveness is the window after which a presence record is treated
// as absent by every reader, even though it still exists in the store.
const PresenceLiveness = 5 * time.Minute

// PresenceRecord is an actor's live location+capability broadcast.
// It is keyed by actor ID and overwritten whole on every location tick;
// records are never deleted, only aged out logically.
type PresenceRecord struct {
	ActorID        string          `json:"actor_id"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	Role           Role            `json:"role"`
	AvailableSeats int             `json:"available_seats"` // 0 means busy
	PassengerCount int             `json:"passenger_count"`
	PaymentMethods []PaymentMethod `json:"payment_methods,omitempty"`
	Rating         float64         `json:"rating,omitempty"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// LiveAt reports whether the record is still within the liveness window
// relative to the given time.
func (p PresenceRecord) LiveAt(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastUpdated) < window
}
