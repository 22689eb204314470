package domain

import "time"

// TransactionStatus represents the state of a price negotiation.
type TransactionStatus string

const (
	TransactionNegotiating TransactionStatus = "Negotiating"
	TransactionAgreed      TransactionStatus = "Agreed"
	TransactionCompleted   TransactionStatus = "Completed"
	TransactionCancelled   TransactionStatus = "Cancelled"
)

// Terminal reports whether the negotiation has ended for good.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionCancelled
}

// Transaction is the negotiation record tracking price convergence for one
// accepted call. It is jointly mutated by both linked parties through
// whole-record overwrites; correctness relies on the acceptance-flag
// invariants, not on access control.
type Transaction struct {
	TransactionID         string            `json:"transaction_id"`
	CallID                string            `json:"call_id"`
	CustomerID            string            `json:"customer_id"`
	DriverID              string            `json:"driver_id"`
	Price                 float64           `json:"price"`
	Status                TransactionStatus `json:"status"`
	DriverAcceptedPrice   bool              `json:"driver_accepted_price"`
	CustomerAcceptedPrice bool              `json:"customer_accepted_price"`
	DriverRating          float64           `json:"driver_rating,omitempty"`
	CustomerRating        float64           `json:"customer_rating,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// RoleOf returns the role the given actor plays in this transaction,
// and whether the actor is a participant at all.
func (t Transaction) RoleOf(actorID string) (Role, bool) {
	switch actorID {
	case t.DriverID:
		return RoleDriver, true
	case t.CustomerID:
		return RoleCustomer, true
	default:
		return "", false
	}
}

// BothAccepted reports whether both parties have accepted the current price.
func (t Transaction) BothAccepted() bool {
	return t.DriverAcceptedPrice && t.CustomerAcceptedPrice
}
