package history

import (
	"context"
	"time"
)

// RideRecord is the write-once snapshot of an agreed ride, captured at the
// moment both parties settle on a price.
type RideRecord struct {
	ID             string
	TransactionID  string
	CustomerID     string
	DriverID       string
	Price          float64
	StartLat       float64
	StartLng       float64
	DestLat        float64
	DestLng        float64
	RecordedAt     time.Time
	OriginalCallID string
}

// Recorder persists ride history records. Recording is append-only and
// best-effort: a recording failure never blocks the negotiation itself.
type Recorder interface {
	Record(ctx context.Context, rec RideRecord) error
}

// Reader serves the operator view of recorded rides.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]RideRecord, error)
}
