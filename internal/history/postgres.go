package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Querier is an interface satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var _ Querier = (*sql.DB)(nil)

// PostgresRecorder is a PostgreSQL implementation of Recorder.
type PostgresRecorder struct {
	q Querier
}

var _ Recorder = (*PostgresRecorder)(nil)
var _ Reader = (*PostgresRecorder)(nil)

// NewPostgresRecorder creates a new PostgreSQL ride history recorder.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{q: db}
}

// Record appends one ride history row.
func (r *PostgresRecorder) Record(ctx context.Context, rec RideRecord) error {
	query := `
		INSERT INTO ride_history (id, transaction_id, customer_id, driver_id, price, start_lat, start_lng, dest_lat, dest_lng, recorded_at, original_call_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	_, err := r.q.ExecContext(ctx, query,
		rec.ID,
		rec.TransactionID,
		rec.CustomerID,
		rec.DriverID,
		rec.Price,
		rec.StartLat,
		rec.StartLng,
		rec.DestLat,
		rec.DestLng,
		rec.RecordedAt,
		rec.OriginalCallID,
	)

	return err
}

// Recent returns the most recently recorded rides, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]RideRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, transaction_id, customer_id, driver_id, price, start_lat, start_lng, dest_lat, dest_lng, recorded_at, original_call_id
		FROM ride_history
		ORDER BY recorded_at DESC
		LIMIT $1
	`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RideRecord
	for rows.Next() {
		var rec RideRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TransactionID,
			&rec.CustomerID,
			&rec.DriverID,
			&rec.Price,
			&rec.StartLat,
			&rec.StartLng,
			&rec.DestLat,
			&rec.DestLng,
			&rec.RecordedAt,
			&rec.OriginalCallID,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
