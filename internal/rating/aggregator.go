// Package rating maintains each actor's running weighted average rating.
package rating

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"taxi/internal/domain"
	"taxi/internal/observability"
	"taxi/internal/store"
)

var (
	// ErrInvalidRating is returned when a rating is outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrInvalidRaterRole is returned for an unknown rater role.
	ErrInvalidRaterRole = errors.New("invalid rater role")

	// ErrTransactionNotFound is returned when the rated transaction does
	// not exist.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// aggregateKey returns the store key of an actor's rating document under
// the users node.
func aggregateKey(actorID string) string {
	return actorID + "/rating"
}

// Aggregator updates actor rating aggregates after completed rides.
type Aggregator struct {
	store store.Store
	log   *zap.Logger
}

// NewAggregator creates a rating aggregator.
func NewAggregator(st store.Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: st, log: logger}
}

// SubmitRating records one party's rating of the other: the driver rates
// the customer and vice versa. The rating is written onto the transaction,
// then folded into the rated actor's aggregate with a read-modify-write.
// Concurrent submissions for the same actor can lose an update; the
// substrate has no conditional write to prevent it, and the design accepts
// the race. Returns the rated actor's new average.
func (a *Aggregator) SubmitRating(ctx context.Context, transactionID string, raterRole domain.Role, value float64) (float64, error) {
	if value < 1 || value > 5 {
		return 0, ErrInvalidRating
	}
	if !raterRole.Valid() {
		return 0, ErrInvalidRaterRole
	}

	var tx domain.Transaction
	found, err := a.store.Get(ctx, store.NodeTransactions, transactionID, &tx)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrTransactionNotFound
	}

	var targetID string
	if raterRole == domain.RoleDriver {
		tx.CustomerRating = value
		targetID = tx.CustomerID
	} else {
		tx.DriverRating = value
		targetID = tx.DriverID
	}
	if err := a.store.Put(ctx, store.NodeTransactions, transactionID, tx); err != nil {
		return 0, err
	}

	agg, err := a.aggregate(ctx, targetID)
	if err != nil {
		return 0, err
	}
	agg = agg.Add(value)
	if err := a.store.Put(ctx, store.NodeUsers, aggregateKey(targetID), agg); err != nil {
		return 0, err
	}

	observability.RatingsSubmitted.Inc()
	a.log.Info("rating submitted",
		zap.String("transaction_id", transactionID),
		zap.String("rated_actor", targetID),
		zap.Float64("new_average", agg.Average),
		zap.Int("count", agg.Count),
	)
	return agg.Average, nil
}

// GetRating returns an actor's current average, defaulting to 5.0 for an
// actor with no prior ratings.
func (a *Aggregator) GetRating(ctx context.Context, actorID string) (float64, error) {
	agg, err := a.aggregate(ctx, actorID)
	if err != nil {
		return 0, err
	}
	return agg.Average, nil
}

func (a *Aggregator) aggregate(ctx context.Context, actorID string) (domain.RatingAggregate, error) {
	var agg domain.RatingAggregate
	found, err := a.store.Get(ctx, store.NodeUsers, aggregateKey(actorID), &agg)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	if !found {
		return domain.NewRatingAggregate(), nil
	}
	return agg, nil
}
