package domain

// DefaultRatingAverage is assumed for an actor with no prior ratings.
const DefaultRatingAverage = 5.0

// RatingAggregate is the running weighted mean of all ratings an actor has
// ever received.
type RatingAggregate struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// NewRatingAggregate returns the aggregate for an actor with no history.
func NewRatingAggregate() RatingAggregate {
	return RatingAggregate{Average: DefaultRatingAverage, Count: 0}
}

// Add folds one more rating into the aggregate and returns the result.
func (r RatingAggregate) Add(rating float64) RatingAggregate {
	newCount := r.Count + 1
	return RatingAggregate{
		Average: (r.Average*float64(r.Count) + rating) / float64(newCount),
		Count:   newCount,
	}
}
