package registry

import "errors"

var (
	// ErrInvalidActorID is returned when an actor ID is empty.
	ErrInvalidActorID = errors.New("invalid actor id")

	// ErrInvalidCallID is returned when a call ID is empty.
	ErrInvalidCallID = errors.New("invalid call id")

	// ErrInvalidRole is returned when a role is not Driver or Customer.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidLocation is returned when coordinates are out of range.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidPrice is returned when an offer price is not positive.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidSeats is returned when a seat count is negative.
	ErrInvalidSeats = errors.New("invalid seat count")

	// ErrInvalidPassengerCount is returned when a passenger count is not
	// positive.
	ErrInvalidPassengerCount = errors.New("invalid passenger count")

	// ErrCallNotOpen is returned when opening a call whose status is not
	// Open.
	ErrCallNotOpen = errors.New("call not open")
)

// validLocation reports whether the coordinates are in range.
func validLocation(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
