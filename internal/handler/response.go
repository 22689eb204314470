package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxi/internal/negotiation"
	"taxi/internal/rating"
	"taxi/internal/registry"
	"taxi/internal/store"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// mapErrorToHTTPStatus maps engine errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, negotiation.ErrTransactionNotFound),
		errors.Is(err, rating.ErrTransactionNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, registry.ErrInvalidActorID),
		errors.Is(err, registry.ErrInvalidCallID),
		errors.Is(err, registry.ErrInvalidRole),
		errors.Is(err, registry.ErrInvalidLocation),
		errors.Is(err, registry.ErrInvalidPrice),
		errors.Is(err, registry.ErrInvalidSeats),
		errors.Is(err, registry.ErrInvalidPassengerCount),
		errors.Is(err, negotiation.ErrInvalidTransactionID),
		errors.Is(err, negotiation.ErrInvalidPrice),
		errors.Is(err, rating.ErrInvalidRating),
		errors.Is(err, rating.ErrInvalidRaterRole):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, registry.ErrCallNotOpen),
		errors.Is(err, negotiation.ErrNegotiationClosed),
		errors.Is(err, negotiation.ErrNotAgreed):
		return http.StatusConflict

	// Forbidden/Business rule errors
	case errors.Is(err, negotiation.ErrNotParticipant):
		return http.StatusForbidden

	// Store connectivity
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
