package apperrors

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrForbidden       = errors.New("forbidden")
	ErrLocationDenied  = errors.New("location access denied")
	ErrLocationTimeout = errors.New("location request timed out")
	ErrStaleWrite      = errors.New("write older than stored state")
	ErrSessionClosed   = errors.New("tracking session closed")
)

// Status maps an error to the HTTP status handlers should answer with.
func Status(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrLocationDenied):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrLocationTimeout):
		return fiber.StatusRequestTimeout
	case errors.Is(err, ErrStaleWrite):
		return fiber.StatusConflict
	case errors.Is(err, ErrSessionClosed):
		return fiber.StatusGone
	}
	return fiber.StatusInternalServerError
}

// HTTPError converts err into a fiber error carrying the mapped status.
func HTTPError(err error) error {
	return fiber.NewError(Status(err), err.Error())
}
