package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, fiber.StatusOK},
		{fmt.Errorf("trip trip-1: %w", ErrNotFound), fiber.StatusNotFound},
		{pgx.ErrNoRows, fiber.StatusNotFound},
		{ErrInvalidInput, fiber.StatusBadRequest},
		{ErrForbidden, fiber.StatusForbidden},
		{ErrLocationDenied, fiber.StatusUnprocessableEntity},
		{ErrLocationTimeout, fiber.StatusRequestTimeout},
		{ErrStaleWrite, fiber.StatusConflict},
		{ErrSessionClosed, fiber.StatusGone},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHTTPError(t *testing.T) {
	err := HTTPError(fmt.Errorf("start: %w", ErrLocationTimeout))
	var fe *fiber.Error
	if !errors.As(err, &fe) || fe.Code != fiber.StatusRequestTimeout {
		t.Fatalf("unexpected error: %v", err)
	}
}
