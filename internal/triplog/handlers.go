package triplog

import (
	"github.com/lexzee/corpersafe/internal/auth"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/gofiber/fiber/v2"
)

// OwnerLookup resolves the traveller that owns a trip.
type OwnerLookup func(c *fiber.Ctx, tripID string) (string, error)

// RegisterRoutes mounts the breadcrumb listing under a trips router.
func RegisterRoutes(r fiber.Router, svc *Service, owner OwnerLookup, authMiddleware fiber.Handler) {
	r.Get("/:id/logs", authMiddleware, func(c *fiber.Ctx) error {
		tripID := c.Params("id")
		if !auth.IsAdmin(auth.Role(c)) {
			pcmID, err := owner(c, tripID)
			if err != nil {
				return apperrors.HTTPError(err)
			}
			if pcmID != auth.UserID(c) {
				return fiber.NewError(fiber.StatusForbidden, "not your trip")
			}
		}

		entries, err := svc.List(c.Context(), tripID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(entries)
	})
}
