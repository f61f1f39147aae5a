package trip

import (
	"github.com/lexzee/corpersafe/internal/auth"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/gofiber/fiber/v2"
)

// ScopeLookup resolves the monitoring scope of the calling admin.
type ScopeLookup func(c *fiber.Ctx) (Scope, error)

func RegisterRoutes(r fiber.Router, svc *Service, scope ScopeLookup, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		trip, err := svc.Register(c.Context(), auth.UserID(c), req)
		if err != nil {
			return apperrors.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(trip)
	})

	r.Get("/active", authMiddleware, func(c *fiber.Ctx) error {
		trip, err := svc.ActiveTripForUser(c.Context(), auth.UserID(c))
		if err != nil {
			return apperrors.HTTPError(err)
		}
		return c.JSON(trip)
	})

	r.Get("/history", authMiddleware, func(c *fiber.Ctx) error {
		trips, err := svc.History(c.Context(), auth.UserID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(trips)
	})

	r.Get("/monitor", authMiddleware, auth.RequireAdmin(), func(c *fiber.Ctx) error {
		sc, err := scope(c)
		if err != nil {
			return apperrors.HTTPError(err)
		}
		overview, err := svc.Monitor(c.Context(), sc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(overview)
	})

	r.Get("/track/:code", func(c *fiber.Ctx) error {
		view, err := svc.TrackByCode(c.Context(), c.Params("code"))
		if err != nil {
			if apperrors.Status(err) == fiber.StatusNotFound {
				return fiber.NewError(fiber.StatusNotFound, "tracking ID not found or trip has ended")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(view)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		trip, err := svc.GetTrip(c.Context(), c.Params("id"))
		if err != nil {
			return apperrors.HTTPError(err)
		}
		if trip.PCMID != auth.UserID(c) && !auth.IsAdmin(auth.Role(c)) {
			return fiber.NewError(fiber.StatusForbidden, "not your trip")
		}
		return c.JSON(trip)
	})
}
