package alert

import (
	"github.com/lexzee/corpersafe/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/trips/:id", authMiddleware, auth.RequireAdmin(), func(c *fiber.Ctx) error {
		records, err := svc.ListAlerts(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(records)
	})
}
