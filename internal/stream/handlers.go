package stream

import (
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Access reports whether the authenticated caller may watch tripID.
type Access func(c *fiber.Ctx, tripID string) error

func RegisterRoutes(r fiber.Router, hub *Hub, access Access, authMiddleware fiber.Handler) {
	guard := func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if err := access(c, c.Params("tripID")); err != nil {
			return apperrors.HTTPError(err)
		}
		return c.Next()
	}

	r.Get("/ws/:tripID", authMiddleware, guard, websocket.New(func(c *websocket.Conn) {
		tripID := c.Params("tripID")
		client := hub.Register(tripID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
