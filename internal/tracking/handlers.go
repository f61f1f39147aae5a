package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexzee/corpersafe/internal/auth"
	"github.com/lexzee/corpersafe/internal/shared/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

var validate = validator.New()

// SampleRequest is a fix as sent by the device. Lat and Lng are required;
// Speed is in m/s and Timestamp in unix milliseconds, both optional.
type SampleRequest struct {
	Lat       *float64 `json:"lat" validate:"required,latitude"`
	Lng       *float64 `json:"lng" validate:"required,longitude"`
	Accuracy  float64  `json:"accuracy" validate:"gte=0"`
	Speed     *float64 `json:"speed"`
	Timestamp int64    `json:"timestamp" validate:"gte=0"`
}

func (r SampleRequest) Sample() Sample {
	s := Sample{Accuracy: r.Accuracy, SpeedMps: r.Speed}
	if r.Lat != nil && r.Lng != nil {
		s.Lat, s.Lng = *r.Lat, *r.Lng
	}
	if r.Timestamp > 0 {
		s.RecordedAt = time.UnixMilli(r.Timestamp)
	}
	return s
}

type LocationErrorRequest struct {
	Kind    LocationErrorKind `json:"kind" validate:"required,oneof=denied unavailable timeout"`
	Message string            `json:"message"`
}

type PauseRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type PauseReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

type sessionResponse struct {
	Snapshot
	Watch WatchOptions `json:"watch"`
}

type panicResponse struct {
	Trip       Snapshot `json:"trip"`
	Persisted  bool     `json:"persisted"`
	AlertSent  bool     `json:"alert_sent"`
	AlertError string   `json:"alert_error,omitempty"`
}

// deviceMessage is one frame on the device websocket.
type deviceMessage struct {
	Type string `json:"type"` // "position" or "error"
	SampleRequest
	Kind    LocationErrorKind `json:"kind"`
	Message string            `json:"message"`
}

func RegisterRoutes(r fiber.Router, m *Manager, src *PushSource, authMiddleware fiber.Handler) {
	r.Post("/trips/:id/session", authMiddleware, func(c *fiber.Ctx) error {
		s, err := m.Open(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperrors.HTTPError(err)
		}
		snap, err := s.Snapshot(c.Context())
		if err != nil {
			return apperrors.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(sessionResponse{Snapshot: snap, Watch: m.WatchOptions()})
	})

	r.Delete("/trips/:id/session", authMiddleware, func(c *fiber.Ctx) error {
		if err := m.Close(c.Params("id"), auth.UserID(c)); err != nil {
			return apperrors.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/trips/:id/state", authMiddleware, func(c *fiber.Ctx) error {
		s, err := m.Get(c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperrors.HTTPError(err)
		}
		snap, err := s.Snapshot(c.Context())
		if err != nil {
			return apperrors.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Post("/trips/:id/start", authMiddleware, func(c *fiber.Ctx) error {
		var fix *Sample
		if len(c.Body()) > 0 {
			var req SampleRequest
			if err := parse(c, &req); err != nil {
				return err
			}
			sample := req.Sample()
			fix = &sample
		}

		s, err := m.Open(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperrors.HTTPError(err)
		}
		snap, err := s.StartTrip(c.Context(), fix)
		if err != nil {
			return apperrors.HTTPError(err)
		}
		return c.JSON(snap)
	})

	r.Post("/trips/:id/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req SampleRequest
		if err := parse(c, &req); err != nil {
			return err
		}
		if _, err := m.Get(c.Params("id"), auth.UserID(c)); err != nil {
			return apperrors.HTTPError(err)
		}
		if err := src.Push(c.Context(), c.Params("id"), req.Sample()); err != nil {
			return apperrors.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/trips/:id/location-error", authMiddleware, func(c *fiber.Ctx) error {
		var req LocationErrorRequest
		if err := parse(c, &req); err != nil {
			return err
		}
		if _, err := m.Get(c.Params("id"), auth.UserID(c)); err != nil {
			return apperrors.HTTPError(err)
		}
		if err := src.Fail(c.Context(), c.Params("id"), &LocationError{Kind: req.Kind, Message: req.Message}); err != nil {
			return apperrors.HTTPError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/trips/:id/pause", authMiddleware, func(c *fiber.Ctx) error {
		var req PauseRequest
		if len(c.Body()) > 0 {
			if err := parse(c, &req); err != nil {
				return err
			}
		}
		return withSession(c, m, func(ctx context.Context, s *Session) (any, error) {
			return s.TogglePause(ctx, req.Reason)
		})
	})

	r.Put("/trips/:id/pause-reason", authMiddleware, func(c *fiber.Ctx) error {
		var req PauseReasonRequest
		if err := parse(c, &req); err != nil {
			return err
		}
		return withSession(c, m, func(ctx context.Context, s *Session) (any, error) {
			return s.SetPauseReason(ctx, req.Reason)
		})
	})

	r.Post("/trips/:id/arrive", authMiddleware, func(c *fiber.Ctx) error {
		return withSession(c, m, func(ctx context.Context, s *Session) (any, error) {
			return s.MarkArrived(ctx)
		})
	})

	r.Post("/trips/:id/panic", authMiddleware, func(c *fiber.Ctx) error {
		return withSession(c, m, func(ctx context.Context, s *Session) (any, error) {
			res, err := s.TriggerPanic(ctx)
			if err != nil {
				return nil, err
			}
			out := panicResponse{Trip: res.Snapshot, Persisted: res.PersistErr == nil, AlertSent: res.AlertErr == nil}
			if res.AlertErr != nil {
				out.AlertError = res.AlertErr.Error()
			}
			return out, nil
		})
	})

	feedGuard := func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if _, err := m.Get(c.Params("id"), auth.UserID(c)); err != nil {
			return apperrors.HTTPError(err)
		}
		return c.Next()
	}

	r.Get("/trips/:id/feed", authMiddleware, feedGuard, websocket.New(func(c *websocket.Conn) {
		tripID := c.Params("id")
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := handleDeviceMessage(src, tripID, raw); err != nil {
				reply, _ := json.Marshal(fiber.Map{"error": err.Error()})
				if werr := c.WriteMessage(websocket.TextMessage, reply); werr != nil {
					return
				}
				if apperrors.Status(err) == fiber.StatusGone {
					return
				}
			}
		}
	}))
}

func handleDeviceMessage(src *PushSource, tripID string, raw []byte) error {
	var msg deviceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch msg.Type {
	case "position":
		if err := validate.Struct(msg.SampleRequest); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
		}
		return src.Push(ctx, tripID, msg.SampleRequest.Sample())
	case "error":
		return src.Fail(ctx, tripID, &LocationError{Kind: msg.Kind, Message: msg.Message})
	}
	return fmt.Errorf("%w: unknown message type %q", apperrors.ErrInvalidInput, msg.Type)
}

func withSession(c *fiber.Ctx, m *Manager, fn func(context.Context, *Session) (any, error)) error {
	s, err := m.Get(c.Params("id"), auth.UserID(c))
	if err != nil {
		return apperrors.HTTPError(err)
	}
	out, err := fn(c.Context(), s)
	if err != nil {
		return apperrors.HTTPError(err)
	}
	return c.JSON(out)
}

func parse(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
