package trip

import (
	"errors"
	"strings"

	"backend-fieldops/internal/shared/clock"
	"backend-fieldops/internal/tracking"

	"github.com/gofiber/fiber/v2"
)

type startRequest struct {
	StaffID string          `json:"staff_id"`
	Sample  tracking.Sample `json:"sample"`
}

type ingestRequest struct {
	TripID  string          `json:"trip_id"`
	StaffID string          `json:"staff_id"`
	Sample  tracking.Sample `json:"sample"`
}

type endResponse struct {
	Summary
	CostUSD float64 `json:"cost_usd"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		trip, err := svc.StartTrip(c.Context(), staffFor(c, req.StaffID), req.Sample)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(trip)
	})

	r.Post("/samples", authMiddleware, func(c *fiber.Ctx) error {
		var req ingestRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ref, err := refFor(c, svc, Ref{TripID: req.TripID, StaffID: req.StaffID})
		if err != nil {
			return err
		}
		res, err := svc.IngestSample(c.Context(), ref, req.Sample)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(res)
	})

	r.Post("/end", authMiddleware, func(c *fiber.Ctx) error {
		var ref Ref
		if err := c.BodyParser(&ref); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		ref, err := refFor(c, svc, ref)
		if err != nil {
			return err
		}
		if ref.TripID == "" && ref.StaffID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "trip_id or staff_id required")
		}
		summary, err := svc.EndTrip(c.Context(), ref)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(endResponse{Summary: summary, CostUSD: tracking.RoundCurrency(summary.CostUSD)})
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		trip, err := svc.GetTrip(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(trip)
	})

	r.Get("/:id/metrics", func(c *fiber.Ctx) error {
		m, err := svc.LiveMetrics(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(m)
	})
}

// staffFor prefers the token's staff claim; the body value is only used when
// the request carries no claim.
func staffFor(c *fiber.Ctx, staffID string) string {
	if local, ok := c.Locals("staff_id").(string); ok && local != "" {
		return local
	}
	return strings.TrimSpace(staffID)
}

// refFor binds ref to the authenticated staff member and refuses trips owned
// by someone else.
func refFor(c *fiber.Ctx, svc *Service, ref Ref) (Ref, error) {
	ref.StaffID = staffFor(c, ref.StaffID)
	claim, _ := c.Locals("staff_id").(string)
	if claim == "" || ref.TripID == "" {
		return ref, nil
	}
	if owner, err := svc.Owner(ref); err == nil && owner != claim {
		return ref, fiber.NewError(fiber.StatusForbidden, "trip belongs to another staff member")
	}
	return ref, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNotActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidSample), errors.Is(err, ErrStaffRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, clock.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
