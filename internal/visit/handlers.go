package visit

import (
	"errors"

	"backend-fieldops/internal/shared/clock"

	"github.com/gofiber/fiber/v2"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

type completeRequest struct {
	Notes *string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type completeResponse struct {
	DurationMinutes int   `json:"duration_minutes"`
	Visit           Visit `json:"visit"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req StartRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if local, ok := c.Locals("staff_id").(string); ok && local != "" {
			req.StaffID = local
		}
		v, err := svc.StartVisit(c.Context(), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Put("/:id/notes", authMiddleware, func(c *fiber.Ctx) error {
		var req notesRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := ownVisit(c, svc); err != nil {
			return err
		}
		v, err := svc.UpdateNotes(c.Context(), c.Params("id"), req.Notes)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(v)
	})

	r.Post("/:id/complete", authMiddleware, func(c *fiber.Ctx) error {
		var req completeRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if err := ownVisit(c, svc); err != nil {
			return err
		}
		v, err := svc.CompleteVisit(c.Context(), c.Params("id"), req.Notes)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(completeResponse{DurationMinutes: *v.DurationMinutes, Visit: v})
	})

	r.Post("/:id/cancel", authMiddleware, func(c *fiber.Ctx) error {
		var req cancelRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := ownVisit(c, svc); err != nil {
			return err
		}
		v, err := svc.CancelVisit(c.Context(), c.Params("id"), req.Reason)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(v)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		v, err := svc.GetVisit(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(v)
	})
}

// ownVisit refuses visits that belong to a staff member other than the one
// named by the token.
func ownVisit(c *fiber.Ctx, svc *Service) error {
	claim, _ := c.Locals("staff_id").(string)
	if claim == "" {
		return nil
	}
	if v, err := svc.GetVisit(c.Params("id")); err == nil && v.StaffID != claim {
		return fiber.NewError(fiber.StatusForbidden, "visit belongs to another staff member")
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyInProgress), errors.Is(err, ErrNotInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrStaffRequired):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, clock.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
