package rates

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type rateBody struct {
	CostPerMileUSD float64 `json:"cost_per_mile_usd"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/:staffID/rate", authMiddleware, func(c *fiber.Ctx) error {
		rate, err := svc.CostPerMile(c.Context(), c.Params("staffID"))
		if errors.Is(err, ErrNoRate) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(rateBody{CostPerMileUSD: rate})
	})

	r.Put("/:staffID/rate", authMiddleware, func(c *fiber.Ctx) error {
		var body rateBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := svc.SetRate(c.Context(), c.Params("staffID"), body.CostPerMileUSD); err != nil {
			if errors.Is(err, ErrInvalidRate) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(body)
	})
}
