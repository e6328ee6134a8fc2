package store

import (
	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, s *Store, authMiddleware fiber.Handler) {
	r.Get("/:staffID/trips", authMiddleware, func(c *fiber.Ctx) error {
		records, err := s.RecentTrips(c.Context(), c.Params("staffID"), c.QueryInt("limit", 20))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if records == nil {
			records = []TripRecord{}
		}
		return c.JSON(records)
	})
}
