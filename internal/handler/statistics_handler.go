package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/production-control/internal/domain"
)

type StatisticsReader interface {
	Get(ctx context.Context) (*domain.Statistics, error)
}

// RegisterStatisticsRoutes serves the dashboard statistics kept warm by the refresh sweep.
func RegisterStatisticsRoutes(router fiber.Router, stats StatisticsReader) error {
	if stats == nil {
		return fmt.Errorf("statistics reader is required")
	}

	router.Get("/v1/statistics", func(c *fiber.Ctx) error {
		s, err := stats.Get(c.UserContext())
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusOK).JSON(s)
	})
	return nil
}
