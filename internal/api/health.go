package api

import (
	"github.com/gofiber/fiber/v3"
)

// Up handles GET /up, the unauthenticated liveness probe.
func Up(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"health": "OK"})
}
