// Package httputil holds the small HTTP helpers shared by the control API:
// JSON response shapes and the request logging middleware.
package httputil

import (
	"github.com/gofiber/fiber/v3"
)

// ErrorResponse is the body of every failed control-API request, matching the
// Pusher convention of a single error string.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON sends a 200 response with the given body.
func JSON(c fiber.Ctx, body any) error {
	return c.JSON(body)
}

// Fail sends a JSON error response with the given status.
func Fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message})
}
