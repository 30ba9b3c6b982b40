// Package api implements the Pusher-compatible HTTP control plane: event
// triggers, channel/user/connection enumeration, connection termination, the
// liveness probe, and the WebSocket upgrade endpoint.
package api

import (
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/auth"
	"github.com/revurb-io/revurb/internal/httputil"
)

const appLocal = "application"

// Signature authenticates every /apps/:app_id request: the application must
// exist and the request must carry a valid Pusher signature. Missing auth
// parameters map to 401, anything else to 403.
func Signature(registry app.Registry, logger zerolog.Logger) fiber.Handler {
	log := logger.With().Str("component", "api").Logger()

	return func(c fiber.Ctx) error {
		a, err := registry.FindByID(c, c.Params("app_id"))
		if err != nil {
			if errors.Is(err, app.ErrUnknownApplication) {
				return httputil.Fail(c, fiber.StatusNotFound, "unknown application")
			}
			log.Error().Err(err).Str("app_id", c.Params("app_id")).Msg("Application lookup failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, "application lookup failed")
		}

		query := requestQuery(c)
		if err := auth.VerifyRequest(a.Key, a.Secret, c.Method(), c.Path(), query, c.Body(), time.Now()); err != nil {
			log.Debug().Err(err).Str("app_id", a.ID).Str("path", c.Path()).Msg("Request signature rejected")
			if errors.Is(err, auth.ErrMissingAuth) {
				return httputil.Fail(c, fiber.StatusUnauthorized, "authentication parameters are missing")
			}
			return httputil.Fail(c, fiber.StatusForbidden, "request signature is invalid")
		}

		c.Locals(appLocal, a)
		return c.Next()
	}
}

// requestQuery converts the fasthttp query args to url.Values for signature
// verification.
func requestQuery(c fiber.Ctx) url.Values {
	query := url.Values{}
	c.RequestCtx().QueryArgs().VisitAll(func(key, value []byte) {
		query.Add(string(key), string(value))
	})
	return query
}

// application returns the authenticated application installed by Signature.
func application(c fiber.Ctx) *app.Application {
	a, _ := c.Locals(appLocal).(*app.Application)
	return a
}
