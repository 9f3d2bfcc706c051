package middleware

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/auth"
)

// AccessLog returns Echo middleware that emits a structured log line for every
// request under /api/v1/, capturing who touched which patient's records, the
// outcome, and whether the emergency override was in play. This is the
// operational access channel; the authoritative per-decision audit trail is
// written by the access gate.
func AccessLog(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			// Execute the handler first so we capture the response status.
			err := next(c)

			ctx := req.Context()

			requestID := ""
			if rid, ok := c.Get("request_id").(string); ok {
				requestID = rid
			}

			emergency := IsEmergencyAccess(ctx)
			evt := logger.Info()
			if emergency {
				evt = logger.Warn()
			}
			evt.
				Str("type", "record_access").
				Str("request_id", requestID).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("patient_id", extractPatientID(c)).
				Str("method", req.Method).
				Str("path", path).
				Str("remote_ip", c.RealIP()).
				Str("user_agent", req.UserAgent()).
				Int("status", c.Response().Status).
				Bool("emergency_access", emergency).
				Str("emergency_justification", EmergencyJustification(ctx)).
				Time("timestamp", time.Now().UTC()).
				Msg("record_access")

			return err
		}
	}
}

// extractPatientID attempts to find a patient identifier in the request. It
// checks the URL path for /patients/<id> segments and the patient query param.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path

	if strings.HasPrefix(path, "/api/v1/patients/") {
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/patients/"), "/")
		if len(segments) > 0 && isUUIDLike(segments[0]) {
			return segments[0]
		}
	}

	if patient := c.QueryParam("patient_id"); patient != "" {
		return patient
	}

	return ""
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
