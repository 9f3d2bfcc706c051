package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/pkg/clinical"
)

// emergencyContextKey is the unexported type used for emergency-access context
// values to avoid collisions with other packages.
type emergencyContextKey string

const (
	emergencyKey              emergencyContextKey = "emergency_access"
	emergencyJustificationKey emergencyContextKey = "emergency_justification"
)

// EmergencyHeader is the request header that triggers the emergency override
// path. Its value is the free-text justification for bypassing consent.
const EmergencyHeader = "X-Emergency-Access"

// emergencyRateLimit tracks per-actor emergency requests within a rolling window.
type emergencyRateLimit struct {
	mu      sync.Mutex
	entries map[string][]time.Time // actorID -> request timestamps
}

func newEmergencyRateLimit() *emergencyRateLimit {
	return &emergencyRateLimit{
		entries: make(map[string][]time.Time),
	}
}

// allow checks whether the actor is under the emergency rate limit. Only
// timestamps within the last hour count toward the limit. When the request is
// allowed the current timestamp is recorded. The caller supplies the current
// time so that tests can inject a deterministic clock.
func (rl *emergencyRateLimit) allow(actorID string, now time.Time, maxPerHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)

	existing := rl.entries[actorID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= maxPerHour {
		rl.entries[actorID] = pruned
		return false
	}

	rl.entries[actorID] = append(pruned, now)
	return true
}

// cleanup removes all entries older than one hour. Called periodically from a
// background goroutine to prevent unbounded memory growth.
func (rl *emergencyRateLimit) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)
	for actorID, timestamps := range rl.entries {
		pruned := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				pruned = append(pruned, ts)
			}
		}
		if len(pruned) == 0 {
			delete(rl.entries, actorID)
		} else {
			rl.entries[actorID] = pruned
		}
	}
}

const emergencyCleanupPeriod = 5 * time.Minute

// DefaultEmergencyMaxPerHour is the per-actor hourly cap on emergency-access
// requests when the config leaves it unset.
const DefaultEmergencyMaxPerHour = 10

// EmergencyAccess returns Echo middleware that recognizes the emergency
// override for patient-record access. When a request carries the
// X-Emergency-Access header with a non-empty justification, the middleware:
//
//  1. Verifies the actor is authenticated (user_id present in context).
//  2. Verifies the actor holds the emergency_override capability.
//  3. Enforces a per-actor rate limit (maxPerHour requests per hour).
//  4. Stores the emergency flag and justification in the request context for
//     the access evaluator and audit logging.
//  5. Emits a WARN-level structured log entry.
//
// It must be placed AFTER authentication middleware and BEFORE the access
// handlers in the middleware chain.
func EmergencyAccess(logger zerolog.Logger, maxPerHour int) echo.MiddlewareFunc {
	rl := newEmergencyRateLimit()

	go func() {
		ticker := time.NewTicker(emergencyCleanupPeriod)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup(time.Now())
		}
	}()

	return emergencyMiddleware(logger, rl, maxPerHour, time.Now)
}

// emergencyMiddleware is the internal constructor that accepts a clock function
// for testing determinism and a pre-built rate limiter.
func emergencyMiddleware(logger zerolog.Logger, rl *emergencyRateLimit, maxPerHour int, nowFn func() time.Time) echo.MiddlewareFunc {
	if maxPerHour <= 0 {
		maxPerHour = DefaultEmergencyMaxPerHour
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			justification := strings.TrimSpace(req.Header.Get(EmergencyHeader))
			if justification == "" {
				return next(c)
			}

			// The JWT middleware runs before this one and sets user_id in the
			// request context. If user_id is absent, the actor is not
			// authenticated.
			ctx := req.Context()
			actorID := auth.UserIDFromContext(ctx)
			if actorID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "emergency access requires authentication")
			}

			if !auth.HasCapability(ctx, clinical.CapabilityEmergencyOverride) {
				return echo.NewHTTPError(http.StatusForbidden, "emergency access requires the emergency_override capability")
			}

			now := nowFn()
			if !rl.allow(actorID, now, maxPerHour) {
				return echo.NewHTTPError(http.StatusTooManyRequests,
					"emergency access rate limit exceeded")
			}

			ctx = context.WithValue(ctx, emergencyKey, true)
			ctx = context.WithValue(ctx, emergencyJustificationKey, justification)
			c.SetRequest(req.WithContext(ctx))

			logger.Warn().
				Str("type", "emergency_access").
				Str("user_id", actorID).
				Str("justification", justification).
				Str("path", req.URL.Path).
				Str("method", req.Method).
				Str("remote_ip", c.RealIP()).
				Time("timestamp", now).
				Msg("emergency_access_invoked")

			return next(c)
		}
	}
}

// IsEmergencyAccess returns true if the request invoked the emergency override.
func IsEmergencyAccess(ctx context.Context) bool {
	v, _ := ctx.Value(emergencyKey).(bool)
	return v
}

// EmergencyJustification returns the justification supplied in the
// X-Emergency-Access header, or an empty string if the override was not
// invoked.
func EmergencyJustification(ctx context.Context) string {
	v, _ := ctx.Value(emergencyJustificationKey).(string)
	return v
}
