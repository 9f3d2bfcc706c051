package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/pkg/clinical"
)

// emTestContext creates an echo.Context for emergency-access tests with
// optional request modifiers applied in order.
func emTestContext(method, path string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func emWithAuth(userID string, capabilities []string) func(*http.Request) {
	return func(req *http.Request) {
		ctx := req.Context()
		ctx = context.WithValue(ctx, auth.UserIDKey, userID)
		ctx = context.WithValue(ctx, auth.CapabilitiesKey, capabilities)
		*req = *req.WithContext(ctx)
	}
}

func emWithHeader(key, value string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// fixedClock returns a nowFn that always returns the given time.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEmergencyAccess_DetectedAndContextSet(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
		emWithAuth("doc-1", []string{clinical.CapabilityEmergencyOverride}),
		emWithHeader(EmergencyHeader, "cardiac arrest"),
	)

	mw := emergencyMiddleware(logger, rl, 10, fixedClock(now))

	var capturedCtx context.Context
	handler := mw(func(c echo.Context) error {
		capturedCtx = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !IsEmergencyAccess(capturedCtx) {
		t.Error("expected IsEmergencyAccess to return true")
	}
	if got := EmergencyJustification(capturedCtx); got != "cardiac arrest" {
		t.Errorf("expected justification 'cardiac arrest', got %q", got)
	}
}

func TestEmergencyAccess_NoHeaderPassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
		emWithAuth("doc-1", nil),
	)

	mw := emergencyMiddleware(logger, rl, 10, fixedClock(now))

	var capturedCtx context.Context
	handler := mw(func(c echo.Context) error {
		capturedCtx = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if IsEmergencyAccess(capturedCtx) {
		t.Error("did not expect the emergency flag without the header")
	}
}

func TestEmergencyAccess_RequiresAuthentication(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
		emWithHeader(EmergencyHeader, "unconscious patient"),
	)

	mw := emergencyMiddleware(logger, rl, 10, fixedClock(now))
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestEmergencyAccess_RequiresCapability(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
		emWithAuth("doc-1", []string{"some_other_capability"}),
		emWithHeader(EmergencyHeader, "unconscious patient"),
	)

	mw := emergencyMiddleware(logger, rl, 10, fixedClock(now))
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestEmergencyAccess_RateLimit(t *testing.T) {
	logger := zerolog.New(os.Stderr)
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mw := emergencyMiddleware(logger, rl, 3, fixedClock(now))
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 3; i++ {
		c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
			emWithAuth("doc-1", []string{clinical.CapabilityEmergencyOverride}),
			emWithHeader(EmergencyHeader, fmt.Sprintf("emergency %d", i)),
		)
		if err := handler(c); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	c, _ := emTestContext(http.MethodGet, "/api/v1/patients/123/record",
		emWithAuth("doc-1", []string{clinical.CapabilityEmergencyOverride}),
		emWithHeader(EmergencyHeader, "one too many"),
	)
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestEmergencyRateLimit_WindowSlides(t *testing.T) {
	rl := newEmergencyRateLimit()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.allow("doc-1", base, 3) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.allow("doc-1", base, 3) {
		t.Fatal("fourth request within the hour should be refused")
	}

	// An hour later the window has slid past the earlier entries.
	later := base.Add(61 * time.Minute)
	if !rl.allow("doc-1", later, 3) {
		t.Error("request after the window elapsed should be allowed")
	}
}

func TestEmergencyRateLimit_PerActor(t *testing.T) {
	rl := newEmergencyRateLimit()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rl.allow("doc-1", now, 3)
	}
	if rl.allow("doc-1", now, 3) {
		t.Fatal("doc-1 should be over the limit")
	}
	if !rl.allow("doc-2", now, 3) {
		t.Error("doc-2 has its own budget")
	}
}

func TestEmergencyRateLimit_Cleanup(t *testing.T) {
	rl := newEmergencyRateLimit()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	rl.allow("doc-1", base, 10)
	rl.allow("doc-2", base.Add(30*time.Minute), 10)

	rl.cleanup(base.Add(90 * time.Minute))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["doc-1"]; ok {
		t.Error("expected doc-1's stale entries to be removed")
	}
	if _, ok := rl.entries["doc-2"]; !ok {
		t.Error("expected doc-2's fresh entry to survive")
	}
}
