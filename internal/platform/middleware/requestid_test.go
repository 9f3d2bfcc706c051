package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/consents", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequestID()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Fatal("expected a generated request id")
	}
	if got := rec.Header().Get(RequestIDHeader); got != rid {
		t.Errorf("expected response header to echo the id, got %q", got)
	}
}

func TestRequestID_PreservesIncoming(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/consents", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := RequestID()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rid, _ := c.Get("request_id").(string); rid != "client-supplied-id" {
		t.Errorf("expected the client id to be preserved, got %q", rid)
	}
}
