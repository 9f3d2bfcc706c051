package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/auth"
)

func TestAccessLog_EmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	patientID := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patientID+"/consents", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "doc-1")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AccessLog(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON log line: %v", err)
	}
	if entry["type"] != "record_access" {
		t.Errorf("expected type record_access, got %v", entry["type"])
	}
	if entry["user_id"] != "doc-1" {
		t.Errorf("expected user_id doc-1, got %v", entry["user_id"])
	}
	if entry["patient_id"] != patientID {
		t.Errorf("expected patient_id %s, got %v", patientID, entry["patient_id"])
	}
	if entry["emergency_access"] != false {
		t.Errorf("expected emergency_access false, got %v", entry["emergency_access"])
	}
}

func TestAccessLog_SkipsNonAPIPaths(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AccessLog(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no log output for /health, got %s", buf.String())
	}
}
