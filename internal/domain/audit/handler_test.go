package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/pkg/clinical"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc := newTestAuditService(newMockEventRepo())
	return NewHandler(svc), echo.New()
}

func TestHandler_PatientAuditLog(t *testing.T) {
	h, e := newTestHandler()

	ev := validEvent()
	h.svc.Record(context.Background(), ev)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues(ev.PatientID.String())

	if err := h.PatientAuditLog(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 event, got %d", resp.Total)
	}
}

func TestHandler_PatientAuditLog_BadFilter(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/?action_type=peek", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues(uuid.New().String())

	err := h.PatientAuditLog(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SuspiciousEvents(t *testing.T) {
	h, e := newTestHandler()

	flagged := validEvent()
	flagged.ActionType = clinical.ActionEmergencyAccess
	flagged.WasEmergencyAccess = true
	flagged.EmergencyJustification = "unconscious patient"
	h.svc.Record(context.Background(), flagged)

	plain := validEvent()
	h.svc.Record(context.Background(), plain)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SuspiciousEvents(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 suspicious event, got %d", resp.Total)
	}
}

func TestHandler_ReviewEvent(t *testing.T) {
	h, e := newTestHandler()

	id, _ := h.svc.Record(context.Background(), validEvent())

	body := `{"notes":"verified with attending","action":"cleared"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	reviewer := uuid.New()
	ctx := context.WithValue(req.Context(), auth.UserIDKey, reviewer.String())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	if err := h.ReviewEvent(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	stored, _ := h.svc.Get(context.Background(), id)
	if stored.ReviewedBy == nil || *stored.ReviewedBy != reviewer {
		t.Error("expected the reviewer from the request context")
	}
}

func TestHandler_ReviewEvent_RequiresIdentity(t *testing.T) {
	h, e := newTestHandler()
	id, _ := h.svc.Record(context.Background(), validEvent())

	body := `{"notes":"","action":"cleared"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id.String())

	err := h.ReviewEvent(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_FacilityStats_DefaultsTrailing30Days(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("facilityId")
	c.SetParamValues(uuid.New().String())

	if err := h.FacilityStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stats FacilityStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if !stats.To.After(stats.From) {
		t.Error("expected a forward date range")
	}
	if days := stats.To.Sub(stats.From).Hours() / 24; days < 29 || days > 31 {
		t.Errorf("expected a ~30 day default range, got %.1f days", days)
	}
}

func TestHandler_FacilityStats_InvertedRangeMapsTo400(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("facilityId")
	c.SetParamValues(uuid.New().String())

	err := h.FacilityStats(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
