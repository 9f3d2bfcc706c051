package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/pkg/clinical"
	"github.com/medgate/medgate/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:patientId/audit-events", h.PatientAuditLog)

	admin := api.Group("", auth.RequireRole("admin", "compliance_officer"))
	admin.GET("/audit-events/:id", h.GetEvent)
	admin.GET("/audit-events/suspicious", h.SuspiciousEvents)
	admin.POST("/audit-events/:id/review", h.ReviewEvent)
	admin.GET("/facilities/:facilityId/access-stats", h.FacilityStats)
}

func filtersFromQuery(c echo.Context) (Filters, error) {
	var f Filters

	if v := c.QueryParam("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid actor_id")
		}
		f.ActorID = &id
	}
	if v := c.QueryParam("action_type"); v != "" {
		at := clinical.ActionType(v)
		if !at.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unrecognized action_type")
		}
		f.ActionType = at
	}
	if v := c.QueryParam("resource_type"); v != "" {
		rt := clinical.ResourceType(v)
		if !rt.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unrecognized resource_type")
		}
		f.ResourceType = rt
	}
	if v := c.QueryParam("result"); v != "" {
		res := AccessResult(v)
		if !res.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "unrecognized result")
		}
		f.Result = res
	}
	f.EmergencyOnly = c.QueryParam("emergency") == "true"

	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		f.To = &t
	}
	return f, nil
}

func (h *Handler) PatientAuditLog(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	f, err := filtersFromQuery(c)
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ByPatient(c.Request().Context(), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SuspiciousEvents(c echo.Context) error {
	f, err := filtersFromQuery(c)
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Suspicious(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type reviewBody struct {
	Notes  string `json:"notes"`
	Action string `json:"action"`
}

func (h *Handler) ReviewEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body reviewBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reviewer, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "reviewer identity required")
	}

	if err := h.svc.ReviewEvent(c.Request().Context(), id, reviewer, body.Notes, body.Action); err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "reviewed": true})
}

func (h *Handler) FacilityStats(c echo.Context) error {
	facilityID, err := uuid.Parse(c.Param("facilityId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility id")
	}

	// Default to the trailing 30 days when no range is given.
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.QueryParam("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
	}
	if v := c.QueryParam("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
	}

	stats, err := h.svc.StatsByFacility(c.Request().Context(), facilityID, from, to)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func translateError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
