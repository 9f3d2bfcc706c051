package access

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgate/medgate/internal/platform/auth"
	"github.com/medgate/medgate/internal/platform/middleware"
	"github.com/medgate/medgate/pkg/clinical"
)

// Handler exposes the gate to the record-CRUD route layer: services that
// cannot call the gate in-process use this endpoint as their access check.
type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/check", h.CheckAccess)
}

type checkAccessBody struct {
	PatientID    uuid.UUID             `json:"patient_id"`
	ActorKind    clinical.ActorKind    `json:"actor_kind"`
	FacilityID   *uuid.UUID            `json:"facility_id"`
	ResourceType clinical.ResourceType `json:"resource_type"`
	ActionType   clinical.ActionType   `json:"action_type"`
}

// CheckAccess runs the evaluate-and-record gate for the authenticated
// actor. The actor's identity and capability set come from the auth
// context; the emergency flag and justification come from the emergency
// access middleware, never from the request body.
func (h *Handler) CheckAccess(c echo.Context) error {
	var body checkAccessBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	actorID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "actor identity required")
	}

	req := &Request{
		PatientID:              body.PatientID,
		ActorID:                actorID,
		ActorKind:              body.ActorKind,
		ActorCapabilities:      auth.CapabilitiesFromContext(ctx),
		FacilityID:             body.FacilityID,
		ResourceType:           body.ResourceType,
		ActionType:             body.ActionType,
		Emergency:              middleware.IsEmergencyAccess(ctx),
		EmergencyJustification: middleware.EmergencyJustification(ctx),
	}
	if !req.ActorKind.Valid() {
		req.ActorKind = clinical.ActorProvider
	}

	decision, err := h.gate.Authorize(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrAuditWrite):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "access cannot be granted: audit trail unavailable")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	status := http.StatusOK
	if !decision.Granted {
		status = http.StatusForbidden
	}
	return c.JSON(status, decision)
}
