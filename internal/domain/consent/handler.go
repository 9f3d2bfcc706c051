package consent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	api.POST("/consents", h.RequestConsent)
	api.POST("/consents/:id/approve", h.ApproveConsent)
	api.POST("/consents/:id/revoke", h.RevokeConsent)
	api.GET("/consents/:id", h.GetConsent)
	api.GET("/consents/check", h.CheckConsent)
	api.GET("/patients/:patientId/consents", h.ListPatientConsents)
}

type requestConsentBody struct {
	PatientID   uuid.UUID   `json:"patient_id"`
	ProviderID  *uuid.UUID  `json:"provider_id"`
	FacilityID  *uuid.UUID  `json:"facility_id"`
	ConsentType Type        `json:"consent_type"`
	AccessLevel AccessLevel `json:"access_level"`
	Scope       Scope       `json:"scope"`
	ValidFrom   *time.Time  `json:"valid_from"`
	ValidUntil  *time.Time  `json:"valid_until"`
	Purpose     string      `json:"purpose"`
}

func (h *Handler) RequestConsent(c echo.Context) error {
	var body requestConsentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cons := &Consent{
		PatientID:   body.PatientID,
		ProviderID:  body.ProviderID,
		FacilityID:  body.FacilityID,
		ConsentType: body.ConsentType,
		AccessLevel: body.AccessLevel,
		Scope:       body.Scope,
		ValidUntil:  body.ValidUntil,
		Purpose:     body.Purpose,
	}
	if body.ValidFrom != nil {
		cons.ValidFrom = *body.ValidFrom
	}

	id, err := h.svc.Request(c.Request().Context(), cons)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"id": id, "status": StatusPending})
}

type approveConsentBody struct {
	VerificationMethod VerificationMethod `json:"verification_method"`
	GivenBy            uuid.UUID          `json:"given_by"`
}

func (h *Handler) ApproveConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body approveConsentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Approve(c.Request().Context(), id, body.VerificationMethod, body.GivenBy); err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "status": StatusActive})
}

type revokeConsentBody struct {
	Reason    string    `json:"reason"`
	RevokedBy uuid.UUID `json:"revoked_by"`
}

func (h *Handler) RevokeConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body revokeConsentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Revoke(c.Request().Context(), id, body.Reason, body.RevokedBy); err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "status": StatusRevoked})
}

func (h *Handler) GetConsent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cons, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) CheckConsent(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}

	var providerID, facilityID *uuid.UUID
	if v := c.QueryParam("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		providerID = &id
	}
	if v := c.QueryParam("facility_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid facility_id")
		}
		facilityID = &id
	}

	var resourceType *clinical.ResourceType
	if v := c.QueryParam("resource_type"); v != "" {
		rt := clinical.ResourceType(v)
		if !rt.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized resource_type")
		}
		resourceType = &rt
	}

	result, err := h.svc.Check(c.Request().Context(), patientID, providerID, facilityID, resourceType)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListPatientConsents(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	if c.QueryParam("active") == "true" {
		items, err := h.svc.ListActive(c.Request().Context(), patientID)
		if err != nil {
			return translateError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// translateError maps registry errors onto transport status codes. The
// engine itself never builds transport responses; this is the route layer's
// half of the contract.
func translateError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "consent not found")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
