package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/pkg/clinical"
)

// AccessResult is the recorded outcome of an access attempt.
type AccessResult string

const (
	ResultSuccess AccessResult = "success"
	ResultDenied  AccessResult = "denied"
	ResultPartial AccessResult = "partial"
	ResultError   AccessResult = "error"
)

func (r AccessResult) Valid() bool {
	switch r {
	case ResultSuccess, ResultDenied, ResultPartial, ResultError:
		return true
	}
	return false
}

// SuspiciousEmergencyNoConsent is the reason stamped on emergency accesses
// that had no documented consent behind them.
const SuspiciousEmergencyNoConsent = "Emergency access without documented consent"

// Event is one immutable record of an access attempt, successful or not.
// Only the review-annotation fields are ever written after creation; the
// originally recorded decision fields never change.
type Event struct {
	ID         uuid.UUID          `db:"id" json:"id"`
	PatientID  *uuid.UUID         `db:"patient_id" json:"patient_id,omitempty"`
	ActorID    uuid.UUID          `db:"actor_id" json:"actor_id"`
	ActorKind  clinical.ActorKind `db:"actor_kind" json:"actor_kind"`
	FacilityID *uuid.UUID         `db:"facility_id" json:"facility_id,omitempty"`

	ActionType   clinical.ActionType   `db:"action_type" json:"action_type"`
	ResourceType clinical.ResourceType `db:"resource_type" json:"resource_type"`

	ConsentID              *uuid.UUID `db:"consent_id" json:"consent_id,omitempty"`
	WasEmergencyAccess     bool       `db:"was_emergency_access" json:"was_emergency_access"`
	EmergencyJustification string     `db:"emergency_justification" json:"emergency_justification,omitempty"`

	AccessResult AccessResult `db:"access_result" json:"access_result"`
	DenialReason string       `db:"denial_reason" json:"denial_reason,omitempty"`

	Suspicious       bool   `db:"suspicious" json:"suspicious"`
	SuspiciousReason string `db:"suspicious_reason" json:"suspicious_reason,omitempty"`

	ReviewedBy   *uuid.UUID `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNotes  string     `db:"review_notes" json:"review_notes,omitempty"`
	ReviewAction string     `db:"review_action" json:"review_action,omitempty"`

	Timestamp time.Time `db:"recorded" json:"timestamp"`
}

// Reviewed reports whether the review-annotation channel has been used.
func (e *Event) Reviewed() bool {
	return e.ReviewedAt != nil
}

// Filters narrows audit queries. Zero values mean "no restriction".
type Filters struct {
	ActorID       *uuid.UUID
	ActionType    clinical.ActionType
	ResourceType  clinical.ResourceType
	Result        AccessResult
	EmergencyOnly bool
	From          *time.Time
	To            *time.Time
}

// FacilityStats aggregates a facility's access attempts over a date range.
type FacilityStats struct {
	FacilityID      uuid.UUID                  `json:"facility_id"`
	From            time.Time                  `json:"from"`
	To              time.Time                  `json:"to"`
	Total           int                        `json:"total"`
	Success         int                        `json:"success"`
	Denied          int                        `json:"denied"`
	Emergency       int                        `json:"emergency"`
	SuspiciousCount int                        `json:"suspicious_count"`
	ByActionType    map[clinical.ActionType]int `json:"by_action_type"`
}
