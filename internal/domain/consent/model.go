package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/pkg/clinical"
)

// Type categorizes the legal basis of a consent grant.
type Type string

const (
	TypeFullAccess        Type = "full_access"
	TypeEmergencyOnly     Type = "emergency_only"
	TypeSpecificEncounter Type = "specific_encounter"
	TypeLimitedPeriod     Type = "limited_period"
	TypeResearch          Type = "research"
	TypeInsurance         Type = "insurance"
	TypeReferral          Type = "referral"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFullAccess, TypeEmergencyOnly, TypeSpecificEncounter,
		TypeLimitedPeriod, TypeResearch, TypeInsurance, TypeReferral:
		return true
	}
	return false
}

// AccessLevel is the operation class a consent permits. ReadWrite and
// FullControl both satisfy write-permission checks.
type AccessLevel string

const (
	AccessReadOnly    AccessLevel = "read_only"
	AccessReadWrite   AccessLevel = "read_write"
	AccessFullControl AccessLevel = "full_control"
)

func (l AccessLevel) Valid() bool {
	switch l {
	case AccessReadOnly, AccessReadWrite, AccessFullControl:
		return true
	}
	return false
}

// CanWrite reports whether the level permits update and delete actions.
func (l AccessLevel) CanWrite() bool {
	return l == AccessReadWrite || l == AccessFullControl
}

// VerificationMethod records how the patient's approval was verified.
type VerificationMethod string

const (
	VerifyBiometric        VerificationMethod = "biometric"
	VerifyOTP              VerificationMethod = "otp"
	VerifyDigitalSignature VerificationMethod = "digital_signature"
	VerifyVerbal           VerificationMethod = "verbal"
	VerifyWritten          VerificationMethod = "written"
)

func (m VerificationMethod) Valid() bool {
	switch m {
	case VerifyBiometric, VerifyOTP, VerifyDigitalSignature, VerifyVerbal, VerifyWritten:
		return true
	}
	return false
}

// Status is the stored lifecycle state of a consent. Evaluation logic must
// always go through EffectiveStatus, never the raw field, so that expiry
// cannot be bypassed by stale writes.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Scope is the fixed record of resource-type flags a consent covers. A
// fixed struct (rather than a key/value map) makes unknown resource-type
// keys unrepresentable.
type Scope struct {
	Demographics   bool `db:"scope_demographics" json:"demographics"`
	MedicalHistory bool `db:"scope_medical_history" json:"medical_history"`
	Medications    bool `db:"scope_medications" json:"medications"`
	LabResults     bool `db:"scope_lab_results" json:"lab_results"`
	Radiology      bool `db:"scope_radiology" json:"radiology"`
	ClinicalNotes  bool `db:"scope_clinical_notes" json:"clinical_notes"`
}

// Covers reports whether the scope includes the given resource type.
// Resource types with no scope flag (immunizations, vital signs, full
// record) are never covered by a scoped consent.
func (s Scope) Covers(rt clinical.ResourceType) bool {
	switch rt {
	case clinical.ResourceDemographics:
		return s.Demographics
	case clinical.ResourceMedicalHistory:
		return s.MedicalHistory
	case clinical.ResourceMedications:
		return s.Medications
	case clinical.ResourceLabResults:
		return s.LabResults
	case clinical.ResourceRadiology:
		return s.Radiology
	case clinical.ResourceClinicalNotes:
		return s.ClinicalNotes
	}
	return false
}

// IsEmpty reports whether no resource type is covered.
func (s Scope) IsEmpty() bool {
	return s == Scope{}
}

// Consent is a patient's time-bounded authorization for a provider or
// facility to access a class of clinical data.
type Consent struct {
	ID                 uuid.UUID          `db:"id" json:"id"`
	PatientID          uuid.UUID          `db:"patient_id" json:"patient_id"`
	ProviderID         *uuid.UUID         `db:"provider_id" json:"provider_id,omitempty"`
	FacilityID         *uuid.UUID         `db:"facility_id" json:"facility_id,omitempty"`
	ConsentType        Type               `db:"consent_type" json:"consent_type"`
	AccessLevel        AccessLevel        `db:"access_level" json:"access_level"`
	Scope              Scope              `db:"scope" json:"scope"`
	ValidFrom          time.Time          `db:"valid_from" json:"valid_from"`
	ValidUntil         *time.Time         `db:"valid_until" json:"valid_until,omitempty"`
	Purpose            string             `db:"purpose" json:"purpose"`
	VerificationMethod VerificationMethod `db:"verification_method" json:"verification_method,omitempty"`
	GivenBy            *uuid.UUID         `db:"given_by" json:"given_by,omitempty"`
	Status             Status             `db:"status" json:"status"`
	RevokedAt          *time.Time         `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy          *uuid.UUID         `db:"revoked_by" json:"revoked_by,omitempty"`
	RevokedReason      *string            `db:"revoked_reason" json:"revoked_reason,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus derives the consent's status at the given instant. A
// stored Active consent whose validity window has elapsed is Expired no
// matter what is persisted; one whose window has not yet opened is still
// Pending. Stored terminal states pass through unchanged.
func (c *Consent) EffectiveStatus(at time.Time) Status {
	if c.Status != StatusActive {
		return c.Status
	}
	if c.ValidUntil != nil && at.After(*c.ValidUntil) {
		return StatusExpired
	}
	if at.Before(c.ValidFrom) {
		return StatusPending
	}
	return StatusActive
}

// MatchesActor reports whether the consent's grantee covers the given
// provider at the given facility. A consent with no provider is a
// facility-wide grant and matches any actor at that facility.
func (c *Consent) MatchesActor(providerID uuid.UUID, facilityID *uuid.UUID) bool {
	if c.ProviderID != nil {
		return *c.ProviderID == providerID
	}
	if c.FacilityID != nil {
		return facilityID != nil && *c.FacilityID == *facilityID
	}
	return false
}
