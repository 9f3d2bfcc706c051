package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Revocation carries the metadata stamped onto a consent when it is revoked.
type Revocation struct {
	At     time.Time
	By     uuid.UUID
	Reason string
}

// Repository persists consents. Approve and Revoke are compare-and-set:
// the transition is applied only if the stored status still matches the
// precondition, so concurrent approvals or revocations cannot produce
// inconsistent metadata.
type Repository interface {
	Create(ctx context.Context, c *Consent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consent, error)

	// Approve transitions pending -> active, recording the verification
	// method and approver. Returns ErrInvalidState if the stored status is
	// not pending, ErrNotFound if the consent does not exist.
	Approve(ctx context.Context, id uuid.UUID, method VerificationMethod, givenBy uuid.UUID) error

	// Revoke transitions active -> revoked, stamping revocation metadata.
	// Returns ErrInvalidState if the stored status is not active,
	// ErrNotFound if the consent does not exist.
	Revoke(ctx context.Context, id uuid.UUID, rev Revocation) error

	// FindActive returns stored-active consents for the patient matching
	// the optional provider/facility restriction, most recently created
	// first. Callers must still apply EffectiveStatus before trusting
	// "active".
	FindActive(ctx context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID) ([]*Consent, error)

	// ListByPatient returns all of a patient's consents regardless of
	// status, most recently created first, paginated.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consent, int, error)
}
