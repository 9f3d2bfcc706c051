package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/pkg/clinical"
)

var (
	// ErrNotFound is returned when the referenced consent does not exist.
	ErrNotFound = errors.New("consent not found")

	// ErrInvalidState is returned when a lifecycle transition is attempted
	// from a state that does not allow it.
	ErrInvalidState = errors.New("invalid consent state")

	// ErrValidation is returned for malformed consent requests.
	ErrValidation = errors.New("consent validation failed")
)

// Service is the consent registry: it owns the consent lifecycle and the
// active-consent lookups the access evaluator depends on. It knows nothing
// about access decisions.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Request validates a consent grant request and stores it in status
// pending. The consent becomes usable only after explicit patient approval.
func (s *Service) Request(ctx context.Context, c *Consent) (uuid.UUID, error) {
	if c.PatientID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if c.Purpose == "" {
		return uuid.Nil, fmt.Errorf("%w: purpose is required", ErrValidation)
	}
	if !c.ConsentType.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unrecognized consent type %q", ErrValidation, c.ConsentType)
	}
	if !c.AccessLevel.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unrecognized access level %q", ErrValidation, c.AccessLevel)
	}
	if c.Scope.IsEmpty() {
		return uuid.Nil, fmt.Errorf("%w: scope must cover at least one resource type", ErrValidation)
	}
	if c.ProviderID == nil && c.FacilityID == nil {
		return uuid.Nil, fmt.Errorf("%w: a provider or facility grantee is required", ErrValidation)
	}

	now := s.now()
	if c.ValidFrom.IsZero() {
		c.ValidFrom = now
	}
	if c.ValidUntil != nil && !c.ValidUntil.After(c.ValidFrom) {
		return uuid.Nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrValidation)
	}

	c.ID = uuid.New()
	c.Status = StatusPending
	c.VerificationMethod = ""
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.repo.Create(ctx, c); err != nil {
		return uuid.Nil, fmt.Errorf("create consent: %w", err)
	}
	return c.ID, nil
}

// Approve transitions a pending consent to active, recording how the
// patient's approval was verified and by whom it was given.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, method VerificationMethod, givenBy uuid.UUID) error {
	if !method.Valid() {
		return fmt.Errorf("%w: unrecognized verification method %q", ErrValidation, method)
	}
	if givenBy == uuid.Nil {
		return fmt.Errorf("%w: given_by is required", ErrValidation)
	}
	return s.repo.Approve(ctx, id, method, givenBy)
}

// Revoke transitions an effectively active consent to revoked. A consent
// whose validity window has already elapsed cannot be revoked; it is
// expired, a terminal state of its own.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, reason string, revokedBy uuid.UUID) error {
	if reason == "" {
		return fmt.Errorf("%w: revocation reason is required", ErrValidation)
	}
	if revokedBy == uuid.Nil {
		return fmt.Errorf("%w: revoked_by is required", ErrValidation)
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.EffectiveStatus(s.now()) != StatusActive {
		return fmt.Errorf("%w: consent is %s, only active consents can be revoked",
			ErrInvalidState, c.EffectiveStatus(s.now()))
	}

	return s.repo.Revoke(ctx, id, Revocation{At: s.now(), By: revokedBy, Reason: reason})
}

// Get returns the consent by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consent, error) {
	return s.repo.GetByID(ctx, id)
}

// FindActive returns the patient's effectively active consents matching
// the optional provider/facility restriction, most recently created first.
// Stored-active consents whose window has elapsed or not yet opened are
// filtered out here, so callers never see a stale "active".
func (s *Service) FindActive(ctx context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID) ([]*Consent, error) {
	stored, err := s.repo.FindActive(ctx, patientID, providerID, facilityID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	active := stored[:0]
	for _, c := range stored {
		if c.EffectiveStatus(now) == StatusActive {
			active = append(active, c)
		}
	}
	return active, nil
}

// CheckResult is the answer to a consent pre-check from the record layer.
type CheckResult struct {
	HasConsent bool     `json:"has_consent"`
	Consent    *Consent `json:"consent,omitempty"`
}

// Check reports whether the patient has an effectively active consent for
// the given provider/facility, optionally narrowed to consents whose scope
// covers a resource type. The most recently created match wins.
func (s *Service) Check(ctx context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID, resourceType *clinical.ResourceType) (*CheckResult, error) {
	active, err := s.FindActive(ctx, patientID, providerID, facilityID)
	if err != nil {
		return nil, err
	}
	for _, c := range active {
		if resourceType != nil && !c.Scope.Covers(*resourceType) {
			continue
		}
		return &CheckResult{HasConsent: true, Consent: c}, nil
	}
	return &CheckResult{HasConsent: false}, nil
}

// ListByPatient returns all of a patient's consents, paginated. Stored
// statuses are reported as their effective status so an elapsed consent
// reads expired even before any write touches it.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consent, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, c := range items {
		c.Status = c.EffectiveStatus(now)
	}
	return items, total, nil
}

// ListActive returns the patient's effectively active consents.
func (s *Service) ListActive(ctx context.Context, patientID uuid.UUID) ([]*Consent, error) {
	return s.FindActive(ctx, patientID, nil, nil)
}
