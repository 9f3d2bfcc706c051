package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when the referenced audit event does not exist.
	ErrNotFound = errors.New("audit event not found")

	// ErrInvalidState is returned when an event is annotated twice.
	ErrInvalidState = errors.New("audit event already reviewed")

	// ErrValidation is returned for malformed events.
	ErrValidation = errors.New("audit event validation failed")
)

// Service records access attempts durably and answers compliance queries.
// Recording for patient-data-gated access is fail-closed: callers must
// treat a Record error as failure of the whole access, because an access
// must never be considered granted without its audit record existing.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) validate(e *Event) error {
	if e.ActorID == uuid.Nil {
		return fmt.Errorf("%w: actor_id is required", ErrValidation)
	}
	if !e.ActorKind.Valid() {
		return fmt.Errorf("%w: unrecognized actor kind %q", ErrValidation, e.ActorKind)
	}
	if !e.ActionType.Valid() {
		return fmt.Errorf("%w: unrecognized action type %q", ErrValidation, e.ActionType)
	}
	if !e.ResourceType.Valid() {
		return fmt.Errorf("%w: unrecognized resource type %q", ErrValidation, e.ResourceType)
	}
	if !e.AccessResult.Valid() {
		return fmt.Errorf("%w: unrecognized access result %q", ErrValidation, e.AccessResult)
	}
	if e.WasEmergencyAccess && e.EmergencyJustification == "" {
		return fmt.Errorf("%w: emergency access requires a justification", ErrValidation)
	}
	return nil
}

// stamp finalizes an event for writing: creation time, identity, and the
// suspicious flag, which is computed exactly once here and never
// recomputed afterwards.
func (s *Service) stamp(e *Event) {
	e.ID = uuid.New()
	e.Timestamp = s.now()
	e.ReviewedBy = nil
	e.ReviewedAt = nil
	e.ReviewNotes = ""
	e.ReviewAction = ""

	if e.WasEmergencyAccess && e.ConsentID == nil {
		e.Suspicious = true
		e.SuspiciousReason = SuspiciousEmergencyNoConsent
	} else {
		e.Suspicious = false
		e.SuspiciousReason = ""
	}
}

// Record durably writes one event for a patient-data-gated access attempt.
// The write is on the critical path: if it fails, the error propagates and
// the caller must fail the overall operation.
func (s *Service) Record(ctx context.Context, e *Event) (uuid.UUID, error) {
	if err := s.validate(e); err != nil {
		return uuid.Nil, err
	}
	if e.PatientID == nil || *e.PatientID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: patient_id is required for patient-data access records", ErrValidation)
	}

	s.stamp(e)
	if err := s.repo.Create(ctx, e); err != nil {
		return uuid.Nil, fmt.Errorf("record audit event: %w", err)
	}
	return e.ID, nil
}

// RecordAdministrative writes a best-effort event for logging with no
// patient subject (dashboards, aggregate views). A write failure is
// surfaced to the telemetry log only and never blocks the caller.
func (s *Service) RecordAdministrative(ctx context.Context, e *Event) {
	if err := s.validate(e); err != nil {
		s.logger.Error().Err(err).Msg("administrative audit event rejected")
		return
	}

	s.stamp(e)
	if err := s.repo.Create(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("actor_id", e.ActorID.String()).
			Str("action", string(e.ActionType)).
			Msg("administrative audit write failed")
	}
}

// ReviewEvent appends review metadata to an event. The originally recorded
// decision fields are never altered; a second review is refused.
func (s *Service) ReviewEvent(ctx context.Context, id, reviewedBy uuid.UUID, notes, action string) error {
	if reviewedBy == uuid.Nil {
		return fmt.Errorf("%w: reviewed_by is required", ErrValidation)
	}
	if action == "" {
		return fmt.Errorf("%w: review action is required", ErrValidation)
	}
	return s.repo.Annotate(ctx, id, Review{By: reviewedBy, At: s.now(), Notes: notes, Action: action})
}

// Get returns a single event by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Event, error) {
	return s.repo.GetByID(ctx, id)
}

// ByPatient returns a patient's audit trail, newest first.
func (s *Service) ByPatient(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error) {
	return s.repo.ListByPatient(ctx, patientID, f, limit, offset)
}

// Suspicious returns events flagged for human review, newest first.
func (s *Service) Suspicious(ctx context.Context, f Filters, limit, offset int) ([]*Event, int, error) {
	return s.repo.ListSuspicious(ctx, f, limit, offset)
}

// StatsByFacility aggregates a facility's access attempts over a range.
func (s *Service) StatsByFacility(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (*FacilityStats, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: date range end must be after start", ErrValidation)
	}
	return s.repo.StatsByFacility(ctx, facilityID, from, to)
}
