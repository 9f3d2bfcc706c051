package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Review carries the annotation appended to an event by a human reviewer.
type Review struct {
	By     uuid.UUID
	At     time.Time
	Notes  string
	Action string
}

// Repository persists audit events. Events are append-only: no method
// mutates a recorded decision field, and Annotate writes only the review
// columns of an event that has not been reviewed yet.
type Repository interface {
	Create(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// Annotate sets the review columns on an unreviewed event. Returns
	// ErrInvalidState if the event was already reviewed, ErrNotFound if it
	// does not exist.
	Annotate(ctx context.Context, id uuid.UUID, rev Review) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error)
	ListSuspicious(ctx context.Context, f Filters, limit, offset int) ([]*Event, int, error)
	StatsByFacility(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (*FacilityStats, error)
}
