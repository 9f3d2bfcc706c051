// Package access decides, for every attempted access to a patient's
// clinical data, whether the access is permitted and under what consent
// basis. The evaluator is a pure computation over consent registry state;
// it performs no writes. Callers must always follow an evaluation with an
// audit record, whatever the outcome — the Gate wraps both.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medgate/medgate/internal/domain/consent"
	"github.com/medgate/medgate/pkg/clinical"
)

// ErrValidation is returned for malformed access requests.
var ErrValidation = errors.New("access request validation failed")

// Denial reasons carried on denied decisions.
const (
	ReasonNoActiveConsent  = "no active consent"
	ReasonNotInScope       = "resource type not in consent scope"
	ReasonReadOnly         = "consent is read-only"
	ReasonMissingEmergency = "missing emergency override capability"
)

// Request describes one attempted access to a patient's clinical data.
// ActorCapabilities are resolved by the caller's authorization layer, not
// by this engine.
type Request struct {
	PatientID              uuid.UUID
	ActorID                uuid.UUID
	ActorKind              clinical.ActorKind
	ActorCapabilities      []string
	FacilityID             *uuid.UUID
	ResourceType           clinical.ResourceType
	ActionType             clinical.ActionType
	Emergency              bool
	EmergencyJustification string
}

// HasCapability reports whether the request's actor holds the capability.
func (r *Request) HasCapability(cap string) bool {
	for _, c := range r.ActorCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one access request.
type Decision struct {
	Granted           bool       `json:"granted"`
	Reason            string     `json:"reason,omitempty"`
	ConsentID         *uuid.UUID `json:"consent_id,omitempty"`
	EmergencyOverride bool       `json:"emergency_override"`
}

func denied(reason string) *Decision {
	return &Decision{Granted: false, Reason: reason}
}

// ConsentFinder is the slice of the consent registry the evaluator needs.
// Implementations must return only effectively active consents, most
// recently created first.
type ConsentFinder interface {
	FindActive(ctx context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID) ([]*consent.Consent, error)
}

// Evaluator computes access decisions from consent state. It is stateless
// apart from the registry it reads through.
type Evaluator struct {
	consents ConsentFinder
}

func NewEvaluator(consents ConsentFinder) *Evaluator {
	return &Evaluator{consents: consents}
}

// Evaluate computes the decision for one access request.
//
// The emergency path bypasses consent matching but never audit: it
// requires a justification and the emergency_override capability, and any
// matching active consent is attached for the suspicious-flag computation
// downstream. The normal path selects the most recently created matching
// active consent and checks its scope and access level.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if req.ActorID == uuid.Nil {
		return nil, fmt.Errorf("%w: actor_id is required", ErrValidation)
	}
	if !req.ResourceType.Valid() {
		return nil, fmt.Errorf("%w: unrecognized resource type %q", ErrValidation, req.ResourceType)
	}
	if !req.ActionType.Valid() {
		return nil, fmt.Errorf("%w: unrecognized action type %q", ErrValidation, req.ActionType)
	}

	if req.Emergency {
		return e.evaluateEmergency(ctx, req)
	}

	matches, err := e.consents.FindActive(ctx, req.PatientID, &req.ActorID, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("consent lookup: %w", err)
	}
	if len(matches) == 0 {
		return denied(ReasonNoActiveConsent), nil
	}

	selected := mostRecent(matches)

	if !selected.Scope.Covers(req.ResourceType) {
		return denied(ReasonNotInScope), nil
	}
	if req.ActionType.IsWrite() && !selected.AccessLevel.CanWrite() {
		return denied(ReasonReadOnly), nil
	}

	id := selected.ID
	return &Decision{Granted: true, ConsentID: &id}, nil
}

func (e *Evaluator) evaluateEmergency(ctx context.Context, req *Request) (*Decision, error) {
	if req.EmergencyJustification == "" {
		return nil, fmt.Errorf("%w: emergency access requires a justification", ErrValidation)
	}
	if !req.HasCapability(clinical.CapabilityEmergencyOverride) {
		return denied(ReasonMissingEmergency), nil
	}

	d := &Decision{Granted: true, EmergencyOverride: true}

	// A matching active consent is attached when one exists so that the
	// audit layer can tell documented emergencies from undocumented ones.
	matches, err := e.consents.FindActive(ctx, req.PatientID, &req.ActorID, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("consent lookup: %w", err)
	}
	if len(matches) > 0 {
		id := mostRecent(matches).ID
		d.ConsentID = &id
	}
	return d, nil
}

// mostRecent picks the consent with the latest creation time. The registry
// already orders results newest first; selecting explicitly keeps the
// most-recently-created-wins policy independent of store ordering.
func mostRecent(consents []*consent.Consent) *consent.Consent {
	selected := consents[0]
	latest := selected.CreatedAt
	for _, c := range consents[1:] {
		if c.CreatedAt.After(latest) {
			selected = c
			latest = c.CreatedAt
		}
	}
	return selected
}
