package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/domain/audit"
)

// ErrAuditWrite marks a granted access withdrawn because its audit record
// could not be written. Patient-data access is fail-closed: no audit
// record, no access.
var ErrAuditWrite = errors.New("audit record could not be written")

// Recorder is the slice of the audit logger the gate needs.
type Recorder interface {
	Record(ctx context.Context, e *audit.Event) (uuid.UUID, error)
}

// Gate is the caller-side wrapper combining evaluation and audit recording
// into the single operation record-layer callers invoke: every evaluation
// produces exactly one audit event, whatever the outcome.
type Gate struct {
	eval   *Evaluator
	audit  Recorder
	logger zerolog.Logger
}

func NewGate(eval *Evaluator, rec Recorder, logger zerolog.Logger) *Gate {
	return &Gate{eval: eval, audit: rec, logger: logger}
}

// Authorize evaluates the request and durably records the outcome. The
// returned decision is authoritative only when err is nil: a granted
// evaluation whose audit write fails comes back as an error, never as a
// granted decision.
//
// Validation errors from the evaluator (empty justification, bad enums)
// happen before any decision exists and are returned as-is; there is no
// decision to record for a request the engine could not interpret.
func (g *Gate) Authorize(ctx context.Context, req *Request) (*Decision, error) {
	decision, err := g.eval.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}

	event := g.buildEvent(req, decision)
	if _, recErr := g.audit.Record(ctx, event); recErr != nil {
		g.logger.Error().Err(recErr).
			Str("patient_id", req.PatientID.String()).
			Str("actor_id", req.ActorID.String()).
			Bool("granted", decision.Granted).
			Msg("audit write failed, access withdrawn")
		return nil, fmt.Errorf("%w: %v", ErrAuditWrite, recErr)
	}

	if decision.EmergencyOverride {
		g.logger.Warn().
			Str("patient_id", req.PatientID.String()).
			Str("actor_id", req.ActorID.String()).
			Str("justification", req.EmergencyJustification).
			Msg("emergency override access")
	}

	return decision, nil
}

func (g *Gate) buildEvent(req *Request, d *Decision) *audit.Event {
	result := audit.ResultDenied
	if d.Granted {
		result = audit.ResultSuccess
	}

	patientID := req.PatientID
	return &audit.Event{
		PatientID:              &patientID,
		ActorID:                req.ActorID,
		ActorKind:              req.ActorKind,
		FacilityID:             req.FacilityID,
		ActionType:             req.ActionType,
		ResourceType:           req.ResourceType,
		ConsentID:              d.ConsentID,
		WasEmergencyAccess:     req.Emergency,
		EmergencyJustification: req.EmergencyJustification,
		AccessResult:           result,
		DenialReason:           d.Reason,
	}
}
