package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/internal/domain/consent"
	"github.com/medgate/medgate/pkg/clinical"
)

// -- Mock consent registry --

type mockFinder struct {
	consents []*consent.Consent
	err      error
}

func (m *mockFinder) FindActive(_ context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID) ([]*consent.Consent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var r []*consent.Consent
	for _, c := range m.consents {
		if c.PatientID != patientID {
			continue
		}
		if providerID != nil && !c.MatchesActor(*providerID, facilityID) {
			continue
		}
		r = append(r, c)
	}
	return r, nil
}

func activeConsent(patientID, providerID uuid.UUID, level consent.AccessLevel, scope consent.Scope) *consent.Consent {
	return &consent.Consent{
		ID:          uuid.New(),
		PatientID:   patientID,
		ProviderID:  &providerID,
		AccessLevel: level,
		Scope:       scope,
		Status:      consent.StatusActive,
		CreatedAt:   time.Now(),
	}
}

func viewRequest(patientID, actorID uuid.UUID) *Request {
	return &Request{
		PatientID:    patientID,
		ActorID:      actorID,
		ActorKind:    clinical.ActorProvider,
		ResourceType: clinical.ResourceMedications,
		ActionType:   clinical.ActionView,
	}
}

// -- Evaluation Tests --

func TestEvaluate_GrantedWithMatchingConsent(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()
	c := activeConsent(patient, provider, consent.AccessReadOnly, consent.Scope{Medications: true})
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{c}})

	d, err := eval.Evaluate(context.Background(), viewRequest(patient, provider))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("expected granted, got denied: %s", d.Reason)
	}
	if d.ConsentID == nil || *d.ConsentID != c.ID {
		t.Error("expected the matching consent id on the decision")
	}
	if d.EmergencyOverride {
		t.Error("did not expect emergency override on the normal path")
	}
}

func TestEvaluate_DeniedWithoutConsent(t *testing.T) {
	eval := NewEvaluator(&mockFinder{})

	d, err := eval.Evaluate(context.Background(), viewRequest(uuid.New(), uuid.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Granted {
		t.Fatal("expected denied")
	}
	if d.Reason != ReasonNoActiveConsent {
		t.Errorf("expected reason %q, got %q", ReasonNoActiveConsent, d.Reason)
	}
}

func TestEvaluate_DeniedOutOfScope(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()
	c := activeConsent(patient, provider, consent.AccessReadOnly, consent.Scope{Demographics: true})
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{c}})

	d, err := eval.Evaluate(context.Background(), viewRequest(patient, provider))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Granted {
		t.Fatal("expected denied for out-of-scope resource")
	}
	if d.Reason != ReasonNotInScope {
		t.Errorf("expected reason %q, got %q", ReasonNotInScope, d.Reason)
	}
}

func TestEvaluate_WriteDeniedOnReadOnlyConsent(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()
	c := activeConsent(patient, provider, consent.AccessReadOnly, consent.Scope{Medications: true})
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{c}})

	req := viewRequest(patient, provider)
	req.ActionType = clinical.ActionUpdate

	d, err := eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Granted {
		t.Fatal("expected write to be denied on read-only consent")
	}
	if d.Reason != ReasonReadOnly {
		t.Errorf("expected reason %q, got %q", ReasonReadOnly, d.Reason)
	}
}

func TestEvaluate_WriteGrantedOnReadWriteConsent(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()
	c := activeConsent(patient, provider, consent.AccessReadWrite, consent.Scope{Medications: true})
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{c}})

	req := viewRequest(patient, provider)
	req.ActionType = clinical.ActionUpdate

	d, err := eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("expected granted, got denied: %s", d.Reason)
	}
}

func TestEvaluate_MostRecentConsentWins(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()

	older := activeConsent(patient, provider, consent.AccessReadOnly, consent.Scope{Medications: true})
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := activeConsent(patient, provider, consent.AccessReadWrite, consent.Scope{Medications: true})

	// Store order deliberately oldest-first; selection must not depend on it.
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{older, newer}})

	req := viewRequest(patient, provider)
	req.ActionType = clinical.ActionUpdate

	d, err := eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("expected grant via the newer read-write consent, got: %s", d.Reason)
	}
	if d.ConsentID == nil || *d.ConsentID != newer.ID {
		t.Error("expected the most recently created consent to be selected")
	}
}

func TestEvaluate_Validation(t *testing.T) {
	eval := NewEvaluator(&mockFinder{})

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing patient", func(r *Request) { r.PatientID = uuid.Nil }},
		{"missing actor", func(r *Request) { r.ActorID = uuid.Nil }},
		{"bad resource type", func(r *Request) { r.ResourceType = "genome" }},
		{"bad action type", func(r *Request) { r.ActionType = "peek" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := viewRequest(uuid.New(), uuid.New())
			tc.mutate(req)
			_, err := eval.Evaluate(context.Background(), req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// -- Emergency Path --

func emergencyRequest(patientID, actorID uuid.UUID) *Request {
	req := viewRequest(patientID, actorID)
	req.ActionType = clinical.ActionEmergencyAccess
	req.ActorCapabilities = []string{clinical.CapabilityEmergencyOverride}
	req.Emergency = true
	req.EmergencyJustification = "patient unconscious in ED"
	return req
}

func TestEvaluate_EmergencyBypassesConsent(t *testing.T) {
	eval := NewEvaluator(&mockFinder{})

	d, err := eval.Evaluate(context.Background(), emergencyRequest(uuid.New(), uuid.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Granted {
		t.Fatalf("expected emergency grant, got: %s", d.Reason)
	}
	if !d.EmergencyOverride {
		t.Error("expected the override flag on the decision")
	}
	if d.ConsentID != nil {
		t.Error("expected no consent id without a matching consent")
	}
}

func TestEvaluate_EmergencyAttachesMatchingConsent(t *testing.T) {
	patient := uuid.New()
	provider := uuid.New()
	c := activeConsent(patient, provider, consent.AccessReadOnly, consent.Scope{Medications: true})
	eval := NewEvaluator(&mockFinder{consents: []*consent.Consent{c}})

	d, err := eval.Evaluate(context.Background(), emergencyRequest(patient, provider))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Granted || !d.EmergencyOverride {
		t.Fatal("expected emergency grant")
	}
	if d.ConsentID == nil || *d.ConsentID != c.ID {
		t.Error("expected the matching consent attached for audit")
	}
}

func TestEvaluate_EmergencyRequiresJustification(t *testing.T) {
	eval := NewEvaluator(&mockFinder{})

	req := emergencyRequest(uuid.New(), uuid.New())
	req.EmergencyJustification = ""

	_, err := eval.Evaluate(context.Background(), req)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestEvaluate_EmergencyRequiresCapability(t *testing.T) {
	eval := NewEvaluator(&mockFinder{})

	req := emergencyRequest(uuid.New(), uuid.New())
	req.ActorCapabilities = nil

	d, err := eval.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Granted {
		t.Fatal("expected denial without the override capability")
	}
	if d.Reason != ReasonMissingEmergency {
		t.Errorf("expected reason %q, got %q", ReasonMissingEmergency, d.Reason)
	}
}

func TestEvaluate_EmergencyLookupErrorPropagates(t *testing.T) {
	lookupErr := errors.New("registry unavailable")
	eval := NewEvaluator(&mockFinder{err: lookupErr})

	_, err := eval.Evaluate(context.Background(), emergencyRequest(uuid.New(), uuid.New()))
	if !errors.Is(err, lookupErr) {
		t.Errorf("expected the lookup error to propagate, got %v", err)
	}
}
