package consent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medgate/medgate/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG is the PostgreSQL consent repository.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const consentCols = `id, patient_id, provider_id, facility_id, consent_type, access_level,
	scope_demographics, scope_medical_history, scope_medications,
	scope_lab_results, scope_radiology, scope_clinical_notes,
	valid_from, valid_until, purpose, verification_method, given_by, status,
	revoked_at, revoked_by, revoked_reason, created_at, updated_at`

func scanConsent(row pgx.Row) (*Consent, error) {
	var c Consent
	err := row.Scan(
		&c.ID, &c.PatientID, &c.ProviderID, &c.FacilityID, &c.ConsentType, &c.AccessLevel,
		&c.Scope.Demographics, &c.Scope.MedicalHistory, &c.Scope.Medications,
		&c.Scope.LabResults, &c.Scope.Radiology, &c.Scope.ClinicalNotes,
		&c.ValidFrom, &c.ValidUntil, &c.Purpose, &c.VerificationMethod, &c.GivenBy, &c.Status,
		&c.RevokedAt, &c.RevokedBy, &c.RevokedReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *RepoPG) Create(ctx context.Context, c *Consent) error {
	const q = `
		INSERT INTO consent (
			id, patient_id, provider_id, facility_id, consent_type, access_level,
			scope_demographics, scope_medical_history, scope_medications,
			scope_lab_results, scope_radiology, scope_clinical_notes,
			valid_from, valid_until, purpose, status, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)`

	_, err := r.conn(ctx).Exec(ctx, q,
		c.ID, c.PatientID, c.ProviderID, c.FacilityID, c.ConsentType, c.AccessLevel,
		c.Scope.Demographics, c.Scope.MedicalHistory, c.Scope.Medications,
		c.Scope.LabResults, c.Scope.Radiology, c.Scope.ClinicalNotes,
		c.ValidFrom, c.ValidUntil, c.Purpose, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consent, error) {
	q := fmt.Sprintf("SELECT %s FROM consent WHERE id = $1", consentCols)
	return scanConsent(r.conn(ctx).QueryRow(ctx, q, id))
}

// Approve is a compare-and-set transition: the UPDATE matches only a
// pending row, so two concurrent approvals cannot both succeed.
func (r *RepoPG) Approve(ctx context.Context, id uuid.UUID, method VerificationMethod, givenBy uuid.UUID) error {
	const q = `
		UPDATE consent
		SET status = $2, verification_method = $3, given_by = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5`

	tag, err := r.conn(ctx).Exec(ctx, q, id, StatusActive, method, givenBy, StatusPending)
	if err != nil {
		return fmt.Errorf("approve consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id, StatusPending)
	}
	return nil
}

// Revoke is a compare-and-set transition matching only a stored-active row.
func (r *RepoPG) Revoke(ctx context.Context, id uuid.UUID, rev Revocation) error {
	const q = `
		UPDATE consent
		SET status = $2, revoked_at = $3, revoked_by = $4, revoked_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6`

	tag, err := r.conn(ctx).Exec(ctx, q, id, StatusRevoked, rev.At, rev.By, rev.Reason, StatusActive)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.transitionConflict(ctx, id, StatusActive)
	}
	return nil
}

// transitionConflict distinguishes a missing consent from one in the wrong
// state after a compare-and-set update matched no rows.
func (r *RepoPG) transitionConflict(ctx context.Context, id uuid.UUID, want Status) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: consent is %s, expected %s", ErrInvalidState, c.Status, want)
}

// FindActive returns stored-active consents for the patient that cover the
// given provider (directly, or via a facility-wide grant), most recently
// created first. With no provider restriction all stored-active consents
// for the patient are returned.
func (r *RepoPG) FindActive(ctx context.Context, patientID uuid.UUID, providerID, facilityID *uuid.UUID) ([]*Consent, error) {
	q := fmt.Sprintf(`SELECT %s FROM consent WHERE patient_id = $1 AND status = $2`, consentCols)
	args := []interface{}{patientID, StatusActive}

	if providerID != nil {
		q += ` AND (provider_id = $3 OR (provider_id IS NULL AND facility_id = $4))`
		args = append(args, *providerID, facilityID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find active consents: %w", err)
	}
	defer rows.Close()

	var items []*Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM consent WHERE patient_id = $1", patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM consent WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, consentCols)

	rows, err := r.conn(ctx).Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
