package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medgate/medgate/internal/platform/db"
	"github.com/medgate/medgate/pkg/clinical"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG is the PostgreSQL audit event repository.
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

const eventCols = `id, patient_id, actor_id, actor_kind, facility_id,
	action_type, resource_type, consent_id,
	was_emergency_access, emergency_justification,
	access_result, denial_reason, suspicious, suspicious_reason,
	reviewed_by, reviewed_at, review_notes, review_action, recorded`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.PatientID, &e.ActorID, &e.ActorKind, &e.FacilityID,
		&e.ActionType, &e.ResourceType, &e.ConsentID,
		&e.WasEmergencyAccess, &e.EmergencyJustification,
		&e.AccessResult, &e.DenialReason, &e.Suspicious, &e.SuspiciousReason,
		&e.ReviewedBy, &e.ReviewedAt, &e.ReviewNotes, &e.ReviewAction, &e.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

func (r *RepoPG) Create(ctx context.Context, e *Event) error {
	const q = `
		INSERT INTO audit_event (
			id, patient_id, actor_id, actor_kind, facility_id,
			action_type, resource_type, consent_id,
			was_emergency_access, emergency_justification,
			access_result, denial_reason, suspicious, suspicious_reason, recorded
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
		)`

	_, err := r.conn(ctx).Exec(ctx, q,
		e.ID, e.PatientID, e.ActorID, e.ActorKind, e.FacilityID,
		e.ActionType, e.ResourceType, e.ConsentID,
		e.WasEmergencyAccess, e.EmergencyJustification,
		e.AccessResult, e.DenialReason, e.Suspicious, e.SuspiciousReason, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_event WHERE id = $1", eventCols)
	return scanEvent(r.conn(ctx).QueryRow(ctx, q, id))
}

// Annotate writes the review columns only, and only once: the UPDATE
// matches solely rows with reviewed_at still null.
func (r *RepoPG) Annotate(ctx context.Context, id uuid.UUID, rev Review) error {
	const q = `
		UPDATE audit_event
		SET reviewed_by = $2, reviewed_at = $3, review_notes = $4, review_action = $5
		WHERE id = $1 AND reviewed_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, q, id, rev.By, rev.At, rev.Notes, rev.Action)
	if err != nil {
		return fmt.Errorf("annotate audit event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func buildFilterClause(f Filters, args []interface{}) ([]string, []interface{}) {
	var where []string
	idx := len(args) + 1

	if f.ActorID != nil {
		where = append(where, fmt.Sprintf("actor_id = $%d", idx))
		args = append(args, *f.ActorID)
		idx++
	}
	if f.ActionType != "" {
		where = append(where, fmt.Sprintf("action_type = $%d", idx))
		args = append(args, f.ActionType)
		idx++
	}
	if f.ResourceType != "" {
		where = append(where, fmt.Sprintf("resource_type = $%d", idx))
		args = append(args, f.ResourceType)
		idx++
	}
	if f.Result != "" {
		where = append(where, fmt.Sprintf("access_result = $%d", idx))
		args = append(args, f.Result)
		idx++
	}
	if f.EmergencyOnly {
		where = append(where, "was_emergency_access")
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("recorded >= $%d", idx))
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("recorded < $%d", idx))
		args = append(args, *f.To)
		idx++
	}
	return where, args
}

func (r *RepoPG) list(ctx context.Context, where []string, args []interface{}, limit, offset int) ([]*Event, int, error) {
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_event %s", whereClause)
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	q := fmt.Sprintf("SELECT %s FROM audit_event %s ORDER BY recorded DESC LIMIT $%d OFFSET $%d",
		eventCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f Filters, limit, offset int) ([]*Event, int, error) {
	args := []interface{}{patientID}
	where := []string{"patient_id = $1"}
	more, args := buildFilterClause(f, args)
	return r.list(ctx, append(where, more...), args, limit, offset)
}

func (r *RepoPG) ListSuspicious(ctx context.Context, f Filters, limit, offset int) ([]*Event, int, error) {
	where := []string{"suspicious"}
	more, args := buildFilterClause(f, nil)
	return r.list(ctx, append(where, more...), args, limit, offset)
}

func (r *RepoPG) StatsByFacility(ctx context.Context, facilityID uuid.UUID, from, to time.Time) (*FacilityStats, error) {
	stats := &FacilityStats{
		FacilityID:   facilityID,
		From:         from,
		To:           to,
		ByActionType: make(map[clinical.ActionType]int),
	}

	const totalsQ = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE access_result = 'success'),
			COUNT(*) FILTER (WHERE access_result = 'denied'),
			COUNT(*) FILTER (WHERE was_emergency_access),
			COUNT(*) FILTER (WHERE suspicious)
		FROM audit_event
		WHERE facility_id = $1 AND recorded >= $2 AND recorded < $3`

	err := r.conn(ctx).QueryRow(ctx, totalsQ, facilityID, from, to).Scan(
		&stats.Total, &stats.Success, &stats.Denied, &stats.Emergency, &stats.SuspiciousCount)
	if err != nil {
		return nil, fmt.Errorf("facility stats totals: %w", err)
	}

	const breakdownQ = `
		SELECT action_type, COUNT(*)
		FROM audit_event
		WHERE facility_id = $1 AND recorded >= $2 AND recorded < $3
		GROUP BY action_type`

	rows, err := r.conn(ctx).Query(ctx, breakdownQ, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("facility stats breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action clinical.ActionType
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.ByActionType[action] = count
	}
	return stats, rows.Err()
}
