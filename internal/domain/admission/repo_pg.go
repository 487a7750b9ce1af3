package admission

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const admCols = `id, admission_number, patient_id, doctor_id, bed_id, admission_date, discharge_date,
	reason, diagnosis, treatment_plan, discharge_summary, status, stay_days, daily_rate, charge,
	invoice_id, created_at, updated_at`

func (r *repoPG) scanRow(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.AdmissionNumber, &a.PatientID, &a.DoctorID, &a.BedID, &a.AdmissionDate,
		&a.DischargeDate, &a.Reason, &a.Diagnosis, &a.TreatmentPlan, &a.DischargeSummary, &a.Status,
		&a.StayDays, &a.DailyRate, &a.Charge, &a.InvoiceID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("admission")
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admissions (id, admission_number, patient_id, doctor_id, bed_id, admission_date,
			reason, diagnosis, treatment_plan, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.AdmissionNumber, a.PatientID, a.DoctorID, a.BedID, a.AdmissionDate,
		a.Reason, a.Diagnosis, a.TreatmentPlan, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if c, dup := db.UniqueViolation(err); dup {
		if c == "admissions_active_bed_idx" {
			return apperr.ResourceUnavailable("bed already has an active admission")
		}
		return fmt.Errorf("duplicate admission number %s: %w", a.AdmissionNumber, err)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admissions WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+admCols+` FROM admissions WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admissions SET discharge_date = $2, diagnosis = $3, treatment_plan = $4,
			discharge_summary = $5, status = $6, stay_days = $7, daily_rate = $8, charge = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.DischargeDate, a.Diagnosis, a.TreatmentPlan, a.DischargeSummary, a.Status,
		a.StayDays, a.DailyRate, a.Charge,
	).Scan(&a.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("admission")
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM admissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("admission")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	where, args := []string{"TRUE"}, []interface{}{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.BedID != nil {
		args = append(args, *f.BedID)
		where = append(where, fmt.Sprintf("bed_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admissions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+admCols+` FROM admissions WHERE %s ORDER BY admission_date DESC LIMIT $%d OFFSET $%d`,
			cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) ListUnbilled(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+admCols+` FROM admissions
		WHERE patient_id = $1 AND status = 'discharged' AND invoice_id IS NULL
		ORDER BY admission_date`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Admission, error) {
	var items []*Admission
	for rows.Next() {
		a, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkBilled(ctx context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admissions SET invoice_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND invoice_id IS NULL AND status = 'discharged'`, invoiceID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE admissions SET invoice_id = NULL, updated_at = NOW() WHERE invoice_id = $1`, invoiceID)
	return err
}
