package ambulancetrip

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

const tripCols = `id, trip_number, ambulance_id, patient_id, driver_id, pickup_location, destination,
	trip_date, start_time, end_time, distance_km, rate_per_km, charge, status, notes, invoice_id,
	created_at, updated_at`

func (r *repoPG) scanRow(row pgx.Row) (*Trip, error) {
	var t Trip
	err := row.Scan(&t.ID, &t.TripNumber, &t.AmbulanceID, &t.PatientID, &t.DriverID, &t.PickupLocation,
		&t.Destination, &t.TripDate, &t.StartTime, &t.EndTime, &t.DistanceKm, &t.RatePerKm, &t.Charge,
		&t.Status, &t.Notes, &t.InvoiceID, &t.CreatedAt, &t.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("ambulance trip")
	}
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *Trip) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulance_trips (id, trip_number, ambulance_id, patient_id, driver_id, pickup_location,
			destination, trip_date, distance_km, rate_per_km, charge, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		t.ID, t.TripNumber, t.AmbulanceID, t.PatientID, t.DriverID, t.PickupLocation,
		t.Destination, t.TripDate, t.DistanceKm, t.RatePerKm, t.Charge, t.Status, t.Notes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if c, dup := db.UniqueViolation(err); dup {
		if c == "ambulance_trips_active_idx" {
			return apperr.ResourceUnavailable("ambulance already has an active trip")
		}
		return fmt.Errorf("duplicate trip number %s: %w", t.TripNumber, err)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Trip, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+tripCols+` FROM ambulance_trips WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Trip, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+tripCols+` FROM ambulance_trips WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, t *Trip) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE ambulance_trips SET start_time = $2, end_time = $3, distance_km = $4, rate_per_km = $5,
			charge = $6, status = $7, notes = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.StartTime, t.EndTime, t.DistanceKm, t.RatePerKm, t.Charge, t.Status, t.Notes,
	).Scan(&t.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("ambulance trip")
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ambulance_trips WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("ambulance trip")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Trip, int, error) {
	where, args := []string{"TRUE"}, []interface{}{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.AmbulanceID != nil {
		args = append(args, *f.AmbulanceID)
		where = append(where, fmt.Sprintf("ambulance_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulance_trips WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+tripCols+` FROM ambulance_trips WHERE %s ORDER BY trip_date DESC LIMIT $%d OFFSET $%d`,
			cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) ListUnbilled(ctx context.Context, patientID uuid.UUID) ([]*Trip, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+tripCols+` FROM ambulance_trips
		WHERE patient_id = $1 AND status = 'completed' AND invoice_id IS NULL
		ORDER BY trip_date`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Trip, error) {
	var items []*Trip
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkBilled(ctx context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ambulance_trips SET invoice_id = $1, updated_at = NOW()
		WHERE id = ANY($2) AND invoice_id IS NULL AND status = 'completed'`, invoiceID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE ambulance_trips SET invoice_id = NULL, updated_at = NOW() WHERE invoice_id = $1`, invoiceID)
	return err
}
