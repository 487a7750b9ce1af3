package resource

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

var tables = map[Kind]string{
	KindBed:       "beds",
	KindAmbulance: "ambulances",
}

func tableFor(kind Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	return t, nil
}

// =========== Beds ===========

const bedCols = `id, ward_id, bed_number, bed_type, status, charge_per_day, notes, created_at, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &b.BedType, &b.Status,
		&b.ChargePerDay, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bed")
	}
	return &b, err
}

func (r *repoPG) CreateBed(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO beds (id, ward_id, bed_number, bed_type, status, charge_per_day, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.BedNumber, b.BedType, b.Status, b.ChargePerDay, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if _, dup := db.UniqueViolation(err); dup {
		return apperr.Validation("bed_number", "bed %s already exists in this ward", b.BedNumber)
	}
	return err
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id))
}

func (r *repoPG) UpdateBed(ctx context.Context, b *Bed) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET ward_id = $2, bed_number = $3, bed_type = $4, charge_per_day = $5,
			notes = $6, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.WardID, b.BedNumber, b.BedType, b.ChargePerDay, b.Notes)
	if _, dup := db.UniqueViolation(err); dup {
		return apperr.Validation("bed_number", "bed %s already exists in this ward", b.BedNumber)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed")
	}
	return nil
}

func (r *repoPG) DeleteBed(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, KindBed, id)
}

func (r *repoPG) ListBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	where, args := []string{"TRUE"}, []interface{}{}
	if f.WardID != nil {
		args = append(args, *f.WardID)
		where = append(where, fmt.Sprintf("ward_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM beds WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+bedCols+` FROM beds WHERE %s ORDER BY bed_number LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// =========== Ambulances ===========

const ambulanceCols = `id, vehicle_number, vehicle_type, status, charge_per_km, notes, created_at, updated_at`

func scanAmbulance(row pgx.Row) (*Ambulance, error) {
	var a Ambulance
	err := row.Scan(&a.ID, &a.VehicleNumber, &a.VehicleType, &a.Status,
		&a.ChargePerKm, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("ambulance")
	}
	return &a, err
}

func (r *repoPG) CreateAmbulance(ctx context.Context, a *Ambulance) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ambulances (id, vehicle_number, vehicle_type, status, charge_per_km, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		a.ID, a.VehicleNumber, a.VehicleType, a.Status, a.ChargePerKm, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if _, dup := db.UniqueViolation(err); dup {
		return apperr.Validation("vehicle_number", "vehicle %s is already registered", a.VehicleNumber)
	}
	return err
}

func (r *repoPG) GetAmbulance(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	return scanAmbulance(r.conn(ctx).QueryRow(ctx, `SELECT `+ambulanceCols+` FROM ambulances WHERE id = $1`, id))
}

func (r *repoPG) UpdateAmbulance(ctx context.Context, a *Ambulance) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ambulances SET vehicle_number = $2, vehicle_type = $3, charge_per_km = $4,
			notes = $5, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.VehicleNumber, a.VehicleType, a.ChargePerKm, a.Notes)
	if _, dup := db.UniqueViolation(err); dup {
		return apperr.Validation("vehicle_number", "vehicle %s is already registered", a.VehicleNumber)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("ambulance")
	}
	return nil
}

func (r *repoPG) DeleteAmbulance(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, KindAmbulance, id)
}

func (r *repoPG) ListAmbulances(ctx context.Context, f AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error) {
	cond, args := "TRUE", []interface{}{}
	if f.Status != "" {
		cond, args = "status = $1", append(args, f.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM ambulances WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+ambulanceCols+` FROM ambulances WHERE %s ORDER BY vehicle_number LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Status ===========

func (r *repoPG) delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if _, fk := db.ForeignKeyViolation(err); fk {
		return apperr.ResourceInUse("%s %s is referenced by past assignments", kind, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(string(kind))
	}
	return nil
}

func (r *repoPG) TransitionStatus(ctx context.Context, kind Kind, id uuid.UUID, from []Status, to Status) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE `+table+` SET status = $3, updated_at = NOW() WHERE id = $1 AND status = ANY($2)`,
		id, fromText, string(to))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "no such resource" from "wrong status".
	if _, err := r.StatusOf(ctx, kind, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repoPG) StatusOf(ctx context.Context, kind Kind, id uuid.UUID) (Status, error) {
	table, err := tableFor(kind)
	if err != nil {
		return "", err
	}
	var s Status
	err = r.conn(ctx).QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&s)
	if db.IsNoRows(err) {
		return "", apperr.NotFound(string(kind))
	}
	return s, err
}

func (r *repoPG) ActiveAssignments(ctx context.Context, kind Kind, id uuid.UUID) (int, error) {
	var q string
	switch kind {
	case KindBed:
		q = `SELECT COUNT(*) FROM admissions WHERE bed_id = $1 AND status = 'admitted'`
	case KindAmbulance:
		q = `SELECT COUNT(*) FROM ambulance_trips WHERE ambulance_id = $1 AND status IN ('scheduled', 'in_progress')`
	default:
		return 0, apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	var n int
	err := r.conn(ctx).QueryRow(ctx, q, id).Scan(&n)
	return n, err
}

func (r *repoPG) CountByStatus(ctx context.Context, kind Kind) (map[Status]int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}
