package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

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

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `id, invoice_number, patient_id, invoice_date, due_date, subtotal, tax_amount,
	discount_amount, total_amount, paid_amount, status, notes, created_at, updated_at`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.InvoiceDate, &inv.DueDate,
		&inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &inv.PaidAmount,
		&inv.Status, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("invoice")
	}
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoices (id, invoice_number, patient_id, invoice_date, due_date, subtotal,
			tax_amount, discount_amount, total_amount, paid_amount, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.InvoiceDate, inv.DueDate, inv.Subtotal,
		inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.PaidAmount, inv.Status, inv.Notes,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if c, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("duplicate invoice number %s (%s): %w", inv.InvoiceNumber, c, err)
	}
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1`, id))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoices SET due_date = $2, subtotal = $3, tax_amount = $4, discount_amount = $5,
			total_amount = $6, paid_amount = $7, status = $8, notes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount,
		inv.TotalAmount, inv.PaidAmount, inv.Status, inv.Notes,
	).Scan(&inv.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("invoice")
	}
	if c, ok := db.CheckViolation(err); ok {
		return apperr.InvalidState("invoice update violates %s", c)
	}
	return err
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if _, fk := db.ForeignKeyViolation(err); fk {
		return apperr.HasPayments("cannot delete invoice with payments")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice")
	}
	return nil
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where, args := []string{"TRUE"}, []interface{}{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+invCols+` FROM invoices WHERE %s ORDER BY invoice_date DESC, invoice_number DESC LIMIT $%d OFFSET $%d`,
			cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

const itemCols = `id, invoice_id, item_type, description, quantity, unit_price, amount, source_type, source_id, position, created_at`

func (r *invoiceRepoPG) AddItem(ctx context.Context, it *Item) error {
	it.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_items (id, invoice_id, item_type, description, quantity, unit_price, amount, source_type, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING position, created_at`,
		it.ID, it.InvoiceID, it.ItemType, it.Description, it.Quantity, it.UnitPrice, it.Amount, it.SourceType, it.SourceID,
	).Scan(&it.Position, &it.CreatedAt)
}

func (r *invoiceRepoPG) GetItems(ctx context.Context, invoiceID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ItemType, &it.Description, &it.Quantity,
			&it.UnitPrice, &it.Amount, &it.SourceType, &it.SourceID, &it.Position, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE id = $1 AND invoice_id = $2`, itemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice item")
	}
	return nil
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const payCols = `id, payment_number, invoice_id, patient_id, amount, payment_method, transaction_id,
	received_by, payment_date, notes, created_at`

func (r *paymentRepoPG) scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PaymentNumber, &p.InvoiceID, &p.PatientID, &p.Amount, &p.Method,
		&p.TransactionID, &p.ReceivedBy, &p.PaymentDate, &p.Notes, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("payment")
	}
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, payment_number, invoice_id, patient_id, amount, payment_method,
			transaction_id, received_by, payment_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		p.ID, p.PaymentNumber, p.InvoiceID, p.PatientID, p.Amount, p.Method,
		p.TransactionID, p.ReceivedBy, p.PaymentDate, p.Notes,
	).Scan(&p.CreatedAt)
	if c, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("duplicate payment number %s (%s): %w", p.PaymentNumber, c, err)
	}
	return err
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment")
	}
	return nil
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments WHERE invoice_id = $1 ORDER BY payment_date, created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) TotalsByMethod(ctx context.Context, day time.Time) ([]MethodTotal, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments WHERE payment_date = $1
		GROUP BY payment_method ORDER BY payment_method`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MethodTotal
	for rows.Next() {
		var mt MethodTotal
		if err := rows.Scan(&mt.Method, &mt.Count, &mt.Total); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}
