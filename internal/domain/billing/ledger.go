package billing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/lock"
	"github.com/hms/ledger/internal/platform/telemetry"
	"github.com/hms/ledger/internal/platform/validate"
)

// Numberer mints document numbers.
type Numberer interface {
	Next(ctx context.Context, kind sequence.Kind, at time.Time) (string, error)
}

// Ledger owns invoices and their items. Paid amount and status change only
// through PaymentProcessor.
type Ledger struct {
	invoices  InvoiceRepository
	tx        db.Transactor
	numbers   Numberer
	locker    lock.Locker
	sources   []ChargeSource
	metrics   *telemetry.Metrics
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewLedger(invoices InvoiceRepository, tx db.Transactor, numbers Numberer, locker lock.Locker,
	metrics *telemetry.Metrics, publisher events.Publisher, logger zerolog.Logger) *Ledger {
	return &Ledger{
		invoices:  invoices,
		tx:        tx,
		numbers:   numbers,
		locker:    locker,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterChargeSource adds a workflow whose completed work CreateFromCharges
// bills and whose links Cancel and Delete release.
func (l *Ledger) RegisterChargeSource(src ChargeSource) {
	l.sources = append(l.sources, src)
}

type NewItem struct {
	ItemType    ItemType
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type NewInvoice struct {
	PatientID   uuid.UUID
	InvoiceDate time.Time
	DueDate     time.Time
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Notes       *string
	Items       []NewItem
}

// FromCharges describes an invoice built from a patient's unbilled charges.
type FromCharges struct {
	PatientID   uuid.UUID
	InvoiceDate time.Time
	DueDate     time.Time
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Notes       *string
}

// HeaderUpdate holds the optional fields of UpdateHeader; nil means unchanged.
type HeaderUpdate struct {
	DueDate  *time.Time
	Tax      *decimal.Decimal
	Discount *decimal.Decimal
	Notes    *string
}

// Create records a pending invoice. Item amounts are always quantity times
// unit price; any client-side amount is ignored.
func (l *Ledger) Create(ctx context.Context, in NewInvoice) (*Invoice, error) {
	if err := checkHeader(in.PatientID, in.InvoiceDate, in.DueDate, in.Tax, in.Discount); err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}
	items := make([]*Item, 0, len(in.Items))
	for i, ni := range in.Items {
		it, err := buildItem(ni)
		if err != nil {
			err.Field = "items[" + strconv.Itoa(i) + "]." + err.Field
			return nil, err
		}
		items = append(items, it)
	}

	inv := newInvoice(in.PatientID, in.InvoiceDate, in.DueDate, in.Tax, in.Discount, in.Notes)
	if err := inv.recalculate(items); err != nil {
		return nil, err
	}
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.create", func(ctx context.Context) error {
		return l.insert(ctx, inv, items)
	})
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceCreated, "created", inv)
	return inv, nil
}

// CreateFromCharges bills every unbilled charge of the patient on one new
// invoice. Runs for the same patient are serialised by a lock so a charge
// cannot land on two invoices.
func (l *Ledger) CreateFromCharges(ctx context.Context, in FromCharges) (*Invoice, error) {
	if err := checkHeader(in.PatientID, in.InvoiceDate, in.DueDate, in.Tax, in.Discount); err != nil {
		return nil, err
	}

	var inv *Invoice
	err := l.locker.WithLock(ctx, "billing:patient:"+in.PatientID.String(), func(ctx context.Context) error {
		return db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.create_from_charges", func(ctx context.Context) error {
			var items []*Item
			billed := make(map[SourceType][]uuid.UUID)
			for _, src := range l.sources {
				charges, err := src.UnbilledCharges(ctx, in.PatientID)
				if err != nil {
					return err
				}
				for _, c := range charges {
					items = append(items, c.item())
					billed[src.SourceType()] = append(billed[src.SourceType()], c.SourceID)
				}
			}
			if len(items) == 0 {
				return apperr.InvalidState("patient has no unbilled charges")
			}

			candidate := newInvoice(in.PatientID, in.InvoiceDate, in.DueDate, in.Tax, in.Discount, in.Notes)
			if err := candidate.recalculate(items); err != nil {
				return err
			}
			if err := l.insert(ctx, candidate, items); err != nil {
				return err
			}
			for _, src := range l.sources {
				ids := billed[src.SourceType()]
				if len(ids) == 0 {
					continue
				}
				n, err := src.MarkBilled(ctx, candidate.ID, ids)
				if err != nil {
					return err
				}
				if n != len(ids) {
					return apperr.InvalidState("some %s charges were billed concurrently", src.SourceType())
				}
			}
			inv = candidate
			return nil
		})
	})
	if errors.Is(err, lock.ErrBusy) {
		return nil, apperr.InvalidState("another billing run for this patient is in progress")
	}
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceCreated, "created", inv)
	return inv, nil
}

// UpdateHeader edits a pending invoice. A tax or discount change recomputes
// the total from the stored subtotal; items are left alone.
func (l *Ledger) UpdateHeader(ctx context.Context, id uuid.UUID, upd HeaderUpdate) (*Invoice, error) {
	if upd.Tax != nil {
		if err := checkMoney("tax_amount", *upd.Tax); err != nil {
			return nil, err
		}
	}
	if upd.Discount != nil {
		if err := checkMoney("discount_amount", *upd.Discount); err != nil {
			return nil, err
		}
	}

	var inv *Invoice
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.update", func(ctx context.Context) error {
		cur, err := l.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requirePending(cur); err != nil {
			return err
		}
		if upd.DueDate != nil {
			if upd.DueDate.Before(cur.InvoiceDate) {
				return apperr.Validation("due_date", "must not be before invoice_date")
			}
			cur.DueDate = *upd.DueDate
		}
		if upd.Notes != nil {
			cur.Notes = upd.Notes
		}
		if upd.Tax != nil || upd.Discount != nil {
			if upd.Tax != nil {
				cur.TaxAmount = *upd.Tax
			}
			if upd.Discount != nil {
				cur.DiscountAmount = *upd.Discount
			}
			if err := cur.retotal(); err != nil {
				return err
			}
		}
		if err := l.invoices.Update(ctx, cur); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceUpdated, "updated", inv)
	return inv, nil
}

// Delete removes an invoice that has never been paid.
func (l *Ledger) Delete(ctx context.Context, id uuid.UUID) error {
	var inv *Invoice
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.delete", func(ctx context.Context) error {
		cur, err := l.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.PaidAmount.IsPositive() {
			return apperr.HasPayments("cannot delete invoice with payments")
		}
		if err := l.releaseSources(ctx, id); err != nil {
			return err
		}
		inv = cur
		return l.invoices.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	l.published(ctx, events.InvoiceDeleted, "deleted", inv)
	return nil
}

// Cancel voids an unpaid pending invoice and frees its workflow charges for
// billing again.
func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.cancel", func(ctx context.Context) error {
		cur, err := l.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == StatusCancelled {
			return apperr.InvalidTransition(string(cur.Status), "cancel")
		}
		if cur.PaidAmount.IsPositive() {
			return apperr.HasPayments("cannot cancel invoice with payments; reverse them first")
		}
		cur.Status = DeriveStatus(cur.PaidAmount, cur.TotalAmount, true)
		if err := l.invoices.Update(ctx, cur); err != nil {
			return err
		}
		if err := l.releaseSources(ctx, id); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceCancelled, "cancelled", inv)
	return inv, nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := l.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := l.invoices.GetItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func (l *Ledger) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("status", "invalid invoice status %q", f.Status)
	}
	return l.invoices.List(ctx, f, limit, offset)
}

func (l *Ledger) Items(ctx context.Context, invoiceID uuid.UUID) ([]*Item, error) {
	if _, err := l.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return l.invoices.GetItems(ctx, invoiceID)
}

// AddItem appends a line to a pending invoice and recomputes its totals.
func (l *Ledger) AddItem(ctx context.Context, invoiceID uuid.UUID, ni NewItem) (*Item, error) {
	it, verr := buildItem(ni)
	if verr != nil {
		return nil, verr
	}
	var inv *Invoice
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.add_item", func(ctx context.Context) error {
		cur, err := l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := requirePending(cur); err != nil {
			return err
		}
		it.InvoiceID = invoiceID
		if err := l.invoices.AddItem(ctx, it); err != nil {
			return err
		}
		if err := l.resum(ctx, cur); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceUpdated, "updated", inv)
	return it, nil
}

// RemoveItem drops a manual line from a pending invoice. Lines billed from a
// workflow charge go away only with the whole invoice.
func (l *Ledger) RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID) (*Invoice, error) {
	var inv *Invoice
	err := db.RunTx(ctx, l.tx, l.metrics, l.logger, "invoice.remove_item", func(ctx context.Context) error {
		cur, err := l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := requirePending(cur); err != nil {
			return err
		}
		items, err := l.invoices.GetItems(ctx, invoiceID)
		if err != nil {
			return err
		}
		var target *Item
		for _, it := range items {
			if it.ID == itemID {
				target = it
			}
		}
		if target == nil {
			return apperr.NotFound("invoice item")
		}
		if target.SourceType != nil {
			return apperr.InvalidState("item was billed from a %s; cancel the invoice instead", *target.SourceType)
		}
		if len(items) == 1 {
			return apperr.InvalidState("an invoice must keep at least one item")
		}
		if err := l.invoices.RemoveItem(ctx, invoiceID, itemID); err != nil {
			return err
		}
		if err := l.resum(ctx, cur); err != nil {
			return err
		}
		inv = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.published(ctx, events.InvoiceUpdated, "updated", inv)
	return inv, nil
}

func (l *Ledger) insert(ctx context.Context, inv *Invoice, items []*Item) error {
	number, err := l.numbers.Next(ctx, sequence.KindInvoice, l.now())
	if err != nil {
		return err
	}
	inv.InvoiceNumber = number
	if err := l.invoices.Create(ctx, inv); err != nil {
		return err
	}
	for _, it := range items {
		it.InvoiceID = inv.ID
		if err := l.invoices.AddItem(ctx, it); err != nil {
			return err
		}
	}
	inv.Items = items
	return nil
}

// resum reloads the items of a locked invoice and stores the new totals.
func (l *Ledger) resum(ctx context.Context, inv *Invoice) error {
	items, err := l.invoices.GetItems(ctx, inv.ID)
	if err != nil {
		return err
	}
	if err := inv.recalculate(items); err != nil {
		return err
	}
	if err := l.invoices.Update(ctx, inv); err != nil {
		return err
	}
	inv.Items = items
	return nil
}

func (l *Ledger) releaseSources(ctx context.Context, invoiceID uuid.UUID) error {
	for _, src := range l.sources {
		if err := src.ReleaseBilled(ctx, invoiceID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) published(ctx context.Context, eventType, metric string, inv *Invoice) {
	l.metrics.InvoiceEvent(metric)
	l.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("status", string(inv.Status)).
		Str("total", inv.TotalAmount.StringFixed(2)).
		Msg("invoice " + metric)
	events.Emit(ctx, l.publisher, l.logger, events.New(eventType, inv.ID.String(), inv))
}

func newInvoice(patientID uuid.UUID, invoiceDate, dueDate time.Time, tax, discount decimal.Decimal, notes *string) *Invoice {
	return &Invoice{
		PatientID:      patientID,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		TaxAmount:      tax,
		DiscountAmount: discount,
		PaidAmount:     decimal.Zero,
		Status:         StatusPending,
		Notes:          notes,
	}
}

func requirePending(inv *Invoice) error {
	if inv.Status != StatusPending {
		return apperr.InvalidState("invoice %s is %s; only pending invoices can be changed", inv.InvoiceNumber, inv.Status)
	}
	return nil
}

func checkHeader(patientID uuid.UUID, invoiceDate, dueDate time.Time, tax, discount decimal.Decimal) error {
	if patientID == uuid.Nil {
		return apperr.Validation("patient_id", "is required")
	}
	if invoiceDate.IsZero() {
		return apperr.Validation("invoice_date", "is required")
	}
	if dueDate.IsZero() {
		return apperr.Validation("due_date", "is required")
	}
	if dueDate.Before(invoiceDate) {
		return apperr.Validation("due_date", "must not be before invoice_date")
	}
	if err := checkMoney("tax_amount", tax); err != nil {
		return err
	}
	return checkMoney("discount_amount", discount)
}

func checkMoney(field string, d decimal.Decimal) error {
	if d.IsNegative() || !validate.IsMoney(d) {
		return apperr.Validation(field, "must be a non-negative amount with at most 2 decimal places, up to %s", validate.MaxAmount)
	}
	return nil
}

func buildItem(ni NewItem) (*Item, *apperr.Error) {
	if !validItemTypes[ni.ItemType] {
		return nil, apperr.Validation("item_type", "invalid item type %q", ni.ItemType)
	}
	desc := strings.TrimSpace(ni.Description)
	if desc == "" {
		return nil, apperr.Validation("description", "is required")
	}
	if ni.Quantity < 1 {
		return nil, apperr.Validation("quantity", "must be at least 1")
	}
	if ni.UnitPrice.IsNegative() || !validate.IsMoney(ni.UnitPrice) {
		return nil, apperr.Validation("unit_price", "must be a non-negative amount with at most 2 decimal places, up to %s", validate.MaxAmount)
	}
	it := newItem(ni.ItemType, desc, ni.Quantity, ni.UnitPrice)
	if !validate.IsMoney(it.Amount) {
		return nil, apperr.Validation("quantity", "quantity times unit price exceeds %s", validate.MaxAmount)
	}
	return it, nil
}
