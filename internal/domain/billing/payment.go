package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/telemetry"
	"github.com/hms/ledger/internal/platform/validate"
)

// PaymentProcessor is the only writer of payments and of an invoice's paid
// amount and status.
type PaymentProcessor struct {
	invoices  InvoiceRepository
	payments  PaymentRepository
	tx        db.Transactor
	numbers   Numberer
	cache     SummaryCache
	metrics   *telemetry.Metrics
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPaymentProcessor builds a processor; a nil cache disables summary caching.
func NewPaymentProcessor(invoices InvoiceRepository, payments PaymentRepository, tx db.Transactor, numbers Numberer,
	cache SummaryCache, metrics *telemetry.Metrics, publisher events.Publisher, logger zerolog.Logger) *PaymentProcessor {
	if cache == nil {
		cache = NoopSummaryCache{}
	}
	return &PaymentProcessor{
		invoices:  invoices,
		payments:  payments,
		tx:        tx,
		numbers:   numbers,
		cache:     cache,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type NewPayment struct {
	InvoiceID     uuid.UUID
	Amount        decimal.Decimal
	Method        Method
	ReceivedBy    uuid.UUID
	PaymentDate   time.Time
	TransactionID *string
	Notes         *string
}

// PaymentEvent is the payload of payment.recorded and payment.reversed.
type PaymentEvent struct {
	Payment       *Payment        `json:"payment"`
	InvoiceStatus Status          `json:"invoice_status"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Balance       decimal.Decimal `json:"balance"`
}

// RecordPayment applies a payment to an invoice. The invoice row stays locked
// from the balance check until commit, so concurrent payments cannot
// overshoot the total together.
func (p *PaymentProcessor) RecordPayment(ctx context.Context, in NewPayment) (*Payment, error) {
	if in.InvoiceID == uuid.Nil {
		return nil, apperr.Validation("invoice_id", "is required")
	}
	if !in.Amount.IsPositive() || !validate.IsMoney(in.Amount) {
		return nil, apperr.Validation("amount", "must be a positive amount with at most 2 decimal places, up to %s", validate.MaxAmount)
	}
	if !validMethods[in.Method] {
		return nil, apperr.Validation("payment_method", "invalid payment method %q", in.Method)
	}
	if in.ReceivedBy == uuid.Nil {
		return nil, apperr.Validation("received_by", "is required")
	}
	if in.PaymentDate.IsZero() {
		return nil, apperr.Validation("payment_date", "is required")
	}

	var (
		pay *Payment
		inv *Invoice
	)
	err := db.RunTx(ctx, p.tx, p.metrics, p.logger, "payment.record", func(ctx context.Context) error {
		cur, err := p.invoices.GetForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if err := cur.applyPayment(in.Amount); err != nil {
			return err
		}
		number, err := p.numbers.Next(ctx, sequence.KindPayment, p.now())
		if err != nil {
			return err
		}
		candidate := &Payment{
			PaymentNumber: number,
			InvoiceID:     cur.ID,
			PatientID:     cur.PatientID,
			Amount:        in.Amount,
			Method:        in.Method,
			TransactionID: in.TransactionID,
			ReceivedBy:    in.ReceivedBy,
			PaymentDate:   in.PaymentDate,
			Notes:         in.Notes,
		}
		if err := p.payments.Create(ctx, candidate); err != nil {
			return err
		}
		if err := p.invoices.Update(ctx, cur); err != nil {
			return err
		}
		pay, inv = candidate, cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.cache.Invalidate(ctx, pay.PaymentDate)
	p.metrics.PaymentRecorded(string(pay.Method), pay.Amount)
	p.logger.Info().
		Str("payment_number", pay.PaymentNumber).
		Str("invoice_number", inv.InvoiceNumber).
		Str("amount", pay.Amount.StringFixed(2)).
		Str("invoice_status", string(inv.Status)).
		Msg("payment recorded")
	events.Emit(ctx, p.publisher, p.logger, events.New(events.PaymentRecorded, inv.ID.String(),
		PaymentEvent{Payment: pay, InvoiceStatus: inv.Status, PaidAmount: inv.PaidAmount, Balance: inv.Balance()}))
	return pay, nil
}

// Reverse deletes a payment and takes its amount back off the invoice.
func (p *PaymentProcessor) Reverse(ctx context.Context, id uuid.UUID) error {
	var (
		pay *Payment
		inv *Invoice
	)
	err := db.RunTx(ctx, p.tx, p.metrics, p.logger, "payment.reverse", func(ctx context.Context) error {
		found, err := p.payments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		cur, err := p.invoices.GetForUpdate(ctx, found.InvoiceID)
		if err != nil {
			return err
		}
		// A concurrent reversal that won the invoice lock has already
		// removed the row; Delete reports NotFound and nothing is applied.
		if err := p.payments.Delete(ctx, id); err != nil {
			return err
		}
		if err := cur.reversePayment(found.Amount); err != nil {
			return err
		}
		if err := p.invoices.Update(ctx, cur); err != nil {
			return err
		}
		pay, inv = found, cur
		return nil
	})
	if err != nil {
		return err
	}

	p.cache.Invalidate(ctx, pay.PaymentDate)
	p.metrics.PaymentReversed(string(pay.Method))
	p.logger.Info().
		Str("payment_number", pay.PaymentNumber).
		Str("invoice_number", inv.InvoiceNumber).
		Str("invoice_status", string(inv.Status)).
		Msg("payment reversed")
	events.Emit(ctx, p.publisher, p.logger, events.New(events.PaymentReversed, inv.ID.String(),
		PaymentEvent{Payment: pay, InvoiceStatus: inv.Status, PaidAmount: inv.PaidAmount, Balance: inv.Balance()}))
	return nil
}

// DailySummary totals the payments dated on day, per method.
func (p *PaymentProcessor) DailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	s, version, ok := p.cache.Get(ctx, day)
	if ok {
		return s, nil
	}
	rows, err := p.payments.TotalsByMethod(ctx, day)
	if err != nil {
		return nil, err
	}
	s = &DailySummary{Date: day.Format(dateLayout), Total: decimal.Zero, ByMethod: []MethodTotal{}}
	for _, r := range rows {
		s.Count += r.Count
		s.Total = s.Total.Add(r.Total)
		s.ByMethod = append(s.ByMethod, r)
	}
	p.cache.Set(ctx, day, version, s)
	return s, nil
}

func (p *PaymentProcessor) Get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return p.payments.GetByID(ctx, id)
}

func (p *PaymentProcessor) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := p.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return p.payments.ListByInvoice(ctx, invoiceID)
}
