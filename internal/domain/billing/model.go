package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/validate"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusCancelled     Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusPartiallyPaid: true, StatusPaid: true, StatusCancelled: true,
}

type ItemType string

const (
	ItemConsultation ItemType = "consultation"
	ItemMedicine     ItemType = "medicine"
	ItemLabTest      ItemType = "lab_test"
	ItemBed          ItemType = "bed"
	ItemAmbulance    ItemType = "ambulance"
	ItemProcedure    ItemType = "procedure"
	ItemOther        ItemType = "other"
)

var validItemTypes = map[ItemType]bool{
	ItemConsultation: true, ItemMedicine: true, ItemLabTest: true, ItemBed: true,
	ItemAmbulance: true, ItemProcedure: true, ItemOther: true,
}

type Method string

const (
	MethodCash         Method = "cash"
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCheque       Method = "cheque"
	MethodInsurance    Method = "insurance"
	MethodOnline       Method = "online"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCard: true, MethodBankTransfer: true,
	MethodCheque: true, MethodInsurance: true, MethodOnline: true,
}

// SourceType names the workflow an item was billed from.
type SourceType string

const (
	SourceAdmission     SourceType = "admission"
	SourceAmbulanceTrip SourceType = "ambulance_trip"
)

type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	PatientID      uuid.UUID       `json:"patient_id"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Status         Status          `json:"status"`
	Notes          *string         `json:"notes,omitempty"`
	Items          []*Item         `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Item struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	ItemType    ItemType        `json:"item_type"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	SourceType  *SourceType     `json:"source_type,omitempty"`
	SourceID    *uuid.UUID      `json:"source_id,omitempty"`
	Position    int64           `json:"position"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	PaymentNumber string          `json:"payment_number"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"payment_method"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	ReceivedBy    uuid.UUID       `json:"received_by"`
	PaymentDate   time.Time       `json:"payment_date"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type InvoiceFilter struct {
	PatientID *uuid.UUID
	Status    Status
}

// MethodTotal is one row of a daily payment summary.
type MethodTotal struct {
	Method Method          `json:"payment_method"`
	Count  int             `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

type DailySummary struct {
	Date     string          `json:"date"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
	ByMethod []MethodTotal   `json:"by_method"`
}

// DeriveStatus is the only place an invoice status is decided.
//
//	paid == 0              -> pending (cancelled if the invoice was cancelled)
//	0 < paid < total       -> partially_paid
//	paid >= total, paid > 0 -> paid
func DeriveStatus(paid, total decimal.Decimal, cancelled bool) Status {
	switch {
	case !paid.IsPositive():
		if cancelled {
			return StatusCancelled
		}
		return StatusPending
	case paid.LessThan(total):
		return StatusPartiallyPaid
	default:
		return StatusPaid
	}
}

// Balance is what is still owed.
func (inv *Invoice) Balance() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.PaidAmount)
}

// recalculate derives subtotal and total from items, tax and discount.
func (inv *Invoice) recalculate(items []*Item) error {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Amount)
	}
	inv.Subtotal = subtotal
	return inv.retotal()
}

// retotal recomputes the total from the stored subtotal.
func (inv *Invoice) retotal() error {
	total := inv.Subtotal.Add(inv.TaxAmount).Sub(inv.DiscountAmount)
	if !validate.IsMoney(inv.Subtotal) || !validate.IsMoney(total) {
		return apperr.Validation("total_amount", "invoice amounts exceed %s", validate.MaxAmount)
	}
	if total.IsNegative() {
		return apperr.Validation("discount_amount", "discount %s exceeds subtotal plus tax %s",
			inv.DiscountAmount.StringFixed(2), inv.Subtotal.Add(inv.TaxAmount).StringFixed(2))
	}
	if inv.PaidAmount.GreaterThan(total) {
		return apperr.InvalidState("total %s would fall below the paid amount %s",
			total.StringFixed(2), inv.PaidAmount.StringFixed(2))
	}
	inv.TotalAmount = total
	inv.Status = DeriveStatus(inv.PaidAmount, total, inv.Status == StatusCancelled)
	return nil
}

func (inv *Invoice) applyPayment(amount decimal.Decimal) error {
	if inv.Status == StatusCancelled {
		return apperr.InvalidState("invoice %s is cancelled", inv.InvoiceNumber)
	}
	if !amount.IsPositive() {
		return apperr.Validation("amount", "must be greater than 0")
	}
	if amount.GreaterThan(inv.Balance()) {
		return apperr.PaymentExceedsBalance("amount %s exceeds balance %s",
			amount.StringFixed(2), inv.Balance().StringFixed(2))
	}
	inv.PaidAmount = inv.PaidAmount.Add(amount)
	inv.Status = DeriveStatus(inv.PaidAmount, inv.TotalAmount, false)
	return nil
}

func (inv *Invoice) reversePayment(amount decimal.Decimal) error {
	if amount.GreaterThan(inv.PaidAmount) {
		return apperr.InvalidState("reversal of %s exceeds paid amount %s",
			amount.StringFixed(2), inv.PaidAmount.StringFixed(2))
	}
	inv.PaidAmount = inv.PaidAmount.Sub(amount)
	inv.Status = DeriveStatus(inv.PaidAmount, inv.TotalAmount, false)
	return nil
}

func newItem(t ItemType, description string, quantity int, unitPrice decimal.Decimal) *Item {
	return &Item{
		ItemType:    t,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}
