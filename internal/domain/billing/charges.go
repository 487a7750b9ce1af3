package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Charge is a completed, not yet invoiced workflow charge.
type Charge struct {
	SourceType  SourceType
	SourceID    uuid.UUID
	ItemType    ItemType
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// ChargeSource is implemented by the assignment workflows whose completed
// work is billed onto invoices.
type ChargeSource interface {
	SourceType() SourceType
	// UnbilledCharges lists completed work for the patient not yet on any invoice.
	UnbilledCharges(ctx context.Context, patientID uuid.UUID) ([]Charge, error)
	// MarkBilled links the sources to invoiceID. It returns how many were still
	// unbilled and got linked.
	MarkBilled(ctx context.Context, invoiceID uuid.UUID, sourceIDs []uuid.UUID) (int, error)
	// ReleaseBilled unlinks every source billed on invoiceID.
	ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error
}

func (c Charge) item() *Item {
	st := c.SourceType
	sid := c.SourceID
	return &Item{
		ItemType:    c.ItemType,
		Description: c.Description,
		Quantity:    c.Quantity,
		UnitPrice:   c.UnitPrice,
		Amount:      c.Amount,
		SourceType:  &st,
		SourceID:    &sid,
	}
}
