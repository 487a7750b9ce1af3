package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate loads the invoice and row-locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// Items
	AddItem(ctx context.Context, it *Item) error
	GetItems(ctx context.Context, invoiceID uuid.UUID) ([]*Item, error)
	RemoveItem(ctx context.Context, invoiceID, itemID uuid.UUID) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
	TotalsByMethod(ctx context.Context, day time.Time) ([]MethodTotal, error)
}
