package ambulancetrip

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Trip) error
	GetByID(ctx context.Context, id uuid.UUID) (*Trip, error)
	// GetForUpdate row-locks the trip for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Trip, error)
	Update(ctx context.Context, t *Trip) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Trip, int, error)
	// Billing
	ListUnbilled(ctx context.Context, patientID uuid.UUID) ([]*Trip, error)
	MarkBilled(ctx context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error)
	ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error
}
