package admission

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	// GetForUpdate row-locks the admission for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error)
	// Billing
	ListUnbilled(ctx context.Context, patientID uuid.UUID) ([]*Admission, error)
	MarkBilled(ctx context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error)
	ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error
}
