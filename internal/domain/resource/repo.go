package resource

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	UpdateBed(ctx context.Context, b *Bed) error
	DeleteBed(ctx context.Context, id uuid.UUID) error
	ListBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error)

	CreateAmbulance(ctx context.Context, a *Ambulance) error
	GetAmbulance(ctx context.Context, id uuid.UUID) (*Ambulance, error)
	UpdateAmbulance(ctx context.Context, a *Ambulance) error
	DeleteAmbulance(ctx context.Context, id uuid.UUID) error
	ListAmbulances(ctx context.Context, f AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error)

	// TransitionStatus sets the status to `to` only if the current status is
	// one of from, and reports whether a row changed. A missing resource is
	// apperr NotFound.
	TransitionStatus(ctx context.Context, kind Kind, id uuid.UUID, from []Status, to Status) (bool, error)
	StatusOf(ctx context.Context, kind Kind, id uuid.UUID) (Status, error)
	// ActiveAssignments counts non-terminal admissions or trips holding the resource.
	ActiveAssignments(ctx context.Context, kind Kind, id uuid.UUID) (int, error)
	CountByStatus(ctx context.Context, kind Kind) (map[Status]int, error)
}
