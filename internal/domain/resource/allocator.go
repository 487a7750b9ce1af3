package resource

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/telemetry"
	"github.com/hms/ledger/internal/platform/validate"
)

// Allocator is the only writer of bed and ambulance status. Workflows reserve
// a resource when an assignment starts and release it when it ends; all other
// status changes go through ForceStatus.
type Allocator struct {
	repo      Repository
	tx        db.Transactor
	metrics   *telemetry.Metrics
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewAllocator(repo Repository, tx db.Transactor, metrics *telemetry.Metrics, publisher events.Publisher, logger zerolog.Logger) *Allocator {
	return &Allocator{repo: repo, tx: tx, metrics: metrics, publisher: publisher, logger: logger}
}

// StatusChange is the payload of a resource.status_changed event.
type StatusChange struct {
	Kind Kind      `json:"kind"`
	ID   uuid.UUID `json:"id"`
	From Status    `json:"from"`
	To   Status    `json:"to"`
}

// Reserve moves an available resource to its busy status. It is meant to run
// inside the caller's transaction, so the reservation commits or rolls back
// with the assignment that holds it.
func (a *Allocator) Reserve(ctx context.Context, kind Kind, id uuid.UUID) (err error) {
	if !validKind(kind) {
		return apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	ctx, span := telemetry.StartSpan(ctx, "resource.Reserve",
		attribute.String("resource.kind", string(kind)), attribute.String("resource.id", id.String()))
	defer func() { telemetry.EndSpan(span, err) }()

	ok, err := a.repo.TransitionStatus(ctx, kind, id, []Status{StatusAvailable}, BusyStatus(kind))
	if err != nil {
		return err
	}
	if !ok {
		current, err := a.repo.StatusOf(ctx, kind, id)
		if err != nil {
			return err
		}
		a.metrics.Reservation(string(kind), "unavailable")
		return apperr.ResourceUnavailable("%s is not available (status %s)", kind, current)
	}
	a.metrics.Reservation(string(kind), "reserved")
	return nil
}

// Release returns a busy resource to available. Releasing a resource that is
// not busy does nothing.
func (a *Allocator) Release(ctx context.Context, kind Kind, id uuid.UUID) error {
	if !validKind(kind) {
		return apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	ok, err := a.repo.TransitionStatus(ctx, kind, id, []Status{BusyStatus(kind)}, StatusAvailable)
	if err != nil {
		return err
	}
	if ok {
		a.metrics.Reservation(string(kind), "released")
	}
	return nil
}

// ForceStatus is the administrative override between available and the side
// states. The busy status can be neither entered nor left this way.
func (a *Allocator) ForceStatus(ctx context.Context, kind Kind, id uuid.UUID, to Status) error {
	if !validKind(kind) {
		return apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	if !ValidStatus(kind, to) {
		return apperr.Validation("status", "invalid %s status %q", kind, to)
	}
	busy := BusyStatus(kind)
	action := "set status to " + string(to)

	var change StatusChange
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		from, err := a.repo.StatusOf(ctx, kind, id)
		if err != nil {
			return err
		}
		if to == busy || from == busy {
			return apperr.InvalidTransition(string(from), action)
		}
		if from == to {
			return nil
		}
		ok, err := a.repo.TransitionStatus(ctx, kind, id, IdleStatuses(kind), to)
		if err != nil {
			return err
		}
		if !ok {
			// Reserved by a workflow between the read and the update.
			return apperr.InvalidTransition(string(busy), action)
		}
		change = StatusChange{Kind: kind, ID: id, From: from, To: to}
		return nil
	})
	if err != nil {
		return err
	}
	if change.To != "" {
		a.logger.Info().Str("kind", string(kind)).Str("id", id.String()).
			Str("from", string(change.From)).Str("to", string(change.To)).Msg("resource status forced")
		events.Emit(ctx, a.publisher, a.logger, events.New(events.ResourceStatus, id.String(), change))
	}
	return nil
}

// GuardDelete refuses deletion while any non-terminal assignment holds the
// resource.
func (a *Allocator) GuardDelete(ctx context.Context, kind Kind, id uuid.UUID) error {
	status, err := a.repo.StatusOf(ctx, kind, id)
	if err != nil {
		return err
	}
	n, err := a.repo.ActiveAssignments(ctx, kind, id)
	if err != nil {
		return err
	}
	if n > 0 || status == BusyStatus(kind) {
		return apperr.ResourceInUse("%s is in use by an active assignment", kind)
	}
	return nil
}

// -- Registry --

func (a *Allocator) CreateBed(ctx context.Context, b *Bed) error {
	if err := checkBed(b); err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	if !ValidStatus(KindBed, b.Status) || b.Status == StatusOccupied {
		return apperr.Validation("status", "a new bed cannot start as %q", b.Status)
	}
	return a.repo.CreateBed(ctx, b)
}

func (a *Allocator) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return a.repo.GetBed(ctx, id)
}

// UpdateBed changes descriptive fields and the rate. Status is left as stored.
func (a *Allocator) UpdateBed(ctx context.Context, b *Bed) error {
	if err := checkBed(b); err != nil {
		return err
	}
	if err := a.repo.UpdateBed(ctx, b); err != nil {
		return err
	}
	updated, err := a.repo.GetBed(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = *updated
	return nil
}

func (a *Allocator) DeleteBed(ctx context.Context, id uuid.UUID) error {
	return a.tx.InTx(ctx, func(ctx context.Context) error {
		if err := a.GuardDelete(ctx, KindBed, id); err != nil {
			return err
		}
		return a.repo.DeleteBed(ctx, id)
	})
}

func (a *Allocator) ListBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	if f.Status != "" && !ValidStatus(KindBed, f.Status) {
		return nil, 0, apperr.Validation("status", "invalid bed status %q", f.Status)
	}
	return a.repo.ListBeds(ctx, f, limit, offset)
}

func (a *Allocator) CreateAmbulance(ctx context.Context, amb *Ambulance) error {
	if err := checkAmbulance(amb); err != nil {
		return err
	}
	if amb.Status == "" {
		amb.Status = StatusAvailable
	}
	if !ValidStatus(KindAmbulance, amb.Status) || amb.Status == StatusOnTrip {
		return apperr.Validation("status", "a new ambulance cannot start as %q", amb.Status)
	}
	return a.repo.CreateAmbulance(ctx, amb)
}

func (a *Allocator) GetAmbulance(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	return a.repo.GetAmbulance(ctx, id)
}

func (a *Allocator) UpdateAmbulance(ctx context.Context, amb *Ambulance) error {
	if err := checkAmbulance(amb); err != nil {
		return err
	}
	if err := a.repo.UpdateAmbulance(ctx, amb); err != nil {
		return err
	}
	updated, err := a.repo.GetAmbulance(ctx, amb.ID)
	if err != nil {
		return err
	}
	*amb = *updated
	return nil
}

func (a *Allocator) DeleteAmbulance(ctx context.Context, id uuid.UUID) error {
	return a.tx.InTx(ctx, func(ctx context.Context) error {
		if err := a.GuardDelete(ctx, KindAmbulance, id); err != nil {
			return err
		}
		return a.repo.DeleteAmbulance(ctx, id)
	})
}

func (a *Allocator) ListAmbulances(ctx context.Context, f AmbulanceFilter, limit, offset int) ([]*Ambulance, int, error) {
	if f.Status != "" && !ValidStatus(KindAmbulance, f.Status) {
		return nil, 0, apperr.Validation("status", "invalid ambulance status %q", f.Status)
	}
	return a.repo.ListAmbulances(ctx, f, limit, offset)
}

// Occupancy counts resources of kind per status. Every status of the kind is
// present in the result, zero or not.
func (a *Allocator) Occupancy(ctx context.Context, kind Kind) (*Occupancy, error) {
	if !validKind(kind) {
		return nil, apperr.Validation("kind", "unknown resource kind %q", kind)
	}
	counts, err := a.repo.CountByStatus(ctx, kind)
	if err != nil {
		return nil, err
	}
	occ := &Occupancy{Kind: kind, ByStatus: make(map[Status]int)}
	for s := range statusesByKind[kind] {
		occ.ByStatus[s] = counts[s]
		occ.Total += counts[s]
	}
	return occ, nil
}

func checkBed(b *Bed) error {
	b.BedNumber = strings.TrimSpace(b.BedNumber)
	if b.BedNumber == "" {
		return apperr.Validation("bed_number", "is required")
	}
	if b.ChargePerDay.IsNegative() || !validate.IsMoney(b.ChargePerDay) {
		return apperr.Validation("charge_per_day", "must be a non-negative amount with at most 2 decimal places, up to %s", validate.MaxAmount)
	}
	return nil
}

func checkAmbulance(amb *Ambulance) error {
	amb.VehicleNumber = strings.TrimSpace(amb.VehicleNumber)
	if amb.VehicleNumber == "" {
		return apperr.Validation("vehicle_number", "is required")
	}
	if amb.ChargePerKm.IsNegative() || !validate.IsMoney(amb.ChargePerKm) {
		return apperr.Validation("charge_per_km", "must be a non-negative amount with at most 2 decimal places, up to %s", validate.MaxAmount)
	}
	return nil
}
