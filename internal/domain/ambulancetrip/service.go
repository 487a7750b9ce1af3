package ambulancetrip

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/billing"
	"github.com/hms/ledger/internal/domain/resource"
	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/telemetry"
	"github.com/hms/ledger/internal/platform/validate"
)

// Fleet is the slice of the resource allocator a trip needs.
type Fleet interface {
	GetAmbulance(ctx context.Context, id uuid.UUID) (*resource.Ambulance, error)
	Reserve(ctx context.Context, kind resource.Kind, id uuid.UUID) error
	Release(ctx context.Context, kind resource.Kind, id uuid.UUID) error
}

// Service runs the trip lifecycle scheduled -> in_progress -> completed, with
// cancellation from either active state. The ambulance stays on_trip while the
// trip is active.
type Service struct {
	repo      Repository
	fleet     Fleet
	tx        db.Transactor
	numbers   billing.Numberer
	metrics   *telemetry.Metrics
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, fleet Fleet, tx db.Transactor, numbers billing.Numberer,
	metrics *telemetry.Metrics, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		fleet:     fleet,
		tx:        tx,
		numbers:   numbers,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type NewTrip struct {
	PatientID      uuid.UUID
	AmbulanceID    uuid.UUID
	DriverID       uuid.UUID
	PickupLocation string
	Destination    string
	TripDate       time.Time
	EstimatedKm    *decimal.Decimal
	Notes          *string
}

func checkDistance(field string, d decimal.Decimal) error {
	if !d.IsPositive() || !validate.IsDistance(d) {
		return apperr.Validation(field, "must be a positive distance with at most 2 decimal places, up to %s", validate.MaxDistance)
	}
	return nil
}

// Create schedules a trip on an available ambulance and puts the ambulance
// on_trip. With an estimated distance the trip carries an estimated charge.
func (s *Service) Create(ctx context.Context, in NewTrip) (*Trip, error) {
	switch {
	case in.PatientID == uuid.Nil:
		return nil, apperr.Validation("patient_id", "is required")
	case in.AmbulanceID == uuid.Nil:
		return nil, apperr.Validation("ambulance_id", "is required")
	case in.DriverID == uuid.Nil:
		return nil, apperr.Validation("driver_id", "is required")
	case in.TripDate.IsZero():
		return nil, apperr.Validation("trip_date", "is required")
	}
	pickup := strings.TrimSpace(in.PickupLocation)
	if pickup == "" {
		return nil, apperr.Validation("pickup_location", "is required")
	}
	dest := strings.TrimSpace(in.Destination)
	if dest == "" {
		return nil, apperr.Validation("destination", "is required")
	}
	if in.EstimatedKm != nil {
		if err := checkDistance("distance_km", *in.EstimatedKm); err != nil {
			return nil, err
		}
	}

	t := &Trip{
		PatientID:      in.PatientID,
		AmbulanceID:    in.AmbulanceID,
		DriverID:       in.DriverID,
		PickupLocation: pickup,
		Destination:    dest,
		TripDate:       in.TripDate,
		Status:         StatusScheduled,
		Notes:          in.Notes,
	}
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, "ambulance_trip.create", func(ctx context.Context) error {
		amb, err := s.fleet.GetAmbulance(ctx, in.AmbulanceID)
		if err != nil {
			return err
		}
		if err := s.fleet.Reserve(ctx, resource.KindAmbulance, in.AmbulanceID); err != nil {
			return err
		}
		num, err := s.numbers.Next(ctx, sequence.KindAmbulanceTrip, s.now())
		if err != nil {
			return err
		}
		t.TripNumber = num
		if in.EstimatedKm != nil {
			if err := t.price(*in.EstimatedKm, amb.ChargePerKm); err != nil {
				return err
			}
		}
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.TripScheduled, "scheduled", t)
	return t, nil
}

// Start marks a scheduled trip as under way.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Trip, error) {
	t, err := s.transition(ctx, id, "ambulance_trip.start", func(ctx context.Context, t *Trip) error {
		if t.Status != StatusScheduled {
			return apperr.InvalidTransition(string(t.Status), "start")
		}
		now := s.now()
		t.StartTime = &now
		t.Status = StatusInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.TripStarted, "started", t)
	return t, nil
}

// Complete closes a trip under way with the measured distance. The charge is
// priced at the ambulance's rate at completion, replacing any estimate.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, distanceKm decimal.Decimal) (*Trip, error) {
	if err := checkDistance("distance_km", distanceKm); err != nil {
		return nil, err
	}
	t, err := s.transition(ctx, id, "ambulance_trip.complete", func(ctx context.Context, t *Trip) error {
		if t.Status != StatusInProgress {
			return apperr.InvalidTransition(string(t.Status), "complete")
		}
		amb, err := s.fleet.GetAmbulance(ctx, t.AmbulanceID)
		if err != nil {
			return err
		}
		if err := t.price(distanceKm, amb.ChargePerKm); err != nil {
			return err
		}
		now := s.now()
		t.EndTime = &now
		t.Status = StatusCompleted
		return s.fleet.Release(ctx, resource.KindAmbulance, t.AmbulanceID)
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.TripCompleted, "completed", t)
	return t, nil
}

// Cancel abandons an active trip and frees the ambulance.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Trip, error) {
	t, err := s.transition(ctx, id, "ambulance_trip.cancel", func(ctx context.Context, t *Trip) error {
		if !t.Status.Active() {
			return apperr.InvalidTransition(string(t.Status), "cancel")
		}
		if t.Status == StatusInProgress {
			now := s.now()
			t.EndTime = &now
		}
		t.Status = StatusCancelled
		return s.fleet.Release(ctx, resource.KindAmbulance, t.AmbulanceID)
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.TripCancelled, "cancelled", t)
	return t, nil
}

// transition locks the trip, applies fn and stores the result, all in one
// transaction.
func (s *Service) transition(ctx context.Context, id uuid.UUID, op string,
	fn func(ctx context.Context, t *Trip) error) (*Trip, error) {
	var out *Trip
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, op, func(ctx context.Context) error {
		t, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// Delete removes a trip that is neither under way nor billed. A scheduled
// trip gives its ambulance back.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var t *Trip
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, "ambulance_trip.delete", func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == StatusInProgress {
			return apperr.InvalidState("cannot delete a trip in progress; complete or cancel it first")
		}
		if cur.InvoiceID != nil {
			return apperr.InvalidState("trip is billed on invoice %s", cur.InvoiceID)
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if cur.Status == StatusScheduled {
			if err := s.fleet.Release(ctx, resource.KindAmbulance, cur.AmbulanceID); err != nil {
				return err
			}
		}
		t = cur
		return nil
	})
	if err != nil {
		return err
	}
	s.published(ctx, events.TripDeleted, "deleted", t)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Trip, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Trip, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("status", "invalid trip status %q", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) published(ctx context.Context, eventType, metric string, t *Trip) {
	s.metrics.Assignment("ambulance_trip", metric)
	s.logger.Info().
		Str("trip_number", t.TripNumber).
		Str("ambulance_id", t.AmbulanceID.String()).
		Str("status", string(t.Status)).
		Msg("ambulance trip " + metric)
	events.Emit(ctx, s.publisher, s.logger, events.New(eventType, t.ID.String(), t))
}

// Charge source

func (s *Service) SourceType() billing.SourceType { return billing.SourceAmbulanceTrip }

// UnbilledCharges bills each completed trip as a single ambulance line.
func (s *Service) UnbilledCharges(ctx context.Context, patientID uuid.UUID) ([]billing.Charge, error) {
	list, err := s.repo.ListUnbilled(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Charge, 0, len(list))
	for _, t := range list {
		if t.Charge == nil || t.DistanceKm == nil {
			return nil, apperr.InvalidState("trip %s was completed without a charge", t.TripNumber)
		}
		desc := fmt.Sprintf("Ambulance trip %s, %s to %s (%s km)",
			t.TripNumber, t.PickupLocation, t.Destination, t.DistanceKm.StringFixed(2))
		out = append(out, billing.Charge{
			SourceType:  billing.SourceAmbulanceTrip,
			SourceID:    t.ID,
			ItemType:    billing.ItemAmbulance,
			Description: desc,
			Quantity:    1,
			UnitPrice:   *t.Charge,
			Amount:      *t.Charge,
		})
	}
	return out, nil
}

func (s *Service) MarkBilled(ctx context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	return s.repo.MarkBilled(ctx, invoiceID, ids)
}

func (s *Service) ReleaseBilled(ctx context.Context, invoiceID uuid.UUID) error {
	return s.repo.ReleaseBilled(ctx, invoiceID)
}
