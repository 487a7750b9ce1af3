package admission

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

// Beds is the slice of the resource allocator an admission needs.
type Beds interface {
	GetBed(ctx context.Context, id uuid.UUID) (*resource.Bed, error)
	Reserve(ctx context.Context, kind resource.Kind, id uuid.UUID) error
	Release(ctx context.Context, kind resource.Kind, id uuid.UUID) error
}

// Service runs the admission lifecycle. A patient holds the bed from Create
// until Discharge or Delete; the bed charge is fixed at discharge.
type Service struct {
	repo      Repository
	beds      Beds
	tx        db.Transactor
	numbers   billing.Numberer
	metrics   *telemetry.Metrics
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, beds Beds, tx db.Transactor, numbers billing.Numberer,
	metrics *telemetry.Metrics, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		beds:      beds,
		tx:        tx,
		numbers:   numbers,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

type NewAdmission struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	BedID         uuid.UUID
	AdmissionDate time.Time
	Reason        string
	Diagnosis     *string
	TreatmentPlan *string
}

type Discharge struct {
	DischargeDate time.Time
	Summary       string
}

// Create admits a patient to an available bed and marks the bed occupied.
func (s *Service) Create(ctx context.Context, in NewAdmission) (*Admission, error) {
	switch {
	case in.PatientID == uuid.Nil:
		return nil, apperr.Validation("patient_id", "is required")
	case in.DoctorID == uuid.Nil:
		return nil, apperr.Validation("doctor_id", "is required")
	case in.BedID == uuid.Nil:
		return nil, apperr.Validation("bed_id", "is required")
	case in.AdmissionDate.IsZero():
		return nil, apperr.Validation("admission_date", "is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "is required")
	}

	a := &Admission{
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		BedID:         in.BedID,
		AdmissionDate: in.AdmissionDate,
		Reason:        reason,
		Diagnosis:     in.Diagnosis,
		TreatmentPlan: in.TreatmentPlan,
		Status:        StatusAdmitted,
	}
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, "admission.create", func(ctx context.Context) error {
		if _, err := s.beds.GetBed(ctx, in.BedID); err != nil {
			return err
		}
		if err := s.beds.Reserve(ctx, resource.KindBed, in.BedID); err != nil {
			return err
		}
		num, err := s.numbers.Next(ctx, sequence.KindAdmission, s.now())
		if err != nil {
			return err
		}
		a.AdmissionNumber = num
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.AdmissionCreated, "created", a)
	return a, nil
}

// Discharge closes an active admission, prices the stay at the bed's current
// daily rate and frees the bed.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, in Discharge) (*Admission, error) {
	if in.DischargeDate.IsZero() {
		return nil, apperr.Validation("discharge_date", "is required")
	}
	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		return nil, apperr.Validation("discharge_summary", "is required")
	}

	var a *Admission
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, "admission.discharge", func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusAdmitted {
			return apperr.InvalidTransition(string(cur.Status), "discharge")
		}
		if in.DischargeDate.Before(cur.AdmissionDate) {
			return apperr.Validation("discharge_date", "must not be before admission_date")
		}
		bed, err := s.beds.GetBed(ctx, cur.BedID)
		if err != nil {
			return err
		}

		days := StayDays(cur.AdmissionDate, in.DischargeDate)
		rate := bed.ChargePerDay
		charge := rate.Mul(decimal.NewFromInt(int64(days)))
		if !validate.IsMoney(charge) {
			return apperr.Validation("discharge_date", "stay charge %s exceeds %s", charge, validate.MaxAmount)
		}
		dd := in.DischargeDate
		cur.DischargeDate = &dd
		cur.DischargeSummary = &summary
		cur.Status = StatusDischarged
		cur.StayDays = &days
		cur.DailyRate = &rate
		cur.Charge = &charge
		if err := s.repo.Update(ctx, cur); err != nil {
			return err
		}
		if err := s.beds.Release(ctx, resource.KindBed, cur.BedID); err != nil {
			return err
		}
		a = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.published(ctx, events.AdmissionDischarge, "discharged", a)
	return a, nil
}

// Delete removes an admission that has not been billed. An active admission
// gives its bed back.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var a *Admission
	err := db.RunTx(ctx, s.tx, s.metrics, s.logger, "admission.delete", func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.InvoiceID != nil {
			return apperr.InvalidState("admission is billed on invoice %s", cur.InvoiceID)
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return err
		}
		if cur.Status == StatusAdmitted {
			if err := s.beds.Release(ctx, resource.KindBed, cur.BedID); err != nil {
				return err
			}
		}
		a = cur
		return nil
	})
	if err != nil {
		return err
	}
	s.published(ctx, events.AdmissionDeleted, "deleted", a)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	if f.Status != "" && f.Status != StatusAdmitted && f.Status != StatusDischarged {
		return nil, 0, apperr.Validation("status", "invalid admission status %q", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) published(ctx context.Context, eventType, metric string, a *Admission) {
	s.metrics.Assignment("admission", metric)
	s.logger.Info().
		Str("admission_number", a.AdmissionNumber).
		Str("bed_id", a.BedID.String()).
		Str("status", string(a.Status)).
		Msg("admission " + metric)
	events.Emit(ctx, s.publisher, s.logger, events.New(eventType, a.ID.String(), a))
}

// Charge source

func (s *Service) SourceType() billing.SourceType { return billing.SourceAdmission }

// UnbilledCharges turns each discharged, not yet invoiced stay into a bed
// charge of stay_days at the daily rate.
func (s *Service) UnbilledCharges(ctx context.Context, patientID uuid.UUID) ([]billing.Charge, error) {
	list, err := s.repo.ListUnbilled(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]billing.Charge, 0, len(list))
	for _, a := range list {
		if a.StayDays == nil || a.DailyRate == nil || a.Charge == nil {
			return nil, apperr.InvalidState("admission %s was discharged without a charge", a.AdmissionNumber)
		}
		out = append(out, billing.Charge{
			SourceType:  billing.SourceAdmission,
			SourceID:    a.ID,
			ItemType:    billing.ItemBed,
			Description: fmt.Sprintf("Bed charges, admission %s (%d days)", a.AdmissionNumber, *a.StayDays),
			Quantity:    *a.StayDays,
			UnitPrice:   *a.DailyRate,
			Amount:      *a.Charge,
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
