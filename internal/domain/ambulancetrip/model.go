package ambulancetrip

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/validate"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusInProgress: true, StatusCompleted: true, StatusCancelled: true,
}

// Active reports whether a trip in status s still holds its ambulance.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusInProgress
}

type Trip struct {
	ID             uuid.UUID        `json:"id"`
	TripNumber     string           `json:"trip_number"`
	AmbulanceID    uuid.UUID        `json:"ambulance_id"`
	PatientID      uuid.UUID        `json:"patient_id"`
	DriverID       uuid.UUID        `json:"driver_id"`
	PickupLocation string           `json:"pickup_location"`
	Destination    string           `json:"destination"`
	TripDate       time.Time        `json:"trip_date"`
	StartTime      *time.Time       `json:"start_time,omitempty"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	DistanceKm     *decimal.Decimal `json:"distance_km,omitempty"`
	RatePerKm      *decimal.Decimal `json:"rate_per_km,omitempty"`
	Charge         *decimal.Decimal `json:"charge,omitempty"`
	Status         Status           `json:"status"`
	Notes          *string          `json:"notes,omitempty"`
	InvoiceID      *uuid.UUID       `json:"invoice_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type Filter struct {
	PatientID   *uuid.UUID
	AmbulanceID *uuid.UUID
	Status      Status
}

// price sets distance, rate and charge; the charge is rounded to cents.
func (t *Trip) price(distance, rate decimal.Decimal) error {
	charge := distance.Mul(rate).Round(2)
	if !validate.IsMoney(charge) {
		return apperr.Validation("distance_km", "charge %s exceeds %s", charge, validate.MaxAmount)
	}
	t.DistanceKm = &distance
	t.RatePerKm = &rate
	t.Charge = &charge
	return nil
}
