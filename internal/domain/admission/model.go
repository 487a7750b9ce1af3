package admission

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAdmitted   Status = "admitted"
	StatusDischarged Status = "discharged"
)

type Admission struct {
	ID               uuid.UUID        `json:"id"`
	AdmissionNumber  string           `json:"admission_number"`
	PatientID        uuid.UUID        `json:"patient_id"`
	DoctorID         uuid.UUID        `json:"doctor_id"`
	BedID            uuid.UUID        `json:"bed_id"`
	AdmissionDate    time.Time        `json:"admission_date"`
	DischargeDate    *time.Time       `json:"discharge_date,omitempty"`
	Reason           string           `json:"reason"`
	Diagnosis        *string          `json:"diagnosis,omitempty"`
	TreatmentPlan    *string          `json:"treatment_plan,omitempty"`
	DischargeSummary *string          `json:"discharge_summary,omitempty"`
	Status           Status           `json:"status"`
	StayDays         *int             `json:"stay_days,omitempty"`
	DailyRate        *decimal.Decimal `json:"daily_rate,omitempty"`
	Charge           *decimal.Decimal `json:"charge,omitempty"`
	InvoiceID        *uuid.UUID       `json:"invoice_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type Filter struct {
	PatientID *uuid.UUID
	BedID     *uuid.UUID
	Status    Status
}

// StayDays counts started 24-hour periods between admission and discharge,
// with a minimum of one.
func StayDays(admitted, discharged time.Time) int {
	days := int(math.Ceil(discharged.Sub(admitted).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
