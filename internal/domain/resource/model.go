package resource

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names an allocatable resource type.
type Kind string

const (
	KindBed       Kind = "bed"
	KindAmbulance Kind = "ambulance"
)

type Status string

const (
	StatusAvailable    Status = "available"
	StatusOccupied     Status = "occupied"
	StatusOnTrip       Status = "on_trip"
	StatusMaintenance  Status = "maintenance"
	StatusReserved     Status = "reserved"
	StatusOutOfService Status = "out_of_service"
)

var statusesByKind = map[Kind]map[Status]bool{
	KindBed: {
		StatusAvailable: true, StatusOccupied: true, StatusMaintenance: true, StatusReserved: true,
	},
	KindAmbulance: {
		StatusAvailable: true, StatusOnTrip: true, StatusMaintenance: true, StatusOutOfService: true,
	},
}

// BusyStatus is the status a resource holds while assigned: occupied for
// beds, on_trip for ambulances.
func BusyStatus(kind Kind) Status {
	if kind == KindAmbulance {
		return StatusOnTrip
	}
	return StatusOccupied
}

// ValidStatus reports whether s belongs to kind's status set.
func ValidStatus(kind Kind, s Status) bool {
	return statusesByKind[kind][s]
}

// IdleStatuses are the statuses an administrator may move between freely.
func IdleStatuses(kind Kind) []Status {
	var out []Status
	for s := range statusesByKind[kind] {
		if s != BusyStatus(kind) {
			out = append(out, s)
		}
	}
	return out
}

func validKind(k Kind) bool {
	_, ok := statusesByKind[k]
	return ok
}

type Bed struct {
	ID           uuid.UUID       `json:"id"`
	WardID       *uuid.UUID      `json:"ward_id,omitempty"`
	BedNumber    string          `json:"bed_number"`
	BedType      *string         `json:"bed_type,omitempty"`
	Status       Status          `json:"status"`
	ChargePerDay decimal.Decimal `json:"charge_per_day"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Ambulance struct {
	ID            uuid.UUID       `json:"id"`
	VehicleNumber string          `json:"vehicle_number"`
	VehicleType   *string         `json:"vehicle_type,omitempty"`
	Status        Status          `json:"status"`
	ChargePerKm   decimal.Decimal `json:"charge_per_km"`
	Notes         *string         `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type BedFilter struct {
	WardID *uuid.UUID
	Status Status
}

type AmbulanceFilter struct {
	Status Status
}

// Occupancy counts resources of one kind per status.
type Occupancy struct {
	Kind     Kind           `json:"kind"`
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
