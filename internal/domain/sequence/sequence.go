// Package sequence mints human-readable document numbers such as
// INV202501150003: a per-kind prefix, the calendar day, and a counter that
// restarts every day.
package sequence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hms/ledger/internal/platform/apperr"
)

type Kind string

const (
	KindAdmission     Kind = "admission"
	KindAmbulanceTrip Kind = "ambulance_trip"
	KindAppointment   Kind = "appointment"
	KindInvoice       Kind = "invoice"
	KindPayment       Kind = "payment"
	KindLabRequest    Kind = "lab_request"
	KindPrescription  Kind = "prescription"
)

var prefixes = map[Kind]string{
	KindAdmission:     "ADM",
	KindAmbulanceTrip: "AMB",
	KindAppointment:   "APT",
	KindInvoice:       "INV",
	KindPayment:       "PAY",
	KindLabRequest:    "LAB-",
	KindPrescription:  "PRX-",
}

const dayLayout = "20060102"

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(prefixes))
	for k := range prefixes {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func Prefix(kind Kind) (string, error) {
	p, ok := prefixes[kind]
	if !ok {
		return "", apperr.Validation("kind", "unknown document kind %q", kind)
	}
	return p, nil
}

// Format renders a document number. Counters above 9999 simply widen.
func Format(kind Kind, day time.Time, n int) (string, error) {
	prefix, err := Prefix(kind)
	if err != nil {
		return "", err
	}
	if n < 1 {
		return "", apperr.Validation("counter", "must be at least 1, got %d", n)
	}
	return fmt.Sprintf("%s%s%04d", prefix, day.Format(dayLayout), n), nil
}

// Parse splits a document number back into its kind, day (UTC midnight) and
// counter.
func Parse(number string) (Kind, time.Time, int, error) {
	for kind, prefix := range prefixes {
		rest, ok := strings.CutPrefix(number, prefix)
		if !ok {
			continue
		}
		if len(rest) < len(dayLayout)+4 {
			break
		}
		day, err := time.Parse(dayLayout, rest[:len(dayLayout)])
		if err != nil {
			return "", time.Time{}, 0, apperr.Validation("number", "invalid date in %q", number)
		}
		digits := rest[len(dayLayout):]
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || strings.HasPrefix(digits, "+") || strings.HasPrefix(digits, "-") {
			return "", time.Time{}, 0, apperr.Validation("number", "invalid counter in %q", number)
		}
		return kind, day, n, nil
	}
	return "", time.Time{}, 0, apperr.Validation("number", "unrecognised document number %q", number)
}
