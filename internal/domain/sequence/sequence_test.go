package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hms/ledger/internal/platform/apperr"
)

type mockCounter struct {
	mu     sync.Mutex
	values map[string]int
	err    error
}

func newMockCounter() *mockCounter {
	return &mockCounter{values: make(map[string]int)}
}

func (m *mockCounter) Increment(_ context.Context, kind Kind, day time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%s", kind, day.Format("2006-01-02"))
	m.values[key]++
	return m.values[key], nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFormat(t *testing.T) {
	tests := []struct {
		kind Kind
		n    int
		want string
	}{
		{KindInvoice, 3, "INV202501010003"},
		{KindAdmission, 1, "ADM202501010001"},
		{KindAmbulanceTrip, 12, "AMB202501010012"},
		{KindAppointment, 7, "APT202501010007"},
		{KindPayment, 9999, "PAY202501019999"},
		{KindLabRequest, 2, "LAB-202501010002"},
		{KindPrescription, 10000, "PRX-2025010110000"},
	}
	for _, tt := range tests {
		got, err := Format(tt.kind, day(2025, 1, 1), tt.n)
		if err != nil {
			t.Fatalf("Format(%s, %d): %v", tt.kind, tt.n, err)
		}
		if got != tt.want {
			t.Errorf("Format(%s, %d) = %s, want %s", tt.kind, tt.n, got, tt.want)
		}
	}
}

func TestFormat_UnknownKind(t *testing.T) {
	_, err := Format(Kind("voucher"), day(2025, 1, 1), 1)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFormat_NonPositiveCounter(t *testing.T) {
	if _, err := Format(KindInvoice, day(2025, 1, 1), 0); err == nil {
		t.Error("expected error for counter 0")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, kind := range Kinds() {
		number, err := Format(kind, day(2024, 12, 31), 42)
		if err != nil {
			t.Fatalf("Format: %v", err)
		}
		gotKind, gotDay, n, err := Parse(number)
		if err != nil {
			t.Fatalf("Parse(%s): %v", number, err)
		}
		if gotKind != kind || !gotDay.Equal(day(2024, 12, 31)) || n != 42 {
			t.Errorf("Parse(%s) = %s %v %d", number, gotKind, gotDay, n)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, number := range []string{"", "XYZ202501010001", "INV2025", "INV20251301001", "INV20250101abcd", "INV202501010000"} {
		if _, _, _, err := Parse(number); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Parse(%q): expected validation error, got %v", number, err)
		}
	}
}

func TestGenerator_SequentialNumbering(t *testing.T) {
	g := NewGenerator(newMockCounter(), time.UTC, nil)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	want := []string{"INV202501010001", "INV202501010002", "INV202501010003"}
	for i, w := range want {
		got, err := g.Next(ctx, KindInvoice, at)
		if err != nil {
			t.Fatalf("Next #%d: %v", i+1, err)
		}
		if got != w {
			t.Errorf("Next #%d = %s, want %s", i+1, got, w)
		}
	}
}

func TestGenerator_IndependentPerKindAndDay(t *testing.T) {
	g := NewGenerator(newMockCounter(), time.UTC, nil)
	ctx := context.Background()
	jan1 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	jan2 := jan1.AddDate(0, 0, 1)

	g.Next(ctx, KindInvoice, jan1)
	g.Next(ctx, KindInvoice, jan1)

	pay, _ := g.Next(ctx, KindPayment, jan1)
	if pay != "PAY202501010001" {
		t.Errorf("expected payment counter to start at 1, got %s", pay)
	}
	inv, _ := g.Next(ctx, KindInvoice, jan2)
	if inv != "INV202501020001" {
		t.Errorf("expected counter to restart next day, got %s", inv)
	}
}

func TestGenerator_DayInConfiguredZone(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	g := NewGenerator(newMockCounter(), loc, nil)

	// 20:00 UTC on Jan 1 is already Jan 2 in IST.
	got, err := g.Next(context.Background(), KindAdmission, time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ADM202501020001" {
		t.Errorf("expected ADM202501020001, got %s", got)
	}
}

func TestGenerator_UnknownKind(t *testing.T) {
	g := NewGenerator(newMockCounter(), nil, nil)
	if _, err := g.Next(context.Background(), Kind("receipt"), time.Now()); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGenerator_CounterFailure(t *testing.T) {
	c := newMockCounter()
	c.err = errors.New("deadlock detected")
	g := NewGenerator(c, nil, nil)
	if _, err := g.Next(context.Background(), KindInvoice, time.Now()); err == nil {
		t.Error("expected counter error to propagate")
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := NewGenerator(newMockCounter(), nil, nil)
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Next(context.Background(), KindPayment, at)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Errorf("expected 50 distinct numbers, got %d", len(seen))
	}
}
