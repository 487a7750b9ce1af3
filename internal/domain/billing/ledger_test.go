package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/events"
	"github.com/hms/ledger/internal/platform/events/eventstest"
	"github.com/hms/ledger/internal/platform/lock"
)

var fixedNow = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	ledger    *Ledger
	processor *PaymentProcessor
	invoices  *mockInvoiceRepo
	payments  *mockPaymentRepo
	counter   *memCounter
	tx        *fakeTx
	events    *eventstest.Recorder
}

func newTestEnv(sources ...*fakeSource) *testEnv {
	env := &testEnv{
		invoices: newMockInvoiceRepo(),
		payments: newMockPaymentRepo(),
		counter:  newMemCounter(),
		events:   &eventstest.Recorder{},
	}
	env.tx = &fakeTx{stores: []snapshotter{env.invoices, env.payments, env.counter}}
	for _, s := range sources {
		env.tx.stores = append(env.tx.stores, s)
	}
	numbers := sequence.NewGenerator(env.counter, time.UTC, nil)
	env.ledger = NewLedger(env.invoices, env.tx, numbers, lock.NewLocalLocker(), nil, env.events, zerolog.Nop())
	env.ledger.now = func() time.Time { return fixedNow }
	for _, s := range sources {
		env.ledger.RegisterChargeSource(s)
	}
	env.processor = NewPaymentProcessor(env.invoices, env.payments, env.tx, numbers, nil, nil, env.events, zerolog.Nop())
	env.processor.now = func() time.Time { return fixedNow }
	return env
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// sampleInvoice is two consultations at 100 and one lab test at 50, tax 10,
// discount 5.
func sampleInvoice(patientID uuid.UUID) NewInvoice {
	return NewInvoice{
		PatientID:   patientID,
		InvoiceDate: date(2025, 1, 1),
		DueDate:     date(2025, 1, 31),
		Tax:         money("10"),
		Discount:    money("5"),
		Items: []NewItem{
			{ItemType: ItemConsultation, Description: "Consultation", Quantity: 2, UnitPrice: money("100")},
			{ItemType: ItemLabTest, Description: "CBC", Quantity: 1, UnitPrice: money("50")},
		},
	}
}

func mustCreate(t *testing.T, env *testEnv) *Invoice {
	t.Helper()
	inv, err := env.ledger.Create(context.Background(), sampleInvoice(uuid.New()))
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		paid, total string
		cancelled   bool
		want        Status
	}{
		{"0", "100", false, StatusPending},
		{"0", "100", true, StatusCancelled},
		{"0", "0", false, StatusPending},
		{"0.01", "100", false, StatusPartiallyPaid},
		{"99.99", "100", false, StatusPartiallyPaid},
		{"100", "100", false, StatusPaid},
		{"100", "100", true, StatusPaid},
	}
	for _, tc := range cases {
		got := DeriveStatus(money(tc.paid), money(tc.total), tc.cancelled)
		if got != tc.want {
			t.Errorf("DeriveStatus(%s, %s, %v) = %s, want %s", tc.paid, tc.total, tc.cancelled, got, tc.want)
		}
	}
}

func TestLedger_Create_Totals(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)

	if !inv.Subtotal.Equal(money("250")) {
		t.Errorf("expected subtotal 250, got %s", inv.Subtotal)
	}
	if !inv.TotalAmount.Equal(money("255")) {
		t.Errorf("expected total 255, got %s", inv.TotalAmount)
	}
	if !inv.PaidAmount.IsZero() || inv.Status != StatusPending {
		t.Errorf("expected unpaid pending invoice, got %s/%s", inv.PaidAmount, inv.Status)
	}
	if inv.InvoiceNumber != "INV202501010001" {
		t.Errorf("unexpected invoice number %s", inv.InvoiceNumber)
	}
	if len(env.invoices.items[inv.ID]) != 2 {
		t.Errorf("expected 2 stored items, got %d", len(env.invoices.items[inv.ID]))
	}
	if types := env.events.Types(); len(types) != 1 || types[0] != events.InvoiceCreated {
		t.Errorf("expected invoice.created, got %v", types)
	}
}

func TestLedger_Create_AmountIsServerDerived(t *testing.T) {
	env := newTestEnv()
	in := sampleInvoice(uuid.New())
	in.Items = []NewItem{{ItemType: ItemMedicine, Description: "Paracetamol", Quantity: 3, UnitPrice: money("2.50")}}
	inv, err := env.ledger.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.Items[0].Amount.Equal(money("7.50")) {
		t.Errorf("expected amount 7.50, got %s", inv.Items[0].Amount)
	}
}

func TestLedger_ItemsKeepInsertionOrder(t *testing.T) {
	env := newTestEnv()
	in := sampleInvoice(uuid.New())
	in.Items = append(in.Items,
		NewItem{ItemType: ItemMedicine, Description: "Amoxicillin", Quantity: 1, UnitPrice: money("12")},
		NewItem{ItemType: ItemBed, Description: "Ward bed", Quantity: 2, UnitPrice: money("800")},
	)
	ctx := context.Background()
	inv, err := env.ledger.Create(ctx, in)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := env.ledger.AddItem(ctx, inv.ID, NewItem{ItemType: ItemOther, Description: "Linen", Quantity: 1, UnitPrice: money("5")}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	items, err := env.ledger.Items(ctx, inv.ID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	want := []string{"Consultation", "CBC", "Amoxicillin", "Ward bed", "Linen"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, it := range items {
		if it.Description != want[i] {
			t.Errorf("item %d: expected %s, got %s", i, want[i], it.Description)
		}
		if i > 0 && it.Position <= items[i-1].Position {
			t.Errorf("item %d: position %d not after %d", i, it.Position, items[i-1].Position)
		}
	}
}

func TestLedger_Create_SequentialNumbers(t *testing.T) {
	env := newTestEnv()
	for i, want := range []string{"0001", "0002", "0003"} {
		inv := mustCreate(t, env)
		if !strings.HasSuffix(inv.InvoiceNumber, want) {
			t.Errorf("invoice %d: expected suffix %s, got %s", i, want, inv.InvoiceNumber)
		}
	}
}

func TestLedger_Create_Validation(t *testing.T) {
	pid := uuid.New()
	cases := []struct {
		name  string
		edit  func(in *NewInvoice)
		field string
	}{
		{"no items", func(in *NewInvoice) { in.Items = nil }, "items"},
		{"zero quantity", func(in *NewInvoice) { in.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative price", func(in *NewInvoice) { in.Items[1].UnitPrice = money("-1") }, "items[1].unit_price"},
		{"bad item type", func(in *NewInvoice) { in.Items[0].ItemType = "massage" }, "items[0].item_type"},
		{"missing patient", func(in *NewInvoice) { in.PatientID = uuid.Nil }, "patient_id"},
		{"due before invoice", func(in *NewInvoice) { in.DueDate = date(2024, 12, 31) }, "due_date"},
		{"fractional cents", func(in *NewInvoice) { in.Tax = money("0.001") }, "tax_amount"},
		{"discount above total", func(in *NewInvoice) { in.Discount = money("300") }, "discount_amount"},
		{"price beyond column", func(in *NewInvoice) { in.Items[0].UnitPrice = money("100000000000") }, "items[0].unit_price"},
		{"line beyond column", func(in *NewInvoice) { in.Items[0].UnitPrice = money("9999999999.99") }, "items[0].quantity"},
		{"tax beyond column", func(in *NewInvoice) { in.Tax = money("10000000000") }, "tax_amount"},
		{"subtotal beyond column", func(in *NewInvoice) {
			in.Items[0] = NewItem{ItemType: ItemProcedure, Description: "Surgery", Quantity: 1, UnitPrice: money("6000000000")}
			in.Items[1] = NewItem{ItemType: ItemProcedure, Description: "Surgery", Quantity: 1, UnitPrice: money("6000000000")}
		}, "total_amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			in := sampleInvoice(pid)
			tc.edit(&in)
			_, err := env.ledger.Create(context.Background(), in)
			var ae *apperr.Error
			if !errors.As(err, &ae) || ae.Kind != apperr.KindValidation {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ae.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, ae.Field)
			}
			if len(env.invoices.invoices) != 0 {
				t.Error("expected nothing written")
			}
		})
	}
}

func TestLedger_Create_RollsBackOnStorageFailure(t *testing.T) {
	env := newTestEnv()
	env.invoices.failAddItem = errors.New("connection reset")

	_, err := env.ledger.Create(context.Background(), sampleInvoice(uuid.New()))
	if !errors.Is(err, apperr.ErrTransactionFailure) {
		t.Fatalf("expected TransactionFailure, got %v", err)
	}
	if len(env.invoices.invoices) != 0 {
		t.Error("expected invoice header to be rolled back")
	}
	env.invoices.failAddItem = nil
	inv := mustCreate(t, env)
	if !strings.HasSuffix(inv.InvoiceNumber, "0001") {
		t.Errorf("expected rolled-back number to be reused, got %s", inv.InvoiceNumber)
	}
	if len(env.events.Events()) != 1 {
		t.Errorf("expected only the successful create to publish, got %v", env.events.Types())
	}
}

func TestLedger_UpdateHeader_RecomputesFromSubtotal(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	tax := money("20")
	notes := "adjusted"

	got, err := env.ledger.UpdateHeader(context.Background(), inv.ID, HeaderUpdate{Tax: &tax, Notes: &notes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.TotalAmount.Equal(money("265")) {
		t.Errorf("expected total 265, got %s", got.TotalAmount)
	}
	if !got.Subtotal.Equal(money("250")) {
		t.Errorf("expected subtotal untouched, got %s", got.Subtotal)
	}
	if got.Notes == nil || *got.Notes != "adjusted" {
		t.Error("expected notes to be updated")
	}
}

func TestLedger_UpdateHeader_NotPending(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	recordPayment(t, env, inv.ID, "10")
	due := date(2025, 2, 28)

	_, err := env.ledger.UpdateHeader(context.Background(), inv.ID, HeaderUpdate{DueDate: &due})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
}

func TestLedger_UpdateHeader_DueBeforeInvoiceDate(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	due := date(2024, 12, 1)

	_, err := env.ledger.UpdateHeader(context.Background(), inv.ID, HeaderUpdate{DueDate: &due})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestLedger_Delete(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)

	if err := env.ledger.Delete(context.Background(), inv.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.invoices.invoices[inv.ID]; ok {
		t.Error("expected invoice to be deleted")
	}
}

func TestLedger_Delete_HasPayments(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	recordPayment(t, env, inv.ID, "100")

	err := env.ledger.Delete(context.Background(), inv.ID)
	if !errors.Is(err, apperr.ErrHasPayments) {
		t.Errorf("expected HasPayments, got %v", err)
	}
	if _, ok := env.invoices.invoices[inv.ID]; !ok {
		t.Error("invoice should still exist")
	}
}

func TestLedger_Cancel(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)

	got, err := env.ledger.Cancel(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if _, err := env.ledger.Cancel(context.Background(), inv.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("expected InvalidTransition on second cancel, got %v", err)
	}
	_, err = env.processor.RecordPayment(context.Background(), paymentFor(inv.ID, "10"))
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState paying a cancelled invoice, got %v", err)
	}
}

func TestLedger_Cancel_WithPayments(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	recordPayment(t, env, inv.ID, "5")

	if _, err := env.ledger.Cancel(context.Background(), inv.ID); !errors.Is(err, apperr.ErrHasPayments) {
		t.Errorf("expected HasPayments, got %v", err)
	}
}

func TestLedger_AddAndRemoveItem(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	ctx := context.Background()

	it, err := env.ledger.AddItem(ctx, inv.ID, NewItem{ItemType: ItemProcedure, Description: "Dressing", Quantity: 1, UnitPrice: money("45")})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	stored := env.invoices.invoices[inv.ID]
	if !stored.Subtotal.Equal(money("295")) || !stored.TotalAmount.Equal(money("300")) {
		t.Errorf("expected 295/300 after add, got %s/%s", stored.Subtotal, stored.TotalAmount)
	}

	got, err := env.ledger.RemoveItem(ctx, inv.ID, it.ID)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if !got.TotalAmount.Equal(money("255")) {
		t.Errorf("expected total back to 255, got %s", got.TotalAmount)
	}
}

func TestLedger_RemoveItem_KeepsLastItem(t *testing.T) {
	env := newTestEnv()
	in := sampleInvoice(uuid.New())
	in.Items = in.Items[:1]
	inv, err := env.ledger.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.ledger.RemoveItem(context.Background(), inv.ID, inv.Items[0].ID)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
}

func TestLedger_AddItem_NotPending(t *testing.T) {
	env := newTestEnv()
	inv := mustCreate(t, env)
	recordPayment(t, env, inv.ID, "255")

	_, err := env.ledger.AddItem(context.Background(), inv.ID, NewItem{ItemType: ItemOther, Description: "x", Quantity: 1, UnitPrice: money("1")})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
}

// -- Charges --

func TestLedger_CreateFromCharges(t *testing.T) {
	admissions := newFakeSource(SourceAdmission)
	trips := newFakeSource(SourceAmbulanceTrip)
	env := newTestEnv(admissions, trips)
	pid := uuid.New()
	stay := admissions.add(pid, "Stay ADM202501010001", 3, "100")
	trip := trips.add(pid, "Trip AMB202501010001", 1, "60")
	trips.add(uuid.New(), "Trip for someone else", 1, "80")

	inv, err := env.ledger.CreateFromCharges(context.Background(), FromCharges{
		PatientID: pid, InvoiceDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.TotalAmount.Equal(money("360")) {
		t.Errorf("expected total 360, got %s", inv.TotalAmount)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(inv.Items))
	}
	if admissions.billedOn[stay] != inv.ID || trips.billedOn[trip] != inv.ID {
		t.Error("expected both charges to be linked to the invoice")
	}

	_, err = env.ledger.CreateFromCharges(context.Background(), FromCharges{
		PatientID: pid, InvoiceDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState with nothing left to bill, got %v", err)
	}
}

func TestLedger_CancelReleasesCharges(t *testing.T) {
	admissions := newFakeSource(SourceAdmission)
	env := newTestEnv(admissions)
	pid := uuid.New()
	stay := admissions.add(pid, "Stay", 2, "100")
	inv, err := env.ledger.CreateFromCharges(context.Background(), FromCharges{
		PatientID: pid, InvoiceDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.ledger.Cancel(context.Background(), inv.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, billed := admissions.billedOn[stay]; billed {
		t.Error("expected charge to be released for billing again")
	}
}

func TestLedger_RemoveItem_BilledCharge(t *testing.T) {
	admissions := newFakeSource(SourceAdmission)
	env := newTestEnv(admissions)
	pid := uuid.New()
	admissions.add(pid, "Stay A", 2, "100")
	admissions.add(pid, "Stay B", 1, "100")
	inv, err := env.ledger.CreateFromCharges(context.Background(), FromCharges{
		PatientID: pid, InvoiceDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.ledger.RemoveItem(context.Background(), inv.ID, inv.Items[0].ID)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
}

func TestLedger_CreateFromCharges_LockBusy(t *testing.T) {
	admissions := newFakeSource(SourceAdmission)
	env := newTestEnv(admissions)
	env.ledger.locker = busyLocker{}
	pid := uuid.New()
	admissions.add(pid, "Stay", 1, "100")

	_, err := env.ledger.CreateFromCharges(context.Background(), FromCharges{
		PatientID: pid, InvoiceDate: date(2025, 1, 1), DueDate: date(2025, 1, 15),
	})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
	if len(env.invoices.invoices) != 0 {
		t.Error("expected no invoice")
	}
}
