package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
	"github.com/hms/ledger/internal/platform/lock"
)

// -- Mock Repositories --

type mockInvoiceRepo struct {
	invoices    map[uuid.UUID]*Invoice
	items       map[uuid.UUID][]*Item
	position    int64
	failAddItem error
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		items:    make(map[uuid.UUID][]*Item),
	}
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	for _, existing := range m.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return fmt.Errorf("duplicate invoice number %s", inv.InvoiceNumber)
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	cp := *inv
	cp.Items = nil
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice")
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) Update(_ context.Context, inv *Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return apperr.NotFound("invoice")
	}
	if inv.PaidAmount.IsNegative() || inv.PaidAmount.GreaterThan(inv.TotalAmount) {
		return apperr.InvalidState("invoice update violates invoices_paid_within_total")
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	cp.Items = nil
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *mockInvoiceRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.invoices[id]; !ok {
		return apperr.NotFound("invoice")
	}
	delete(m.invoices, id)
	delete(m.items, id)
	return nil
}

func (m *mockInvoiceRepo) List(_ context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var result []*Invoice
	for _, inv := range m.invoices {
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		result = append(result, inv)
	}
	return result, len(result), nil
}

func (m *mockInvoiceRepo) AddItem(_ context.Context, it *Item) error {
	if m.failAddItem != nil {
		return m.failAddItem
	}
	it.ID = uuid.New()
	m.position++
	it.Position = m.position
	it.CreatedAt = time.Now()
	cp := *it
	m.items[it.InvoiceID] = append(m.items[it.InvoiceID], &cp)
	return nil
}

func (m *mockInvoiceRepo) GetItems(_ context.Context, invoiceID uuid.UUID) ([]*Item, error) {
	var out []*Item
	for _, it := range m.items[invoiceID] {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *mockInvoiceRepo) RemoveItem(_ context.Context, invoiceID, itemID uuid.UUID) error {
	items := m.items[invoiceID]
	for i, it := range items {
		if it.ID == itemID {
			m.items[invoiceID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("invoice item")
}

// snapshot copies the store and returns a function that puts it back.
func (m *mockInvoiceRepo) snapshot() func() {
	invoices := make(map[uuid.UUID]*Invoice, len(m.invoices))
	for k, v := range m.invoices {
		cp := *v
		invoices[k] = &cp
	}
	items := make(map[uuid.UUID][]*Item, len(m.items))
	for k, v := range m.items {
		items[k] = append([]*Item(nil), v...)
	}
	return func() { m.invoices, m.items = invoices, items }
}

type mockPaymentRepo struct {
	payments map[uuid.UUID]*Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[uuid.UUID]*Payment)}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.payments[id]; !ok {
		return apperr.NotFound("payment")
	}
	delete(m.payments, id)
	return nil
}

func (m *mockPaymentRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPaymentRepo) TotalsByMethod(_ context.Context, day time.Time) ([]MethodTotal, error) {
	byMethod := make(map[Method]*MethodTotal)
	for _, p := range m.payments {
		if !p.PaymentDate.Equal(day) {
			continue
		}
		mt, ok := byMethod[p.Method]
		if !ok {
			mt = &MethodTotal{Method: p.Method, Total: decimal.Zero}
			byMethod[p.Method] = mt
		}
		mt.Count++
		mt.Total = mt.Total.Add(p.Amount)
	}
	var out []MethodTotal
	for _, mt := range byMethod {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (m *mockPaymentRepo) snapshot() func() {
	payments := make(map[uuid.UUID]*Payment, len(m.payments))
	for k, v := range m.payments {
		payments[k] = v
	}
	return func() { m.payments = payments }
}

type memCounter struct {
	counts map[string]int
}

func newMemCounter() *memCounter { return &memCounter{counts: make(map[string]int)} }

func (c *memCounter) Increment(_ context.Context, kind sequence.Kind, day time.Time) (int, error) {
	key := string(kind) + day.Format("20060102")
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) snapshot() func() {
	counts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	return func() { c.counts = counts }
}

type snapshotter interface {
	snapshot() func()
}

// fakeTx serialises units of work and rolls the in-memory stores back when
// fn fails, the way a database transaction would.
type fakeTx struct {
	mu     sync.Mutex
	stores []snapshotter
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	restores := make([]func(), 0, len(f.stores))
	for _, s := range f.stores {
		restores = append(restores, s.snapshot())
	}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return db.Classify(err)
	}
	return nil
}

type fakeTxKey struct{}

// -- Charge source --

type fakeSource struct {
	kind     SourceType
	charges  map[uuid.UUID]Charge
	patients map[uuid.UUID]uuid.UUID
	billedOn map[uuid.UUID]uuid.UUID
}

func newFakeSource(kind SourceType) *fakeSource {
	return &fakeSource{
		kind:     kind,
		charges:  make(map[uuid.UUID]Charge),
		patients: make(map[uuid.UUID]uuid.UUID),
		billedOn: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *fakeSource) add(patientID uuid.UUID, description string, qty int, unit string) uuid.UUID {
	id := uuid.New()
	price := decimal.RequireFromString(unit)
	s.charges[id] = Charge{
		SourceType:  s.kind,
		SourceID:    id,
		ItemType:    ItemOther,
		Description: description,
		Quantity:    qty,
		UnitPrice:   price,
		Amount:      price.Mul(decimal.NewFromInt(int64(qty))),
	}
	s.patients[id] = patientID
	return id
}

func (s *fakeSource) SourceType() SourceType { return s.kind }

func (s *fakeSource) UnbilledCharges(_ context.Context, patientID uuid.UUID) ([]Charge, error) {
	var out []Charge
	for id, c := range s.charges {
		if s.patients[id] == patientID {
			if _, billed := s.billedOn[id]; !billed {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Description < out[j].Description })
	return out, nil
}

func (s *fakeSource) MarkBilled(_ context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range ids {
		if _, billed := s.billedOn[id]; !billed {
			s.billedOn[id] = invoiceID
			n++
		}
	}
	return n, nil
}

func (s *fakeSource) ReleaseBilled(_ context.Context, invoiceID uuid.UUID) error {
	for id, inv := range s.billedOn {
		if inv == invoiceID {
			delete(s.billedOn, id)
		}
	}
	return nil
}

func (s *fakeSource) snapshot() func() {
	billed := make(map[uuid.UUID]uuid.UUID, len(s.billedOn))
	for k, v := range s.billedOn {
		billed[k] = v
	}
	return func() { s.billedOn = billed }
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return lock.ErrBusy
}
