package admission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/ledger/internal/domain/resource"
	"github.com/hms/ledger/internal/domain/sequence"
	"github.com/hms/ledger/internal/platform/apperr"
	"github.com/hms/ledger/internal/platform/db"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Admission
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Admission)}
}

func (m *mockRepo) Create(_ context.Context, a *Admission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.BedID == a.BedID && existing.Status == StatusAdmitted {
			return apperr.ResourceUnavailable("bed already has an active admission")
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("admission")
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, a *Admission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[a.ID]; !ok {
		return apperr.NotFound("admission")
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("admission")
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Admission
	for _, a := range m.store {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.BedID != nil && a.BedID != *f.BedID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionNumber < out[j].AdmissionNumber })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListUnbilled(_ context.Context, patientID uuid.UUID) ([]*Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Admission
	for _, a := range m.store {
		if a.PatientID == patientID && a.Status == StatusDischarged && a.InvoiceID == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionNumber < out[j].AdmissionNumber })
	return out, nil
}

func (m *mockRepo) MarkBilled(_ context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		a, ok := m.store[id]
		if ok && a.InvoiceID == nil && a.Status == StatusDischarged {
			inv := invoiceID
			a.InvoiceID = &inv
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ReleaseBilled(_ context.Context, invoiceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.store {
		if a.InvoiceID != nil && *a.InvoiceID == invoiceID {
			a.InvoiceID = nil
		}
	}
	return nil
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	store := make(map[uuid.UUID]*Admission, len(m.store))
	for k, v := range m.store {
		cp := *v
		store[k] = &cp
	}
	return func() {
		m.mu.Lock()
		m.store = store
		m.mu.Unlock()
	}
}

// -- Beds --

type fakeBeds struct {
	mu   sync.Mutex
	beds map[uuid.UUID]*resource.Bed
}

func newFakeBeds() *fakeBeds {
	return &fakeBeds{beds: make(map[uuid.UUID]*resource.Bed)}
}

func (f *fakeBeds) add(rate string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.beds[id] = &resource.Bed{
		ID:           id,
		BedNumber:    "B-" + id.String()[:4],
		Status:       resource.StatusAvailable,
		ChargePerDay: decimal.RequireFromString(rate),
	}
	return id
}

func (f *fakeBeds) status(id uuid.UUID) resource.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beds[id].Status
}

func (f *fakeBeds) setStatus(id uuid.UUID, s resource.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beds[id].Status = s
}

func (f *fakeBeds) setRate(id uuid.UUID, rate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beds[id].ChargePerDay = decimal.RequireFromString(rate)
}

func (f *fakeBeds) GetBed(_ context.Context, id uuid.UUID) (*resource.Bed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed")
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBeds) Reserve(_ context.Context, kind resource.Kind, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.beds[id]
	if !ok {
		return apperr.NotFound("bed")
	}
	if b.Status != resource.StatusAvailable {
		return apperr.ResourceUnavailable("%s is not available (status %s)", kind, b.Status)
	}
	b.Status = resource.StatusOccupied
	return nil
}

func (f *fakeBeds) Release(_ context.Context, _ resource.Kind, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.beds[id]; ok && b.Status == resource.StatusOccupied {
		b.Status = resource.StatusAvailable
	}
	return nil
}

func (f *fakeBeds) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	beds := make(map[uuid.UUID]*resource.Bed, len(f.beds))
	for k, v := range f.beds {
		cp := *v
		beds[k] = &cp
	}
	return func() {
		f.mu.Lock()
		f.beds = beds
		f.mu.Unlock()
	}
}

// -- Numbering and transactions --

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemCounter() *memCounter { return &memCounter{counts: make(map[string]int)} }

func (c *memCounter) Increment(_ context.Context, kind sequence.Kind, day time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(kind) + day.Format("20060102")
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) snapshot() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	return func() {
		c.mu.Lock()
		c.counts = counts
		c.mu.Unlock()
	}
}

type snapshotter interface {
	snapshot() func()
}

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
