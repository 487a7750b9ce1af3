package ambulancetrip

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
	store map[uuid.UUID]*Trip
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Trip)}
}

func (m *mockRepo) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.AmbulanceID == t.AmbulanceID && existing.Status.Active() {
			return apperr.ResourceUnavailable("ambulance already has an active trip")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("ambulance trip")
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Trip, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[t.ID]; !ok {
		return apperr.NotFound("ambulance trip")
	}
	t.UpdatedAt = time.Now()
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("ambulance trip")
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Trip, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trip
	for _, t := range m.store {
		if f.PatientID != nil && t.PatientID != *f.PatientID {
			continue
		}
		if f.AmbulanceID != nil && t.AmbulanceID != *f.AmbulanceID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripNumber < out[j].TripNumber })
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

func (m *mockRepo) ListUnbilled(_ context.Context, patientID uuid.UUID) ([]*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trip
	for _, t := range m.store {
		if t.PatientID == patientID && t.Status == StatusCompleted && t.InvoiceID == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripNumber < out[j].TripNumber })
	return out, nil
}

func (m *mockRepo) MarkBilled(_ context.Context, invoiceID uuid.UUID, ids []uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		t, ok := m.store[id]
		if ok && t.InvoiceID == nil && t.Status == StatusCompleted {
			inv := invoiceID
			t.InvoiceID = &inv
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ReleaseBilled(_ context.Context, invoiceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.store {
		if t.InvoiceID != nil && *t.InvoiceID == invoiceID {
			t.InvoiceID = nil
		}
	}
	return nil
}

func (m *mockRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	store := make(map[uuid.UUID]*Trip, len(m.store))
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

// -- Fleet --

type fakeFleet struct {
	mu         sync.Mutex
	ambulances map[uuid.UUID]*resource.Ambulance
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{ambulances: make(map[uuid.UUID]*resource.Ambulance)}
}

func (f *fakeFleet) add(rate string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.ambulances[id] = &resource.Ambulance{
		ID:            id,
		VehicleNumber: "AMB-" + id.String()[:4],
		Status:        resource.StatusAvailable,
		ChargePerKm:   decimal.RequireFromString(rate),
	}
	return id
}

func (f *fakeFleet) status(id uuid.UUID) resource.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ambulances[id].Status
}

func (f *fakeFleet) setStatus(id uuid.UUID, s resource.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ambulances[id].Status = s
}

func (f *fakeFleet) setRate(id uuid.UUID, rate string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ambulances[id].ChargePerKm = decimal.RequireFromString(rate)
}

func (f *fakeFleet) GetAmbulance(_ context.Context, id uuid.UUID) (*resource.Ambulance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.ambulances[id]
	if !ok {
		return nil, apperr.NotFound("ambulance")
	}
	cp := *a
	return &cp, nil
}

func (f *fakeFleet) Reserve(_ context.Context, kind resource.Kind, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.ambulances[id]
	if !ok {
		return apperr.NotFound("ambulance")
	}
	if a.Status != resource.StatusAvailable {
		return apperr.ResourceUnavailable("%s is not available (status %s)", kind, a.Status)
	}
	a.Status = resource.StatusOnTrip
	return nil
}

func (f *fakeFleet) Release(_ context.Context, _ resource.Kind, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.ambulances[id]; ok && a.Status == resource.StatusOnTrip {
		a.Status = resource.StatusAvailable
	}
	return nil
}

func (f *fakeFleet) snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	ambulances := make(map[uuid.UUID]*resource.Ambulance, len(f.ambulances))
	for k, v := range f.ambulances {
		cp := *v
		ambulances[k] = &cp
	}
	return func() {
		f.mu.Lock()
		f.ambulances = ambulances
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
