package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

func ptrStr(s string) *string { return &s }
func ptrBool(b bool) *bool    { return &b }
func ptrInt(i int) *int       { return &i }

// -- Professional directory --

type mockDirectory struct {
	mu      sync.Mutex
	profs   map[uuid.UUID]*Professional
	err     error
	lookups int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{profs: make(map[uuid.UUID]*Professional)}
}

func (m *mockDirectory) add() *Professional {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Professional{ID: uuid.New(), UserID: uuid.New(), FullName: "Dr. Test", IsActive: true}
	m.profs[p.ID] = p
	return p
}

func (m *mockDirectory) FindByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profs[id]
	if !ok {
		return nil, fmt.Errorf("%w: professional", ErrNotFound)
	}
	return p, nil
}

func (m *mockDirectory) FindByUserID(_ context.Context, userID uuid.UUID) (*Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.profs {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: professional", ErrNotFound)
}

func (m *mockDirectory) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *mockDirectory) summary(id uuid.UUID) *ProfessionalSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profs[id]
	if !ok {
		return nil
	}
	return &ProfessionalSummary{ID: p.ID, UserID: p.UserID, FullName: p.FullName, Specialty: p.Specialty}
}

// -- Schedules --

type mockScheduleRepo struct {
	mu          sync.Mutex
	scheds      map[uuid.UUID]*Schedule
	dir         *mockDirectory
	listErr     error
	activeCalls int
}

func newMockScheduleRepo(dir *mockDirectory) *mockScheduleRepo {
	return &mockScheduleRepo{scheds: make(map[uuid.UUID]*Schedule), dir: dir}
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	cp := *s
	m.scheds[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scheds[id]
	if !ok {
		return nil, notFound("schedule", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockScheduleRepo) Update(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheds[s.ID]; !ok {
		return notFound("schedule", s.ID)
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.scheds[s.ID] = &cp
	return nil
}

func (m *mockScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scheds[id]; !ok {
		return notFound("schedule", id)
	}
	delete(m.scheds, id)
	return nil
}

func (m *mockScheduleRepo) filter(keep func(*Schedule) bool) []*Schedule {
	var out []*Schedule
	for _, s := range m.scheds {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (m *mockScheduleRepo) ListByProfessional(_ context.Context, pid uuid.UUID, activeOnly bool) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(s *Schedule) bool {
		return s.ProfessionalID == pid && (!activeOnly || s.Active())
	}), nil
}

func (m *mockScheduleRepo) ListActiveForDay(_ context.Context, pid uuid.UUID, day DayOfWeek) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.filter(func(s *Schedule) bool {
		return s.ProfessionalID == pid && s.DayOfWeek == day && s.Active()
	}), nil
}

func (m *mockScheduleRepo) ListByDay(_ context.Context, day DayOfWeek) ([]*ScheduleDetail, error) {
	m.mu.Lock()
	items := m.filter(func(s *Schedule) bool { return s.DayOfWeek == day })
	m.mu.Unlock()
	out := make([]*ScheduleDetail, 0, len(items))
	for _, s := range items {
		out = append(out, &ScheduleDetail{Schedule: s, Professional: m.dir.summary(s.ProfessionalID)})
	}
	return out, nil
}

func (m *mockScheduleRepo) Search(_ context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filter(func(s *Schedule) bool {
		if f.ProfessionalID != nil && s.ProfessionalID != *f.ProfessionalID {
			return false
		}
		if f.DayOfWeek != nil && s.DayOfWeek != *f.DayOfWeek {
			return false
		}
		if f.IsActive != nil && s.Active() != *f.IsActive {
			return false
		}
		if f.ValidDate != nil && !s.ValidOn(*f.ValidDate) {
			return false
		}
		return true
	})
	return page(items, limit, offset), len(items), nil
}

func (m *mockScheduleRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCalls
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// -- Exceptions --

type mockExceptionRepo struct {
	mu      sync.Mutex
	excs    map[uuid.UUID]*Exception
	dir     *mockDirectory
	listErr error
}

func newMockExceptionRepo(dir *mockDirectory) *mockExceptionRepo {
	return &mockExceptionRepo{excs: make(map[uuid.UUID]*Exception), dir: dir}
}

func (m *mockExceptionRepo) Create(_ context.Context, e *Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	e.UpdatedAt = time.Now()
	cp := *e
	m.excs[e.ID] = &cp
	return nil
}

func (m *mockExceptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.excs[id]
	if !ok {
		return nil, notFound("exception", id)
	}
	cp := *e
	return &cp, nil
}

func (m *mockExceptionRepo) GetDetail(ctx context.Context, id uuid.UUID) (*ExceptionDetail, error) {
	e, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExceptionDetail{Exception: e, Professional: m.dir.summary(e.ProfessionalID)}, nil
}

func (m *mockExceptionRepo) Update(_ context.Context, e *Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.excs[e.ID]; !ok {
		return notFound("exception", e.ID)
	}
	cp := *e
	m.excs[e.ID] = &cp
	return nil
}

func (m *mockExceptionRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.excs[id]; !ok {
		return notFound("exception", id)
	}
	delete(m.excs, id)
	return nil
}

func (m *mockExceptionRepo) filter(keep func(*Exception) bool) []*Exception {
	var out []*Exception
	for _, e := range m.excs {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExceptionDate != out[j].ExceptionDate {
			return out[i].ExceptionDate < out[j].ExceptionDate
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *mockExceptionRepo) ListByProfessionalDate(_ context.Context, pid uuid.UUID, date string) ([]*Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.filter(func(e *Exception) bool { return e.ProfessionalID == pid && e.ExceptionDate == date }), nil
}

func (m *mockExceptionRepo) Search(_ context.Context, f ExceptionFilter, limit, offset int) ([]*Exception, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filter(func(e *Exception) bool {
		if f.ProfessionalID != nil && e.ProfessionalID != *f.ProfessionalID {
			return false
		}
		if f.Type != nil && e.Type != *f.Type {
			return false
		}
		if f.SpecificDate != nil {
			return e.ExceptionDate == *f.SpecificDate
		}
		if f.DateFrom != nil && e.ExceptionDate < *f.DateFrom {
			return false
		}
		if f.DateTo != nil && e.ExceptionDate > *f.DateTo {
			return false
		}
		return true
	})
	return page(items, limit, offset), len(items), nil
}

func (m *mockExceptionRepo) DeleteByProfessional(_ context.Context, pid uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.excs {
		if e.ProfessionalID == pid {
			delete(m.excs, id)
			n++
		}
	}
	return n, nil
}

func (m *mockExceptionRepo) DeleteByProfessionalRange(_ context.Context, pid uuid.UUID, from, to string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.excs {
		if e.ProfessionalID == pid && e.ExceptionDate >= from && e.ExceptionDate <= to {
			delete(m.excs, id)
			n++
		}
	}
	return n, nil
}

// -- Slots --

type mockSlotRepo struct {
	mu        sync.Mutex
	slots     map[uuid.UUID]*TimeSlot
	dir       *mockDirectory
	createErr func(t *TimeSlot) error
}

func newMockSlotRepo(dir *mockDirectory) *mockSlotRepo {
	return &mockSlotRepo{slots: make(map[uuid.UUID]*TimeSlot), dir: dir}
}

func (m *mockSlotRepo) Create(_ context.Context, t *TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		if err := m.createErr(t); err != nil {
			return err
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = time.Now()
	cp := *t
	m.slots[t.ID] = &cp
	return nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.slots[id]
	if !ok {
		return nil, notFound("slot", id)
	}
	cp := *t
	return &cp, nil
}

func (m *mockSlotRepo) GetDetail(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	t, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SlotDetail{TimeSlot: t, Professional: m.dir.summary(t.ProfessionalID)}, nil
}

func (m *mockSlotRepo) Update(_ context.Context, t *TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[t.ID]; !ok {
		return notFound("slot", t.ID)
	}
	cp := *t
	m.slots[t.ID] = &cp
	return nil
}

func (m *mockSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return notFound("slot", id)
	}
	delete(m.slots, id)
	return nil
}

func (m *mockSlotRepo) filter(keep func(*TimeSlot) bool) []*TimeSlot {
	var out []*TimeSlot
	for _, t := range m.slots {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotDate != out[j].SlotDate {
			return out[i].SlotDate < out[j].SlotDate
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *mockSlotRepo) ListByProfessionalDate(_ context.Context, pid uuid.UUID, date string) ([]*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(t *TimeSlot) bool { return t.ProfessionalID == pid && t.SlotDate == date }), nil
}

func (m *mockSlotRepo) ListByProfessional(_ context.Context, pid uuid.UUID, f SlotFilter) ([]*TimeSlot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filter(func(t *TimeSlot) bool {
		if t.ProfessionalID != pid {
			return false
		}
		if f.DateFrom != nil && t.SlotDate < *f.DateFrom {
			return false
		}
		if f.DateTo != nil && t.SlotDate > *f.DateTo {
			return false
		}
		if f.Status != nil && t.Status != *f.Status {
			return false
		}
		if f.AvailableOnly && !t.Bookable() {
			return false
		}
		return true
	})
	return page(items, f.Limit, f.Offset), len(items), nil
}

func (m *mockSlotRepo) DeleteUnusedBefore(_ context.Context, before string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.slots {
		if t.SlotDate < before && t.Status == SlotAvailable && t.CurrentBookings == 0 {
			delete(m.slots, id)
			n++
		}
	}
	return n, nil
}

func (m *mockSlotRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// -- Locking and caching --

// mutexLocker serializes every WithLock call, standing in for the advisory lock.
type mutexLocker struct {
	mu    sync.Mutex
	calls int
}

func (l *mutexLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return fn(ctx)
}

type memCache struct {
	mu          sync.Mutex
	data        map[string][]byte
	invalidated map[string]int
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, invalidated: map[string]int{}}
}

func (c *memCache) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[ns+"|"+key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, ns, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[ns+"|"+key] = value
	return nil
}

func (c *memCache) InvalidateNamespace(_ context.Context, ns string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated[ns]++
	for k := range c.data {
		if len(k) > len(ns) && k[:len(ns)+1] == ns+"|" {
			delete(c.data, k)
		}
	}
	return nil
}

type fakeJobLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeJobLock) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeJobLock) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// -- Fixture --

type fixture struct {
	dir        *mockDirectory
	scheds     *mockScheduleRepo
	excs       *mockExceptionRepo
	slots      *mockSlotRepo
	locker     *mutexLocker
	cache      *memCache
	resolver   *Resolver
	schedSvc   *ScheduleService
	excSvc     *ExceptionService
	slotSvc    *SlotService
	generator  *Generator
	prof       *Professional
	availCache *AvailabilityCache
}

func newFixture() *fixture {
	f := &fixture{dir: newMockDirectory(), locker: &mutexLocker{}, cache: newMemCache()}
	f.scheds = newMockScheduleRepo(f.dir)
	f.excs = newMockExceptionRepo(f.dir)
	f.slots = newMockSlotRepo(f.dir)
	f.resolver = NewResolver(f.dir)
	f.availCache = NewAvailabilityCache(f.cache, time.Minute, testLogger())
	f.schedSvc = NewScheduleService(f.scheds, f.resolver, f.locker, f.availCache)
	f.excSvc = NewExceptionService(f.excs, f.resolver, f.locker, f.availCache)
	f.slotSvc = NewSlotService(f.slots, f.resolver, f.locker, f.availCache)
	f.generator = NewGenerator(f.scheds, f.excs, f.slots, DefaultHybridConfig("test").BusinessRules)
	f.prof = f.dir.add()
	return f
}

func (f *fixture) schedule(day DayOfWeek, start, end string) *Schedule {
	return &Schedule{ProfessionalID: f.prof.ID, DayOfWeek: day, StartTime: start, EndTime: end}
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

// mustDate parses a YYYY-MM-DD literal.
func mustDate(s string) time.Time {
	d, err := interval.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
