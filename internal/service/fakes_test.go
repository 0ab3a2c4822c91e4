package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
)

type memJobs struct {
	mu    sync.Mutex
	seq   int
	order []string
	jobs  map[string]model.Job

	createErr error
	getErr    error
	// failCreateOn makes the n-th Create call fail with createErr.
	failCreateOn int
	creates      int
	gets         atomic.Int64
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]model.Job)}
}

var _ repo.JobRepository = (*memJobs)(nil)

func (m *memJobs) Create(_ context.Context, job *model.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates++
	if m.createErr != nil && (m.failCreateOn == 0 || m.failCreateOn == m.creates) {
		return "", m.createErr
	}
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.CreatedAt = time.Now()
	m.jobs[job.ID] = *job
	m.order = append(m.order, job.ID)
	return job.ID, nil
}

func (m *memJobs) Get(_ context.Context, id string) (*model.Job, error) {
	m.gets.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &j, nil
}

func (m *memJobs) Update(_ context.Context, id string, mut model.JobMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if mut.Message != nil {
		j.Message = *mut.Message
	}
	if mut.Active != nil {
		j.Active = *mut.Active
	}
	if mut.LastFiredAt != nil {
		t := *mut.LastFiredAt
		j.LastFiredAt = &t
	}
	if mut.LastError != nil {
		j.LastError = *mut.LastError
	}
	if mut.FireTime != nil {
		j.FireTime = *mut.FireTime
	}
	if mut.FireAt != nil {
		t := *mut.FireAt
		j.FireAt = &t
	}
	m.jobs[id] = j
	return nil
}

func (m *memJobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *memJobs) filter(keep func(model.Job) bool) []model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Job
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok && keep(j) {
			out = append(out, j)
		}
	}
	return out
}

func (m *memJobs) ListByOwner(_ context.Context, ownerID int64) ([]model.Job, error) {
	return m.filter(func(j model.Job) bool { return j.OwnerID == ownerID }), nil
}

func (m *memJobs) ListAll(context.Context) ([]model.Job, error) {
	return m.filter(func(model.Job) bool { return true }), nil
}

func (m *memJobs) ListActive(context.Context) ([]model.Job, error) {
	return m.filter(func(j model.Job) bool { return j.Active }), nil
}

func (m *memJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type fakeSched struct {
	mu        sync.Mutex
	armed     map[string]model.Trigger
	calls     []string
	cancelled []string
	fail      func(handle string, t model.Trigger) error
}

func newFakeSched() *fakeSched {
	return &fakeSched{armed: make(map[string]model.Trigger)}
}

func (f *fakeSched) Schedule(handle string, t model.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, handle)
	if f.fail != nil {
		if err := f.fail(handle, t); err != nil {
			return err
		}
	}
	f.armed[handle] = t
	return nil
}

func (f *fakeSched) Cancel(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.armed[handle]
	delete(f.armed, handle)
	f.cancelled = append(f.cancelled, handle)
	return ok
}

func (f *fakeSched) trigger(handle string) (model.Trigger, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.armed[handle]
	return t, ok
}

type fakeExec struct {
	mu         sync.Mutex
	deliveries []model.Delivery
	err        error
	delay      time.Duration

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeExec) Deliver(ctx context.Context, d model.Delivery) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	if f.err != nil {
		return "", f.err
	}
	return "remote-" + d.JobID, nil
}

func (f *fakeExec) delivered() []model.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Delivery(nil), f.deliveries...)
}

type memContacts struct {
	mu     sync.Mutex
	seq    int64
	byID   map[int64]model.Contact
	phones map[string]bool
}

func newMemContacts() *memContacts {
	return &memContacts{byID: make(map[int64]model.Contact), phones: make(map[string]bool)}
}

var _ repo.ContactRepository = (*memContacts)(nil)

func (m *memContacts) Create(_ context.Context, c *model.Contact) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phones[c.Phone] {
		return 0, repo.ErrDuplicate
	}
	m.seq++
	c.ID = m.seq
	m.byID[c.ID] = *c
	m.phones[c.Phone] = true
	return c.ID, nil
}

func (m *memContacts) Get(_ context.Context, id int64) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (m *memContacts) List(context.Context) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Contact, 0, len(m.byID))
	for id := int64(1); id <= m.seq; id++ {
		if c, ok := m.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type memTenants struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]model.Tenant

	deleteErr error
}

func newMemTenants() *memTenants {
	return &memTenants{byID: make(map[int64]model.Tenant)}
}

var _ repo.TenantRepository = (*memTenants)(nil)

func (m *memTenants) Create(_ context.Context, t *model.Tenant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byID {
		if existing.Username == t.Username {
			return 0, repo.ErrDuplicate
		}
	}
	m.seq++
	t.ID = m.seq
	m.byID[t.ID] = *t
	return t.ID, nil
}

func (m *memTenants) Get(_ context.Context, id int64) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

func (m *memTenants) GetByUsername(_ context.Context, username string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.byID {
		if t.Username == username {
			return &t, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memTenants) List(context.Context) ([]model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Tenant
	for id := int64(1); id <= m.seq; id++ {
		if t, ok := m.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTenants) SetBlocked(_ context.Context, id int64, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return repo.ErrNotFound
	}
	t.IsBlocked = blocked
	m.byID[id] = t
	return nil
}

func (m *memTenants) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.byID[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}
