package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/request-service/internal/domain"
	"github.com/spec-kit/request-service/internal/events"
	"github.com/spec-kit/request-service/internal/repository"
)

// memStore backs the in-memory repository fakes shared by the service tests.
type memStore struct {
	mu       sync.Mutex
	requests map[string]*domain.ServiceRequest
	entries  []domain.HistoryEntry
	now      func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	if now == nil {
		now = time.Now
	}
	return &memStore{requests: make(map[string]*domain.ServiceRequest), now: now}
}

func (m *memStore) appendEntry(entry *domain.HistoryEntry) {
	if entry == nil {
		return
	}
	stored := *entry
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("entry-%d", len(m.entries)+1)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	m.entries = append(m.entries, stored)
}

func (m *memStore) entriesFor(requestID string) []domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range m.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

type fakeRequestRepo struct {
	store *memStore
	// forceStatusConflict makes the next UpdateStatus behave as if another
	// writer won the race.
	forceStatusConflict bool
}

func (f *fakeRequestRepo) Create(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	now := f.store.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	copied := *req
	f.store.requests[req.ID] = &copied
	f.store.appendEntry(entry)
	return nil
}

func (f *fakeRequestRepo) Update(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	stored, ok := f.store.requests[req.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	req.UpdatedAt = f.store.now()
	*stored = *req
	f.store.appendEntry(entry)
	return nil
}

func (f *fakeRequestRepo) UpdateStatus(ctx context.Context, req *domain.ServiceRequest, from domain.RequestStatus, entry *domain.HistoryEntry) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	stored, ok := f.store.requests[req.ID]
	if !ok || stored.Status != from || f.forceStatusConflict {
		return pgx.ErrNoRows
	}
	req.UpdatedAt = f.store.now()
	*stored = *req
	f.store.appendEntry(entry)
	return nil
}

func (f *fakeRequestRepo) UpdateAssignee(ctx context.Context, req *domain.ServiceRequest, entry *domain.HistoryEntry) error {
	return f.Update(ctx, req, entry)
}

func (f *fakeRequestRepo) Delete(ctx context.Context, id string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, ok := f.store.requests[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.store.requests, id)
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	stored, ok := f.store.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (f *fakeRequestRepo) ListWithFilter(ctx context.Context, filter repository.RequestFilter) ([]domain.ServiceRequest, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []domain.ServiceRequest
	for _, req := range f.store.requests {
		if filter.CreatedBy != nil && req.CreatedBy != *filter.CreatedBy {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, req.Status) {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (f *fakeRequestRepo) ListNonTerminal(ctx context.Context) ([]domain.ServiceRequest, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []domain.ServiceRequest
	for _, req := range f.store.requests {
		if !req.Status.IsTerminal() {
			out = append(out, *req)
		}
	}
	return out, nil
}

func containsStatus(statuses []domain.RequestStatus, status domain.RequestStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type fakeHistoryRepo struct {
	store *memStore
}

func (f *fakeHistoryRepo) ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]domain.HistoryEntry, error) {
	return f.store.entriesFor(requestID), nil
}

func (f *fakeHistoryRepo) FirstTransitionTo(ctx context.Context, requestID string, status domain.RequestStatus) (*time.Time, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, e := range f.store.entries {
		if e.RequestID == requestID && e.Action == domain.ActionStatusChanged && e.NewStatus == status {
			at := e.CreatedAt
			return &at, nil
		}
	}
	return nil, nil
}

func (f *fakeHistoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var kept []domain.HistoryEntry
	var deleted int64
	for _, e := range f.store.entries {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	f.store.entries = kept
	return deleted, nil
}

type fakeSLARepo struct {
	mu       sync.Mutex
	defs     map[string]*domain.SLADefinition
	breaches map[string]domain.BreachRecord

	// recordBreachErr simulates a transient store failure on insert
	recordBreachErr error
}

func newFakeSLARepo() *fakeSLARepo {
	return &fakeSLARepo{
		defs:     make(map[string]*domain.SLADefinition),
		breaches: make(map[string]domain.BreachRecord),
	}
}

func defKey(category domain.RequestCategory, priority domain.RequestPriority) string {
	return string(category) + "|" + string(priority)
}

// fakeBreachCache stands in for the redis dedup fast path.
type fakeBreachCache struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newFakeBreachCache() *fakeBreachCache {
	return &fakeBreachCache{keys: make(map[string]struct{})}
}

func (c *fakeBreachCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	c.keys[key] = struct{}{}
	return redis.NewBoolResult(true, nil)
}

func (c *fakeBreachCache) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := c.keys[key]; ok {
			delete(c.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (c *fakeBreachCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (f *fakeSLARepo) UpsertDefinition(ctx context.Context, def *domain.SLADefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *def
	f.defs[defKey(def.Category, def.Priority)] = &copied
	return nil
}

func (f *fakeSLARepo) GetActiveDefinition(ctx context.Context, category domain.RequestCategory, priority domain.RequestPriority) (*domain.SLADefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[defKey(category, priority)]
	if !ok || !def.Active {
		return nil, nil
	}
	copied := *def
	return &copied, nil
}

func (f *fakeSLARepo) ListDefinitions(ctx context.Context) ([]domain.SLADefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SLADefinition
	for _, def := range f.defs {
		out = append(out, *def)
	}
	return out, nil
}

func (f *fakeSLARepo) RecordBreach(ctx context.Context, rec *domain.BreachRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordBreachErr != nil {
		return false, f.recordBreachErr
	}
	key := rec.RequestID + "|" + string(rec.BreachType)
	if _, exists := f.breaches[key]; exists {
		return false, nil
	}
	f.breaches[key] = *rec
	return true, nil
}

func (f *fakeSLARepo) BreachStatsSince(ctx context.Context, cutoff time.Time) (*domain.BreachStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.BreachStats{ByPriority: make(map[domain.RequestPriority]int)}
	for _, rec := range f.breaches {
		if rec.BreachedAt.Before(cutoff) {
			continue
		}
		stats.TotalBreaches++
		switch rec.BreachType {
		case domain.BreachResponse:
			stats.ResponseBreaches++
		case domain.BreachResolution:
			stats.ResolutionBreaches++
		}
	}
	return stats, nil
}

type fakeExemptionRepo struct {
	mu         sync.Mutex
	exemptions []domain.Exemption
}

func (f *fakeExemptionRepo) Create(ctx context.Context, exemption *domain.Exemption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exemptions = append(f.exemptions, *exemption)
	return nil
}

func (f *fakeExemptionRepo) ListByRequest(ctx context.Context, requestID string) ([]domain.Exemption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Exemption
	for _, e := range f.exemptions {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// capturingDispatcher records every published event.
type capturingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *capturingDispatcher) Publish(ctx context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *capturingDispatcher) Subscribe(eventType events.EventType, handler events.EventHandler) {}

func (d *capturingDispatcher) published() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.Event, len(d.events))
	copy(out, d.events)
	return out
}

func userActor(id string) *domain.User {
	return &domain.User{ID: id, Role: domain.RoleUser, Active: true}
}

func staffActor(id string) *domain.User {
	return &domain.User{ID: id, Role: domain.RoleStaff, Active: true}
}

func adminActor(id string) *domain.User {
	return &domain.User{ID: id, Role: domain.RoleAdmin, Active: true}
}
