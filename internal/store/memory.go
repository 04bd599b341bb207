package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cohortd/internal/model"
)

// memoryStore keeps everything in process memory. Used for tests and for
// running the pipeline without a database; concurrent-safe like the SQL
// stores. The change feed reports not-ready until Init runs, matching the
// startup race where a table's stream is not yet visible.
type memoryStore struct {
	mu          sync.RWMutex
	initialized bool
	shards      int
	customers   map[string]model.Customer
	members     map[model.CohortType]map[string]bool
	changes     map[string][]model.ChangeRecord
	nextSeq     int64
}

var errFeedNotReady = errors.New("change feed not initialized")

func NewMemory(shards int) Store {
	if shards <= 0 {
		shards = 1
	}
	return &memoryStore{
		shards:    shards,
		customers: make(map[string]model.Customer),
		members:   make(map[model.CohortType]map[string]bool),
		changes:   make(map[string][]model.ChangeRecord),
	}
}

func (s *memoryStore) Init(context.Context) error {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) SaveCustomer(_ context.Context, customer model.Customer) error {
	if customer.ID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := model.ChangeCreated
	if _, ok := s.customers[customer.ID]; ok {
		kind = model.ChangeUpdated
	}
	s.customers[customer.ID] = customer
	base := baseStore{shards: s.shards}
	shard := base.shardFor(customer.ID)
	s.nextSeq++
	snapshot := customer
	s.changes[shard] = append(s.changes[shard], model.ChangeRecord{
		Seq:       s.nextSeq,
		ShardID:   shard,
		Kind:      kind,
		PostImage: &snapshot,
		Timestamp: nowUTC(),
	})
	return nil
}

func (s *memoryStore) ListCustomers(context.Context) ([]model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) AddCustomerToCohort(_ context.Context, cohort model.CohortType, customerID string) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[cohort]
	if !ok {
		m = make(map[string]bool)
		s.members[cohort] = m
	}
	m[customerID] = true
	return true, nil
}

func (s *memoryStore) IsCustomerInCohort(_ context.Context, customerID string, cohort model.CohortType) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[cohort][customerID], nil
}

func (s *memoryStore) CustomerIDsByCohort(_ context.Context, cohort model.CohortType) ([]string, error) {
	if cohort == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.members[cohort]))
	for id := range s.members[cohort] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) CohortsByCustomer(_ context.Context, customerID string) ([]model.CohortType, error) {
	if customerID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CohortType, 0)
	for cohort, ids := range s.members {
		if ids[customerID] {
			out = append(out, cohort)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memoryStore) ListShards(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, errFeedNotReady
	}
	out := make([]string, 0, len(s.changes))
	for shard := range s.changes {
		out = append(out, shard)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) GetCursor(_ context.Context, shardID string, position model.StreamPosition) (model.ShardCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return model.ShardCursor{ShardID: shardID}, errFeedNotReady
	}
	cursor := model.ShardCursor{ShardID: shardID}
	if position == model.Latest {
		if recs := s.changes[shardID]; len(recs) > 0 {
			cursor.Seq = recs[len(recs)-1].Seq
		}
	}
	return cursor, nil
}

func (s *memoryStore) Pull(_ context.Context, cursor model.ShardCursor, limit int) ([]model.ChangeRecord, model.ShardCursor, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, cursor, errFeedNotReady
	}
	next := cursor
	out := make([]model.ChangeRecord, 0)
	for _, rec := range s.changes[cursor.ShardID] {
		if rec.Seq <= cursor.Seq {
			continue
		}
		out = append(out, rec)
		next.Seq = rec.Seq
		if len(out) >= limit {
			break
		}
	}
	return out, next, nil
}
