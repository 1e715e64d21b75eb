// Package memory provides an in-process remote store, used by tests and
// for offline development without a configured backend.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"saldo/internal/remote"
)

var ErrOffline = errors.New("remote store offline")

type Store struct {
	mu      sync.Mutex
	records map[remote.Kind]map[string]remote.Record

	// offline makes every call fail, simulating lost connectivity.
	offline bool

	// rejected ids fail their individual upsert with a per-record error
	// while the call itself succeeds, simulating remote validation.
	rejected map[string]error
}

func New() *Store {
	return &Store{
		records:  make(map[remote.Kind]map[string]remote.Record),
		rejected: make(map[string]error),
	}
}

// SetOffline toggles simulated connectivity loss.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Reject makes upserts of the given record id fail with err.
func (s *Store) Reject(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[id] = err
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ErrOffline
	}
	return nil
}

func (s *Store) UpsertMany(_ context.Context, kind remote.Kind, records []remote.Record) ([]remote.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, ErrOffline
	}

	if s.records[kind] == nil {
		s.records[kind] = make(map[string]remote.Record)
	}

	results := make([]remote.UpsertResult, 0, len(records))
	for _, rec := range records {
		if err, ok := s.rejected[rec.ID]; ok {
			results = append(results, remote.UpsertResult{ID: rec.ID, Err: err})
			continue
		}
		s.records[kind][rec.ID] = rec
		results = append(results, remote.UpsertResult{ID: rec.ID})
	}
	return results, nil
}

func (s *Store) FetchSince(_ context.Context, kind remote.Kind, ownerID string, since *time.Time) ([]remote.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, ErrOffline
	}

	var out []remote.Record
	for _, rec := range s.records[kind] {
		if rec.OwnerID != ownerID {
			continue
		}
		if since != nil && !rec.UpdatedAt.After(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns how many records of a kind are stored. Test helper.
func (s *Store) Count(kind remote.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[kind])
}

// Get returns a stored record by id. Test helper.
func (s *Store) Get(kind remote.Kind, id string) (remote.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[kind][id]
	return rec, ok
}

// Put stores a record directly, bypassing the upsert path. Test helper
// for seeding remote-side state.
func (s *Store) Put(rec remote.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rec.Kind] == nil {
		s.records[rec.Kind] = make(map[string]remote.Record)
	}
	s.records[rec.Kind][rec.ID] = rec
}
