// Package turnstore implements the Turn Store (spec §4.3): the canonical
// ordered collection of source turns, keyed by stable turn id and written
// only by the ASR sink adapter.
package turnstore

import (
	"sort"
	"sync"

	"github.com/lokutor-ai/turnscribe/pkg/model"
)

// Store is a keyed map from source turn id to the latest observed Turn.
// Safe for concurrent use: one writer (the ASR event consumer) and any
// number of readers (snapshot callers).
type Store struct {
	mu    sync.RWMutex
	turns map[int64]model.Turn
}

func New() *Store {
	return &Store{turns: make(map[int64]model.Turn)}
}

// Put inserts or replaces the entry for turn.Id.
func (s *Store) Put(turn model.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.Id] = turn
}

// Snapshot returns the current values sorted by id.
func (s *Store) Snapshot() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Turn, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Get returns the turn for id and whether it was present.
func (s *Store) Get(id int64) (model.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.turns[id]
	return t, ok
}

// Len reports the number of known turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
