package game

import (
	"context"
	"sort"
	"sync"

	"crash/internal/apperr"
)

// RoundStore is the durable record of rounds.
type RoundStore interface {
	SaveRound(ctx context.Context, r *Round) error
	Round(ctx context.Context, id int64) (*Round, error)
	// LastNonce returns the highest nonce ever issued, or 0.
	LastNonce(ctx context.Context) (int64, error)
	RecentRounds(ctx context.Context, limit int) ([]*Round, error)
	// FlagUnsettled marks every round left short of settlement as needing
	// reconciliation and returns their ids.
	FlagUnsettled(ctx context.Context) ([]int64, error)
}

type MemoryRoundStore struct {
	mu     sync.RWMutex
	rounds map[int64]Round
}

func NewMemoryRoundStore() *MemoryRoundStore {
	return &MemoryRoundStore{rounds: make(map[int64]Round)}
}

func (s *MemoryRoundStore) SaveRound(ctx context.Context, r *Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[r.ID] = *r
	return nil
}

func (s *MemoryRoundStore) Round(ctx context.Context, id int64) (*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "round not found")
	}
	return &r, nil
}

func (s *MemoryRoundStore) LastNonce(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last int64
	for _, r := range s.rounds {
		if r.Nonce > last {
			last = r.Nonce
		}
	}
	return last, nil
}

func (s *MemoryRoundStore) RecentRounds(ctx context.Context, limit int) ([]*Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRoundStore) FlagUnsettled(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, r := range s.rounds {
		if r.Phase != PhaseSettled {
			r.NeedsReconciliation = true
			s.rounds[id] = r
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
