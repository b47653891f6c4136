package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crash/internal/apperr"
)

var errTxDone = errors.New("transaction already finished")

// MemoryStore keeps the ledger in process memory. Transactions stage their
// writes and apply them on Commit, so a rolled back transaction leaves no
// trace. Row locking is left to the ledger's per-player serialization.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	bets     map[uuid.UUID]Bet
	policies map[uuid.UUID]Policy
	entries  []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		bets:     make(map[uuid.UUID]Bet),
		policies: make(map[uuid.UUID]Policy),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{
		store:    s,
		balances: make(map[string]decimal.Decimal),
		bets:     make(map[uuid.UUID]Bet),
		policies: make(map[uuid.UUID]Policy),
	}, nil
}

func (s *MemoryStore) Balance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[playerID], nil
}

func (s *MemoryStore) FindBet(ctx context.Context, id uuid.UUID) (*Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "bet not found")
	}
	return &b, nil
}

func (s *MemoryStore) FindPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "policy not found")
	}
	return &p, nil
}

func (s *MemoryStore) RoundBets(ctx context.Context, roundID int64) ([]*Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Bet
	for _, b := range s.bets {
		if b.RoundID == roundID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (s *MemoryStore) RoundPolicies(ctx context.Context, roundID int64) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Policy
	for _, p := range s.policies {
		if p.RoundID == roundID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Entries returns a copy of the journal for a player.
func (s *MemoryStore) Entries(playerID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.PlayerID == playerID {
			out = append(out, e)
		}
	}
	return out
}

type memoryTx struct {
	store    *MemoryStore
	balances map[string]decimal.Decimal
	bets     map[uuid.UUID]Bet
	policies map[uuid.UUID]Policy
	entries  []Entry
	done     bool
}

func (t *memoryTx) Balance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	if t.done {
		return decimal.Zero, errTxDone
	}
	if bal, ok := t.balances[playerID]; ok {
		return bal, nil
	}
	return t.store.Balance(ctx, playerID)
}

func (t *memoryTx) Adjust(ctx context.Context, e Entry) (decimal.Decimal, error) {
	bal, err := t.Balance(ctx, e.PlayerID)
	if err != nil {
		return decimal.Zero, err
	}
	next := bal.Add(e.Delta)
	if next.IsNegative() {
		return bal, apperr.New(apperr.CodeInsufficientBalance, "insufficient balance")
	}
	t.balances[e.PlayerID] = next
	e.Balance = next
	t.entries = append(t.entries, e)
	return next, nil
}

func (t *memoryTx) InsertBet(ctx context.Context, b *Bet) error {
	if t.done {
		return errTxDone
	}
	if _, err := t.Bet(ctx, b.ID); err == nil {
		return errors.New("duplicate bet id")
	}
	t.bets[b.ID] = *b
	return nil
}

func (t *memoryTx) Bet(ctx context.Context, id uuid.UUID) (*Bet, error) {
	if t.done {
		return nil, errTxDone
	}
	if b, ok := t.bets[id]; ok {
		return &b, nil
	}
	return t.store.FindBet(ctx, id)
}

func (t *memoryTx) UpdateBet(ctx context.Context, b *Bet) error {
	if _, err := t.Bet(ctx, b.ID); err != nil {
		return err
	}
	t.bets[b.ID] = *b
	return nil
}

func (t *memoryTx) InsertPolicy(ctx context.Context, p *Policy) error {
	if t.done {
		return errTxDone
	}
	if _, err := t.PolicyForBet(ctx, p.BetID); err == nil {
		return errors.New("duplicate policy for bet")
	}
	t.policies[p.ID] = *p
	return nil
}

func (t *memoryTx) Policy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	if t.done {
		return nil, errTxDone
	}
	if p, ok := t.policies[id]; ok {
		return &p, nil
	}
	return t.store.FindPolicy(ctx, id)
}

func (t *memoryTx) PolicyForBet(ctx context.Context, betID uuid.UUID) (*Policy, error) {
	if t.done {
		return nil, errTxDone
	}
	for _, p := range t.policies {
		if p.BetID == betID {
			return &p, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, p := range t.store.policies {
		if p.BetID == betID {
			return &p, nil
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "policy not found")
}

func (t *memoryTx) UpdatePolicy(ctx context.Context, p *Policy) error {
	if _, err := t.Policy(ctx, p.ID); err != nil {
		return err
	}
	t.policies[p.ID] = *p
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, bal := range t.balances {
		s.balances[id] = bal
	}
	for id, b := range t.bets {
		s.bets[id] = b
	}
	for id, p := range t.policies {
		s.policies[id] = p
	}
	s.entries = append(s.entries, t.entries...)
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
