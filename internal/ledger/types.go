package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BetStatus string

const (
	BetPlaced    BetStatus = "placed"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
)

type PolicyStatus string

const (
	PolicyActive  PolicyStatus = "active"
	PolicyClaimed PolicyStatus = "claimed"
	PolicyExpired PolicyStatus = "expired"
)

// Action is the kind of player action a gate admits.
type Action string

const (
	ActionBet     Action = "bet"
	ActionCashOut Action = "cashout"
	ActionInsure  Action = "insure"
)

type Bet struct {
	ID                uuid.UUID       `json:"bet_id"`
	RoundID           int64           `json:"round_id"`
	PlayerID          string          `json:"player_id"`
	Amount            decimal.Decimal `json:"amount"`
	AutoCashout       decimal.Decimal `json:"auto_cashout"`
	Status            BetStatus       `json:"status"`
	CashoutMultiplier decimal.Decimal `json:"cashout_multiplier"`
	Payout            decimal.Decimal `json:"payout"`
	PlacedAt          time.Time       `json:"placed_at"`
	SettledAt         time.Time       `json:"settled_at,omitempty"`
}

// HasAutoCashout reports whether the bet carries an automatic target.
func (b *Bet) HasAutoCashout() bool {
	return b.AutoCashout.GreaterThan(decimal.NewFromInt(1))
}

type Policy struct {
	ID         uuid.UUID       `json:"policy_id"`
	BetID      uuid.UUID       `json:"bet_id"`
	RoundID    int64           `json:"round_id"`
	PlayerID   string          `json:"player_id"`
	Tier       string          `json:"tier"`
	Premium    decimal.Decimal `json:"premium"`
	Coverage   decimal.Decimal `json:"coverage"`
	Threshold  decimal.Decimal `json:"threshold"`
	Status     PolicyStatus    `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt time.Time       `json:"resolved_at,omitempty"`
}

// Entry is one balance delta in the journal.
type Entry struct {
	PlayerID  string
	Delta     decimal.Decimal
	Balance   decimal.Decimal
	Reason    string
	Reference string
	CreatedAt time.Time
}

// Journal reasons.
const (
	ReasonDeposit = "deposit"
	ReasonBet     = "bet"
	ReasonCashout = "cashout"
	ReasonPremium = "insurance_premium"
	ReasonClaim   = "insurance_claim"
)

// Quote is what a gate grants an admitted action: the instant it was
// admitted at and, for cash-outs, the multiplier it is paid at.
type Quote struct {
	Multiplier decimal.Decimal
	At         time.Time
}

// Gate is the round-phase check a mutation must pass. Admit is called with
// the player's lock held; phase transitions are blocked until release is
// called, so the check and the mutation cannot be split by a transition.
type Gate interface {
	Admit(action Action, roundID int64) (q Quote, release func(), err error)
}

// Store is the durable record of balances, bets and policies.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	Balance(ctx context.Context, playerID string) (decimal.Decimal, error)
	FindBet(ctx context.Context, id uuid.UUID) (*Bet, error)
	FindPolicy(ctx context.Context, id uuid.UUID) (*Policy, error)
	RoundBets(ctx context.Context, roundID int64) ([]*Bet, error)
	RoundPolicies(ctx context.Context, roundID int64) ([]*Policy, error)
}

// Tx is a store transaction. Balance reads inside a transaction lock the
// player's row until Commit or Rollback.
type Tx interface {
	Balance(ctx context.Context, playerID string) (decimal.Decimal, error)
	// Adjust applies e.Delta and records the entry. It fails with
	// InsufficientBalance when the result would be negative.
	Adjust(ctx context.Context, e Entry) (decimal.Decimal, error)

	InsertBet(ctx context.Context, b *Bet) error
	Bet(ctx context.Context, id uuid.UUID) (*Bet, error)
	UpdateBet(ctx context.Context, b *Bet) error

	InsertPolicy(ctx context.Context, p *Policy) error
	Policy(ctx context.Context, id uuid.UUID) (*Policy, error)
	PolicyForBet(ctx context.Context, betID uuid.UUID) (*Policy, error)
	UpdatePolicy(ctx context.Context, p *Policy) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
