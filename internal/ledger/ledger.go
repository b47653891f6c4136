// Package ledger is the authoritative record of player balances and of the
// bet and policy state of every round.
//
// Every mutation follows the same protocol: take the player's lock, pass the
// round gate, run the change inside one store transaction, commit. Operations
// on the same player are totally ordered; operations on different players
// never wait for each other.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/logging"
)

type Limits struct {
	MinBet decimal.Decimal
	MaxBet decimal.Decimal
}

func DefaultLimits() Limits {
	return Limits{
		MinBet: decimal.NewFromInt(1),
		MaxBet: decimal.NewFromInt(10000),
	}
}

type Ledger struct {
	store  Store
	locks  *lockTable
	limits Limits
	clock  func() time.Time
	log    *zap.Logger
}

type Option func(*Ledger)

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

func New(store Store, limits Limits, log *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  newLockTable(),
		limits: limits,
		clock:  time.Now,
		log:    logging.OrNop(log).Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Limits() Limits {
	return l.limits
}

// Transact runs fn as one serialized, atomic mutation of playerID's state.
// When gate is non-nil the action must be admitted first, and the gate is
// held until the transaction has committed or rolled back. Mutations are not
// cancellable once started: the caller's cancellation is detached.
func (l *Ledger) Transact(ctx context.Context, playerID string, gate Gate, action Action, roundID int64, fn func(tx Tx, q Quote) error) error {
	ctx = context.WithoutCancel(ctx)

	unlock := l.locks.lock(playerID)
	defer unlock()

	q := Quote{At: l.clock()}
	if gate != nil {
		quote, release, err := gate.Admit(action, roundID)
		if err != nil {
			return err
		}
		defer release()
		q = quote
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return apperr.Persistence("begin transaction", err)
	}
	if err := fn(tx, q); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			l.log.Error("rollback failed", zap.String("player_id", playerID), zap.Error(rbErr))
		}
		return apperr.Persistence("ledger transaction", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Persistence("commit transaction", err)
	}
	return nil
}

type PlaceBetParams struct {
	PlayerID    string
	RoundID     int64
	Amount      decimal.Decimal
	AutoCashout decimal.Decimal
}

// PlaceBet verifies the balance, deducts the stake and records the bet as a
// single step. It is only admitted while the round is taking bets.
func (l *Ledger) PlaceBet(ctx context.Context, gate Gate, p PlaceBetParams) (*Bet, decimal.Decimal, error) {
	if p.PlayerID == "" {
		return nil, decimal.Zero, apperr.New(apperr.CodeInvalidArgument, "player id is required")
	}
	if p.Amount.LessThan(l.limits.MinBet) || p.Amount.GreaterThan(l.limits.MaxBet) {
		return nil, decimal.Zero, apperr.New(apperr.CodeInvalidAmount,
			"bet must be between "+l.limits.MinBet.StringFixed(2)+" and "+l.limits.MaxBet.StringFixed(2))
	}
	if !p.Amount.Equal(p.Amount.Truncate(2)) {
		return nil, decimal.Zero, apperr.New(apperr.CodeInvalidAmount, "bet amount has more than two decimals")
	}
	if !p.AutoCashout.IsZero() && !p.AutoCashout.GreaterThan(decimal.NewFromInt(1)) {
		return nil, decimal.Zero, apperr.New(apperr.CodeInvalidAmount, "auto cashout must be above 1.00x")
	}

	var (
		bet     *Bet
		balance decimal.Decimal
	)
	err := l.Transact(ctx, p.PlayerID, gate, ActionBet, p.RoundID, func(tx Tx, q Quote) error {
		bet = &Bet{
			ID:          uuid.New(),
			RoundID:     p.RoundID,
			PlayerID:    p.PlayerID,
			Amount:      p.Amount,
			AutoCashout: p.AutoCashout.Truncate(2),
			Status:      BetPlaced,
			PlacedAt:    q.At,
		}
		var err error
		balance, err = tx.Adjust(ctx, Entry{
			PlayerID:  p.PlayerID,
			Delta:     p.Amount.Neg(),
			Reason:    ReasonBet,
			Reference: bet.ID.String(),
			CreatedAt: q.At,
		})
		if err != nil {
			return err
		}
		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	l.log.Info("bet placed",
		zap.String("player_id", p.PlayerID),
		zap.Int64("round_id", p.RoundID),
		zap.String("bet_id", bet.ID.String()),
		zap.String("amount", p.Amount.StringFixed(2)))
	return bet, balance, nil
}

// CashOut pays amount × the gate's quoted multiplier and marks the bet
// cashed out. The first settlement of a bet wins; any later attempt fails
// with DuplicateSettlement.
func (l *Ledger) CashOut(ctx context.Context, gate Gate, playerID string, betID uuid.UUID) (*Bet, decimal.Decimal, error) {
	known, err := l.store.FindBet(ctx, betID)
	if err != nil {
		return nil, decimal.Zero, apperr.Persistence("find bet", err)
	}
	if known.PlayerID != playerID {
		return nil, decimal.Zero, apperr.New(apperr.CodeForbidden, "bet belongs to another player")
	}

	var (
		bet     *Bet
		balance decimal.Decimal
	)
	err = l.Transact(ctx, playerID, gate, ActionCashOut, known.RoundID, func(tx Tx, q Quote) error {
		var err error
		bet, err = tx.Bet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status != BetPlaced {
			return apperr.New(apperr.CodeDuplicateSettlement, "bet already "+string(bet.Status))
		}
		if !q.Multiplier.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return apperr.New(apperr.CodeInvalidPhase, "no multiplier quoted for cash-out")
		}

		payout := bet.Amount.Mul(q.Multiplier).Truncate(2)
		balance, err = tx.Adjust(ctx, Entry{
			PlayerID:  playerID,
			Delta:     payout,
			Reason:    ReasonCashout,
			Reference: bet.ID.String(),
			CreatedAt: q.At,
		})
		if err != nil {
			return err
		}

		bet.Status = BetCashedOut
		bet.CashoutMultiplier = q.Multiplier
		bet.Payout = payout
		bet.SettledAt = q.At
		return tx.UpdateBet(ctx, bet)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	l.log.Info("bet cashed out",
		zap.String("player_id", playerID),
		zap.String("bet_id", betID.String()),
		zap.String("multiplier", bet.CashoutMultiplier.StringFixed(2)),
		zap.String("payout", bet.Payout.StringFixed(2)))
	return bet, balance, nil
}

// SettleLoss marks a bet lost. The stake was already deducted at placement,
// so the balance does not change.
func (l *Ledger) SettleLoss(ctx context.Context, betID uuid.UUID) (*Bet, error) {
	known, err := l.store.FindBet(ctx, betID)
	if err != nil {
		return nil, apperr.Persistence("find bet", err)
	}

	var bet *Bet
	err = l.Transact(ctx, known.PlayerID, nil, "", known.RoundID, func(tx Tx, q Quote) error {
		var err error
		bet, err = tx.Bet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status != BetPlaced {
			return apperr.New(apperr.CodeDuplicateSettlement, "bet already "+string(bet.Status))
		}
		bet.Status = BetLost
		bet.SettledAt = q.At
		return tx.UpdateBet(ctx, bet)
	})
	if err != nil {
		return nil, err
	}
	return bet, nil
}

// Deposit credits a player's balance outside of any round.
func (l *Ledger) Deposit(ctx context.Context, playerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if playerID == "" {
		return decimal.Zero, apperr.New(apperr.CodeInvalidArgument, "player id is required")
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperr.New(apperr.CodeInvalidAmount, "deposit must be positive")
	}

	var balance decimal.Decimal
	err := l.Transact(ctx, playerID, nil, "", 0, func(tx Tx, q Quote) error {
		var err error
		balance, err = tx.Adjust(ctx, Entry{
			PlayerID:  playerID,
			Delta:     amount,
			Reason:    ReasonDeposit,
			CreatedAt: q.At,
		})
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	bal, err := l.store.Balance(ctx, playerID)
	if err != nil {
		return decimal.Zero, apperr.Persistence("read balance", err)
	}
	return bal, nil
}

func (l *Ledger) Bet(ctx context.Context, betID uuid.UUID) (*Bet, error) {
	bet, err := l.store.FindBet(ctx, betID)
	if err != nil {
		return nil, apperr.Persistence("find bet", err)
	}
	return bet, nil
}

func (l *Ledger) RoundBets(ctx context.Context, roundID int64) ([]*Bet, error) {
	bets, err := l.store.RoundBets(ctx, roundID)
	if err != nil {
		return nil, apperr.Persistence("list round bets", err)
	}
	return bets, nil
}

func (l *Ledger) RoundPolicies(ctx context.Context, roundID int64) ([]*Policy, error) {
	policies, err := l.store.RoundPolicies(ctx, roundID)
	if err != nil {
		return nil, apperr.Persistence("list round policies", err)
	}
	return policies, nil
}

func (l *Ledger) Policy(ctx context.Context, policyID uuid.UUID) (*Policy, error) {
	p, err := l.store.FindPolicy(ctx, policyID)
	if err != nil {
		return nil, apperr.Persistence("find policy", err)
	}
	return p, nil
}
