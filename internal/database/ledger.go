package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crash/internal/apperr"
	"crash/internal/ledger"
)

// LedgerStore is the postgres implementation of ledger.Store. Numeric
// columns travel as text so amounts never pass through a float.
type LedgerStore struct {
	*Store
}

func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{Store: s}
}

var _ ledger.Store = (*LedgerStore)(nil)

const betColumns = `id, round_id, player_id, amount::text, auto_cashout::text, status,
	cashout_multiplier::text, payout::text, placed_at, settled_at`

const policyColumns = `id, bet_id, round_id, player_id, tier, premium::text, coverage::text,
	threshold::text, status, created_at, resolved_at`

func (s *LedgerStore) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *LedgerStore) Balance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT balance::text FROM players WHERE id = $1`, playerID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

func (s *LedgerStore) FindBet(ctx context.Context, id uuid.UUID) (*ledger.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	return b, translate(err, "bet not found")
}

func (s *LedgerStore) FindPolicy(ctx context.Context, id uuid.UUID) (*ledger.Policy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM insurance_policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	return p, translate(err, "policy not found")
}

func (s *LedgerStore) RoundBets(ctx context.Context, roundID int64) ([]*ledger.Bet, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+betColumns+` FROM bets WHERE round_id = $1 ORDER BY placed_at, id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query round bets: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *LedgerStore) RoundPolicies(ctx context.Context, roundID int64) ([]*ledger.Policy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+policyColumns+` FROM insurance_policies WHERE round_id = $1 ORDER BY created_at, id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query round policies: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Entries returns the journal of a player, oldest first.
func (s *LedgerStore) Entries(ctx context.Context, playerID string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_id, delta::text, balance::text, reason, reference, created_at
		FROM ledger_entries WHERE player_id = $1 ORDER BY id`, playerID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var delta, bal string
		if err := rows.Scan(&e.PlayerID, &delta, &bal, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Delta = decimal.RequireFromString(delta)
		e.Balance = decimal.RequireFromString(bal)
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

// Balance creates the player row on first use and locks it until the
// transaction ends.
func (t *pgTx) Balance(ctx context.Context, playerID string) (decimal.Decimal, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO players (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, playerID); err != nil {
		return decimal.Zero, fmt.Errorf("ensure player: %w", err)
	}
	var raw string
	if err := t.tx.QueryRow(ctx, `SELECT balance::text FROM players WHERE id = $1 FOR UPDATE`, playerID).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("lock balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// Adjust checks the locked balance before writing, so a rejected debit
// leaves the transaction usable.
func (t *pgTx) Adjust(ctx context.Context, e ledger.Entry) (decimal.Decimal, error) {
	bal, err := t.Balance(ctx, e.PlayerID)
	if err != nil {
		return decimal.Zero, err
	}
	next := bal.Add(e.Delta)
	if next.IsNegative() {
		return bal, apperr.New(apperr.CodeInsufficientBalance, "insufficient balance")
	}

	if _, err := t.tx.Exec(ctx,
		`UPDATE players SET balance = $2::numeric, updated_at = now() WHERE id = $1`,
		e.PlayerID, next.StringFixed(2)); err != nil {
		return bal, translate(err, "player not found")
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (player_id, delta, balance, reason, reference, created_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6)`,
		e.PlayerID, e.Delta.StringFixed(2), next.StringFixed(2), e.Reason, e.Reference, e.CreatedAt); err != nil {
		return bal, fmt.Errorf("journal entry: %w", err)
	}
	return next, nil
}

func (t *pgTx) InsertBet(ctx context.Context, b *ledger.Bet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bets (id, round_id, player_id, amount, auto_cashout, status, cashout_multiplier, payout, placed_at, settled_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9, $10)`,
		b.ID, b.RoundID, b.PlayerID, b.Amount.String(), b.AutoCashout.String(), string(b.Status),
		b.CashoutMultiplier.String(), b.Payout.String(), b.PlacedAt, nullTime(b.SettledAt))
	return translate(err, "bet not found")
}

func (t *pgTx) Bet(ctx context.Context, id uuid.UUID) (*ledger.Bet, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBet(row)
	return b, translate(err, "bet not found")
}

func (t *pgTx) UpdateBet(ctx context.Context, b *ledger.Bet) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bets SET status = $2, cashout_multiplier = $3::numeric, payout = $4::numeric, settled_at = $5
		WHERE id = $1`,
		b.ID, string(b.Status), b.CashoutMultiplier.String(), b.Payout.String(), nullTime(b.SettledAt))
	if err != nil {
		return fmt.Errorf("update bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "bet not found")
	}
	return nil
}

func (t *pgTx) InsertPolicy(ctx context.Context, p *ledger.Policy) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO insurance_policies (id, bet_id, round_id, player_id, tier, premium, coverage, threshold, status, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11)`,
		p.ID, p.BetID, p.RoundID, p.PlayerID, p.Tier, p.Premium.String(), p.Coverage.String(),
		p.Threshold.String(), string(p.Status), p.CreatedAt, nullTime(p.ResolvedAt))
	return translate(err, "policy not found")
}

func (t *pgTx) Policy(ctx context.Context, id uuid.UUID) (*ledger.Policy, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM insurance_policies WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPolicy(row)
	return p, translate(err, "policy not found")
}

func (t *pgTx) PolicyForBet(ctx context.Context, betID uuid.UUID) (*ledger.Policy, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM insurance_policies WHERE bet_id = $1 FOR UPDATE`, betID)
	p, err := scanPolicy(row)
	return p, translate(err, "policy not found")
}

func (t *pgTx) UpdatePolicy(ctx context.Context, p *ledger.Policy) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE insurance_policies SET status = $2, resolved_at = $3 WHERE id = $1`,
		p.ID, string(p.Status), nullTime(p.ResolvedAt))
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "policy not found")
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanBet(row pgx.Row) (*ledger.Bet, error) {
	var b ledger.Bet
	var amount, auto, mult, payout, status string
	var settled *time.Time
	if err := row.Scan(&b.ID, &b.RoundID, &b.PlayerID, &amount, &auto, &status, &mult, &payout, &b.PlacedAt, &settled); err != nil {
		return nil, err
	}
	b.Status = ledger.BetStatus(status)
	b.Amount = decimal.RequireFromString(amount)
	b.AutoCashout = decimal.RequireFromString(auto)
	b.CashoutMultiplier = decimal.RequireFromString(mult)
	b.Payout = decimal.RequireFromString(payout)
	b.PlacedAt = b.PlacedAt.UTC()
	b.SettledAt = timeOf(settled)
	return &b, nil
}

func scanPolicy(row pgx.Row) (*ledger.Policy, error) {
	var p ledger.Policy
	var premium, coverage, threshold, status string
	var resolved *time.Time
	if err := row.Scan(&p.ID, &p.BetID, &p.RoundID, &p.PlayerID, &p.Tier, &premium, &coverage, &threshold, &status, &p.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	p.Status = ledger.PolicyStatus(status)
	p.Premium = decimal.RequireFromString(premium)
	p.Coverage = decimal.RequireFromString(coverage)
	p.Threshold = decimal.RequireFromString(threshold)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ResolvedAt = timeOf(resolved)
	return &p, nil
}
