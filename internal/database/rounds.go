package database

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crash/internal/game"
)

// RoundStore is the postgres implementation of game.RoundStore.
type RoundStore struct {
	*Store
}

func (s *Store) Rounds() *RoundStore {
	return &RoundStore{Store: s}
}

var _ game.RoundStore = (*RoundStore)(nil)

const roundColumns = `id, nonce, phase, server_seed_hash, COALESCE(server_seed, ''), client_seed, edge,
	COALESCE(crash_point, 0)::text, total_wagered::text, opened_at, betting_ends_at,
	started_at, crashed_at, settled_at, needs_reconciliation`

// SaveRound upserts the round. The seed column stays empty until the round is
// settled and the crash point until it has crashed.
func (s *RoundStore) SaveRound(ctx context.Context, r *game.Round) error {
	var seed, crash *string
	if r.Phase == game.PhaseSettled && r.ServerSeed != "" {
		seed = &r.ServerSeed
	}
	if r.Phase == game.PhaseCrashed || r.Phase == game.PhaseSettled {
		cp := decimal.NewFromFloat(r.CrashPoint).StringFixed(2)
		crash = &cp
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, nonce, phase, server_seed_hash, server_seed, client_seed, edge, crash_point,
			total_wagered, opened_at, betting_ends_at, started_at, crashed_at, settled_at, needs_reconciliation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			server_seed = COALESCE(EXCLUDED.server_seed, rounds.server_seed),
			crash_point = COALESCE(EXCLUDED.crash_point, rounds.crash_point),
			total_wagered = EXCLUDED.total_wagered,
			started_at = EXCLUDED.started_at,
			crashed_at = EXCLUDED.crashed_at,
			settled_at = EXCLUDED.settled_at,
			needs_reconciliation = rounds.needs_reconciliation OR EXCLUDED.needs_reconciliation`,
		r.ID, r.Nonce, string(r.Phase), r.ServerSeedHash, seed, r.ClientSeed, r.Edge, crash,
		r.TotalWagered.StringFixed(2), r.OpenedAt, r.BettingEndsAt,
		nullTime(r.StartedAt), nullTime(r.CrashedAt), nullTime(r.SettledAt), r.NeedsReconciliation)
	if err != nil {
		return fmt.Errorf("save round %d: %w", r.ID, err)
	}
	return nil
}

func (s *RoundStore) Round(ctx context.Context, id int64) (*game.Round, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	return r, translate(err, "round not found")
}

func (s *RoundStore) LastNonce(ctx context.Context) (int64, error) {
	var nonce int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(nonce), 0) FROM rounds`).Scan(&nonce); err != nil {
		return 0, fmt.Errorf("last nonce: %w", err)
	}
	return nonce, nil
}

func (s *RoundStore) RecentRounds(ctx context.Context, limit int) ([]*game.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []*game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RoundStore) FlagUnsettled(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE rounds SET needs_reconciliation = true
		WHERE phase <> $1
		RETURNING id`, string(game.PhaseSettled))
	if err != nil {
		return nil, fmt.Errorf("flag unsettled rounds: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func scanRound(row pgx.Row) (*game.Round, error) {
	var r game.Round
	var phase, crash, wagered string
	var started, crashed, settled *time.Time
	if err := row.Scan(&r.ID, &r.Nonce, &phase, &r.ServerSeedHash, &r.ServerSeed, &r.ClientSeed, &r.Edge,
		&crash, &wagered, &r.OpenedAt, &r.BettingEndsAt, &started, &crashed, &settled, &r.NeedsReconciliation); err != nil {
		return nil, err
	}
	r.Phase = game.Phase(phase)
	r.CrashPoint = decimal.RequireFromString(crash).InexactFloat64()
	r.TotalWagered = decimal.RequireFromString(wagered)
	r.OpenedAt = r.OpenedAt.UTC()
	r.BettingEndsAt = r.BettingEndsAt.UTC()
	r.StartedAt = timeOf(started)
	r.CrashedAt = timeOf(crashed)
	r.SettledAt = timeOf(settled)
	return &r, nil
}
