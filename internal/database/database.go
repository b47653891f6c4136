// Package database is the PostgreSQL store behind the ledger and the round
// archive.
package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/config"
	"crash/internal/logging"
)

// Service is the health surface the HTTP layer reports.
type Service interface {
	Health() map[string]string
	Close() error
}

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, log: logging.OrNop(log).Named("database")}, nil
}

// Health returns the health status and pool statistics of the database.
func (s *Store) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		s.log.Error("database health check failed", zap.Error(err))
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	st := s.pool.Stat()
	stats["total_connections"] = strconv.Itoa(int(st.TotalConns()))
	stats["idle_connections"] = strconv.Itoa(int(st.IdleConns()))
	stats["acquired_connections"] = strconv.Itoa(int(st.AcquiredConns()))
	stats["max_connections"] = strconv.Itoa(int(st.MaxConns()))
	stats["acquire_count"] = strconv.FormatInt(st.AcquireCount(), 10)
	stats["empty_acquire_count"] = strconv.FormatInt(st.EmptyAcquireCount(), 10)
	stats["acquire_duration"] = st.AcquireDuration().String()

	if st.AcquiredConns() > st.MaxConns()*4/5 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if st.EmptyAcquireCount() > 1000 {
		stats["message"] = "The database has a high number of waits for a free connection, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the pool.
func (s *Store) Close() error {
	s.log.Info("disconnected from database")
	s.pool.Close()
	return nil
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// translate maps driver errors onto the domain taxonomy. Anything unknown
// is returned as is and reported as a persistence failure by the caller.
func translate(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.CodeNotFound, notFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return apperr.Wrap(apperr.CodeInvalidArgument, "duplicate "+pgErr.TableName+" record", err)
		case checkViolation:
			return apperr.Wrap(apperr.CodeInsufficientBalance, "insufficient balance", err)
		}
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
