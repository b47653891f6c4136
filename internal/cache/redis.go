// Package cache mirrors live round state into Redis for fast reads. Redis is
// never authoritative; the database is.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crash/internal/config"
	"crash/internal/game"
	"crash/internal/logging"
)

const (
	KeyRound   = "crash:live:round"
	KeyHistory = "crash:history"

	historyLen = 50
	betsTTL    = 10 * time.Minute
	queueSize  = 1024
)

// BetsKey is the hash of active bets for a round.
func BetsKey(roundID int64) string {
	return "crash:live:bets:" + strconv.FormatInt(roundID, 10)
}

type Service interface {
	Health() map[string]string
	Close() error
}

// HistoryEntry is one crash point in the recent history list.
type HistoryEntry struct {
	RoundID    int64     `json:"round_id"`
	CrashPoint float64   `json:"crash_point"`
	Tag        string    `json:"tag,omitempty"`
	At         time.Time `json:"at"`
}

// Mirror consumes engine events and writes them to Redis from a single
// goroutine. Publish never blocks; events are dropped when the queue is full.
type Mirror struct {
	client  *redis.Client
	events  chan game.Event
	dropped atomic.Int64
	log     *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.Redis, log *zap.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	m := NewMirror(client, log)
	m.log.Info("redis connected", zap.String("addr", cfg.Addr))
	return m, nil
}

// NewMirror wraps an existing client.
func NewMirror(client *redis.Client, log *zap.Logger) *Mirror {
	return &Mirror{
		client: client,
		events: make(chan game.Event, queueSize),
		log:    logging.OrNop(log).Named("cache"),
	}
}

func (m *Mirror) GetClient() *redis.Client {
	return m.client
}

func (m *Mirror) Publish(ev game.Event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Run writes queued events until ctx is cancelled. Write failures are logged
// and do not stop the mirror.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			if err := m.apply(ctx, ev); err != nil && ctx.Err() == nil {
				m.log.Warn("mirror write failed",
					zap.String("type", string(ev.Type)),
					zap.Int64("round_id", ev.RoundID),
					zap.Error(err))
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, ev game.Event) error {
	switch ev.Type {
	case game.EventBetPlaced:
		bet, err := json.Marshal(game.ActiveBet{BetID: ev.BetID, PlayerID: ev.PlayerID, Amount: ev.Amount})
		if err != nil {
			return err
		}
		pipe := m.client.TxPipeline()
		pipe.HSet(ctx, BetsKey(ev.RoundID), ev.BetID, bet)
		pipe.Expire(ctx, BetsKey(ev.RoundID), betsTTL)
		_, err = pipe.Exec(ctx)
		return err

	case game.EventCashout:
		return m.client.HDel(ctx, BetsKey(ev.RoundID), ev.BetID).Err()

	case game.EventInsurancePurchased:
		return nil

	case game.EventCrash:
		entry, err := json.Marshal(HistoryEntry{RoundID: ev.RoundID, CrashPoint: ev.CrashPoint, Tag: ev.Tag, At: ev.At})
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		pipe := m.client.TxPipeline()
		pipe.Set(ctx, KeyRound, snapshot, 0)
		pipe.LPush(ctx, KeyHistory, entry)
		pipe.LTrim(ctx, KeyHistory, 0, historyLen-1)
		_, err = pipe.Exec(ctx)
		return err

	case game.EventRoundSettled:
		snapshot, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		pipe := m.client.TxPipeline()
		pipe.Set(ctx, KeyRound, snapshot, 0)
		pipe.Del(ctx, BetsKey(ev.RoundID))
		_, err = pipe.Exec(ctx)
		return err

	default:
		snapshot, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return m.client.Set(ctx, KeyRound, snapshot, 0).Err()
	}
}

// LiveRound returns the last mirrored round event, or nil when none exists.
func (m *Mirror) LiveRound(ctx context.Context) (*game.Event, error) {
	raw, err := m.client.Get(ctx, KeyRound).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev game.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode live round: %w", err)
	}
	return &ev, nil
}

// History returns up to limit crash points, newest first.
func (m *Mirror) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > historyLen {
		limit = historyLen
	}
	raw, err := m.client.LRange(ctx, KeyHistory, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			m.log.Warn("skipping malformed history entry", zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ActiveBets returns the mirrored unsettled bets of a round ordered by bet id.
func (m *Mirror) ActiveBets(ctx context.Context, roundID int64) ([]game.ActiveBet, error) {
	raw, err := m.client.HGetAll(ctx, BetsKey(roundID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]game.ActiveBet, 0, len(raw))
	for id, item := range raw {
		var b game.ActiveBet
		if err := json.Unmarshal([]byte(item), &b); err != nil {
			continue
		}
		b.BetID = id
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetID < out[j].BetID })
	return out, nil
}

func (m *Mirror) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	_, err := m.client.Ping(ctx).Result()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "Redis is healthy"

	poolStats := m.client.PoolStats()
	stats["hits"] = strconv.FormatUint(uint64(poolStats.Hits), 10)
	stats["misses"] = strconv.FormatUint(uint64(poolStats.Misses), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(poolStats.Timeouts), 10)
	stats["total_conns"] = strconv.FormatUint(uint64(poolStats.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(poolStats.IdleConns), 10)
	stats["stale_conns"] = strconv.FormatUint(uint64(poolStats.StaleConns), 10)
	stats["dropped_events"] = strconv.FormatInt(m.Dropped(), 10)

	return stats
}

func (m *Mirror) Close() error {
	m.log.Info("disconnecting from redis")
	return m.client.Close()
}
