package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crash/internal/cache"
	"crash/internal/config"
	"crash/internal/database"
	"crash/internal/fairness"
	"crash/internal/game"
	"crash/internal/insurance"
	"crash/internal/ledger"
	"crash/internal/logging"
	"crash/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("graceful shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var (
		ledgerStore ledger.Store
		roundStore  game.RoundStore
		dbService   database.Service
	)
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store, nothing survives a restart")
		ledgerStore = ledger.NewMemoryStore()
		roundStore = game.NewMemoryRoundStore()
	default:
		db, err := database.Open(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
			db.Close()
			return err
		}
		ledgerStore = db.Ledger()
		roundStore = db.Rounds()
		dbService = db
	}

	var mirror *cache.Mirror
	if m, err := cache.New(ctx, cfg.Redis, log); err != nil {
		if !cfg.Redis.Optional {
			return err
		}
		log.Warn("running without redis mirror", zap.Error(err))
	} else {
		mirror = m
	}

	lastNonce, err := roundStore.LastNonce(ctx)
	if err != nil {
		return fmt.Errorf("read last nonce: %w", err)
	}

	g := cfg.Game
	shaping := fairness.Shaping{Floor: g.EdgeFloor, Ceiling: g.EdgeCeiling, VolumeCap: g.EdgeVolumeCap}
	gen := fairness.NewGenerator(g.ClientSeed, shaping, lastNonce)

	l := ledger.New(ledgerStore, ledger.Limits{
		MinBet: decimal.NewFromFloat(g.MinBet),
		MaxBet: decimal.NewFromFloat(g.MaxBet),
	}, log)
	ins := insurance.New(l, insurance.TiersWithThresholds(
		g.InsuranceBasicThreshold, g.InsurancePremiumThreshold, g.InsuranceEliteThreshold), log)

	hub := game.NewHub(game.HubConfig{
		BroadcastBuffer: cfg.Hub.BroadcastBuffer,
		ClientQueue:     cfg.Hub.ClientQueue,
		WriteTimeout:    cfg.Hub.WriteTimeout,
	}, log)

	opts := []game.Option{game.WithPublisher(hub)}
	if mirror != nil {
		opts = append(opts, game.WithPublisher(mirror))
	}
	manager := game.NewManager(game.Config{
		BettingWindow: g.BettingWindow,
		TickInterval:  g.TickInterval,
		Intermission:  g.Intermission,
		Curve:         game.Curve{Rate: g.GrowthRate},
	}, gen, l, ins, roundStore, log, opts...)

	if err := manager.Recover(ctx); err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Manager:   manager,
		Hub:       hub,
		Ledger:    l,
		DB:        dbService,
		Cache:     mirror,
		Log:       log,
		RateLimit: 100,
		Local:     cfg.IsLocal(),
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if mirror != nil {
		group.Go(func() error { return mirror.Run(gctx) })
	}
	group.Go(func() error { return manager.Run(gctx) })
	group.Go(func() error {
		log.Info("listening", zap.Int("port", cfg.Port), zap.String("store", cfg.Store))
		return srv.Listen(fmt.Sprintf(":%d", cfg.Port))
	})
	group.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})

	return group.Wait()
}
