package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"crash/internal/config"
	"crash/internal/database"
	"crash/internal/logging"
)

const defaultMigrationsDir = "internal/database/migrations"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

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

	command := os.Args[1]
	migrationsPath := cfg.Database.MigrationsPath

	if command == "create" {
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate create <migration_name>")
		}
		dir := migrationsPath
		if dir == "" {
			dir = defaultMigrationsDir
		}
		createMigration(log, dir, os.Args[2])
		return
	}

	connCfg, err := pgx.ParseConfig(cfg.Database.URL())
	if err != nil {
		log.Fatal("invalid database url", zap.Error(err))
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	source := migrationsPath
	if source == "" {
		source = "embedded"
	}
	log = log.With(zap.String("source", source))

	switch command {
	case "up":
		log.Info("running migrations")
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed")

	case "down":
		log.Info("rolling back last migration")
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			log.Fatal("rollback failed", zap.Error(err))
		}
		log.Info("rollback completed")

	case "version":
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		if dirty {
			log.Warn("schema is dirty and needs manual intervention", zap.Uint("version", version))
		} else {
			log.Info("current version", zap.Uint("version", version))
		}

	default:
		log.Error("unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func createMigration(log *zap.Logger, dir, name string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Fatal("failed to read migrations directory", zap.Error(err))
	}

	var latest int
	for _, file := range files {
		prefix, _, ok := strings.Cut(file.Name(), "_")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(prefix); err == nil && v > latest {
			latest = v
		}
	}
	next := latest + 1

	upFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", next, name))

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n-- Add your SQL here\n", name, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		log.Fatal("failed to create up migration", zap.Error(err))
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n-- Add your rollback SQL here\n", name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		log.Fatal("failed to create down migration", zap.Error(err))
	}

	log.Info("created migration files", zap.String("up", upFile), zap.String("down", downFile))
}

func printUsage() {
	fmt.Println("Database Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Run all pending migrations")
	fmt.Println("  migrate down            Rollback the last migration")
	fmt.Println("  migrate version         Show current migration version")
	fmt.Println("  migrate create <name>   Create a new migration file")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  BLUEPRINT_DB_HOST       Database host (default: localhost)")
	fmt.Println("  BLUEPRINT_DB_PORT       Database port (default: 5432)")
	fmt.Println("  BLUEPRINT_DB_DATABASE   Database name (default: crashdb)")
	fmt.Println("  BLUEPRINT_DB_USERNAME   Database user (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_PASSWORD   Database password (default: postgres)")
	fmt.Println("  MIGRATIONS_PATH         Path to migrations (default: embedded)")
}
