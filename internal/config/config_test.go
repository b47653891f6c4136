package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Game.BettingWindow != 5*time.Second {
		t.Errorf("BettingWindow = %v, want 5s", cfg.Game.BettingWindow)
	}
	if cfg.Game.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms", cfg.Game.TickInterval)
	}
	if cfg.Game.EdgeFloor != 0.75 || cfg.Game.EdgeCeiling != 0.95 {
		t.Errorf("edge bounds = %v/%v", cfg.Game.EdgeFloor, cfg.Game.EdgeCeiling)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BETTING_WINDOW", "2s")
	t.Setenv("MAX_BET_AMOUNT", "500")
	t.Setenv("BLUEPRINT_DB_HOST", "db.internal")
	t.Setenv("STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Game.BettingWindow != 2*time.Second {
		t.Errorf("BettingWindow = %v, want 2s", cfg.Game.BettingWindow)
	}
	if cfg.Game.MaxBet != 500 {
		t.Errorf("MaxBet = %v, want 500", cfg.Game.MaxBet)
	}
	if !strings.Contains(cfg.Database.URL(), "@db.internal:5432/") {
		t.Errorf("URL() = %q", cfg.Database.URL())
	}
	if cfg.Store != "memory" {
		t.Errorf("Store = %q", cfg.Store)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"unparseable duration", "TICK_INTERVAL", "soon", "parse env:"},
		{"zero tick", "TICK_INTERVAL", "0s", "TICK_INTERVAL"},
		{"bad growth", "MULTIPLIER_GROWTH_RATE", "-1", "MULTIPLIER_GROWTH_RATE"},
		{"edge ceiling at one", "EDGE_CEILING", "1", "edge bounds"},
		{"unknown store", "STORE", "sqlite", "STORE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestConfig_IsLocal(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsLocal() {
		t.Error("IsLocal() = false with APP_ENV=local")
	}

	t.Setenv("APP_ENV", "production")
	if cfg, _ = Load(); cfg.IsLocal() {
		t.Error("IsLocal() = true with APP_ENV=production")
	}
}
