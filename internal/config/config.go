package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"local"`

	// Store selects the durable store: "postgres" or "memory".
	Store string `env:"STORE" envDefault:"postgres"`

	Database Database
	Redis    Redis
	Game     Game
	Hub      Hub
}

type Database struct {
	Host     string `env:"BLUEPRINT_DB_HOST" envDefault:"localhost"`
	Port     string `env:"BLUEPRINT_DB_PORT" envDefault:"5432"`
	Name     string `env:"BLUEPRINT_DB_DATABASE" envDefault:"crashdb"`
	Username string `env:"BLUEPRINT_DB_USERNAME" envDefault:"postgres"`
	Password string `env:"BLUEPRINT_DB_PASSWORD" envDefault:"postgres"`
	Schema   string `env:"BLUEPRINT_DB_SCHEMA" envDefault:"public"`
	MaxConns int32  `env:"BLUEPRINT_DB_MAX_CONNS" envDefault:"20"`

	// MigrationsPath overrides the embedded migrations when set.
	MigrationsPath string `env:"MIGRATIONS_PATH"`
}

// URL returns the postgres connection string.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Name, d.Schema)
}

type Redis struct {
	Addr     string `env:"REDIS_URL" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	// Optional disables the live-state mirror when Redis is unreachable.
	Optional bool `env:"REDIS_OPTIONAL" envDefault:"true"`
}

type Game struct {
	BettingWindow time.Duration `env:"BETTING_WINDOW" envDefault:"5s"`
	TickInterval  time.Duration `env:"TICK_INTERVAL" envDefault:"100ms"`
	Intermission  time.Duration `env:"INTERMISSION" envDefault:"3s"`

	MinBet float64 `env:"MIN_BET_AMOUNT" envDefault:"1"`
	MaxBet float64 `env:"MAX_BET_AMOUNT" envDefault:"10000"`

	// GrowthRate is the continuous per-second rate of the multiplier curve.
	GrowthRate float64 `env:"MULTIPLIER_GROWTH_RATE" envDefault:"0.06"`

	EdgeFloor     float64 `env:"EDGE_FLOOR" envDefault:"0.75"`
	EdgeCeiling   float64 `env:"EDGE_CEILING" envDefault:"0.95"`
	EdgeVolumeCap float64 `env:"EDGE_VOLUME_CAP" envDefault:"100000"`

	ClientSeed string `env:"CLIENT_SEED" envDefault:"crash-public-client-seed"`

	InsuranceBasicThreshold   float64 `env:"INSURANCE_BASIC_THRESHOLD" envDefault:"1.5"`
	InsurancePremiumThreshold float64 `env:"INSURANCE_PREMIUM_THRESHOLD" envDefault:"2"`
	InsuranceEliteThreshold   float64 `env:"INSURANCE_ELITE_THRESHOLD" envDefault:"3"`
}

type Hub struct {
	BroadcastBuffer int           `env:"HUB_BROADCAST_BUFFER" envDefault:"256"`
	ClientQueue     int           `env:"HUB_CLIENT_QUEUE" envDefault:"64"`
	WriteTimeout    time.Duration `env:"HUB_WRITE_TIMEOUT" envDefault:"10s"`
}

// Load reads the configuration from the environment (and .env when present).
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	g := c.Game
	switch {
	case g.TickInterval <= 0:
		return fmt.Errorf("TICK_INTERVAL must be positive")
	case g.GrowthRate <= 0:
		return fmt.Errorf("MULTIPLIER_GROWTH_RATE must be positive")
	case g.MinBet <= 0 || g.MaxBet < g.MinBet:
		return fmt.Errorf("bet bounds invalid: min %.2f max %.2f", g.MinBet, g.MaxBet)
	case g.EdgeFloor <= 0 || g.EdgeCeiling >= 1 || g.EdgeFloor > g.EdgeCeiling:
		return fmt.Errorf("edge bounds invalid: floor %.2f ceiling %.2f", g.EdgeFloor, g.EdgeCeiling)
	}
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("STORE must be postgres or memory, got %q", c.Store)
	}
	return nil
}

// IsLocal reports whether the service runs in a developer environment.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}
