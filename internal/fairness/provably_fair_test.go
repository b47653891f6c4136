package fairness

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"crash/internal/apperr"
)

func TestDeriveCrashPoint_KnownVectors(t *testing.T) {
	tests := []struct {
		name       string
		serverSeed string
		clientSeed string
		nonce      int64
		edge       Edge
		want       float64
	}{
		{
			name:       "cash-out scenario round",
			serverSeed: "abc123",
			clientSeed: "player-seed",
			nonce:      7,
			edge:       DefaultEdge,
			want:       2.04,
		},
		{
			name:       "insurance scenario round",
			serverSeed: "abc123",
			clientSeed: "player-seed",
			nonce:      133,
			edge:       DefaultEdge,
			want:       1.20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveCrashPoint(tt.serverSeed, tt.clientSeed, tt.nonce, tt.edge)
			if got != tt.want {
				t.Errorf("DeriveCrashPoint() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveCrashPoint_Deterministic(t *testing.T) {
	for nonce := int64(1); nonce <= 50; nonce++ {
		first := DeriveCrashPoint("deterministic_test_seed", "deterministic_client_seed", nonce, DefaultEdge)
		for i := 0; i < 3; i++ {
			if again := DeriveCrashPoint("deterministic_test_seed", "deterministic_client_seed", nonce, DefaultEdge); again != first {
				t.Fatalf("nonce %d: got %v then %v", nonce, first, again)
			}
		}
		if first < MinMultiplier || first > MaxMultiplier {
			t.Fatalf("nonce %d: crash point %v out of range", nonce, first)
		}
	}
}

func TestDeriveCrashPoint_DifferentInputs(t *testing.T) {
	result1 := DeriveCrashPoint("test_seed", "test_client", 1, DefaultEdge)
	result2 := DeriveCrashPoint("test_seed", "test_client", 2, DefaultEdge)
	result3 := DeriveCrashPoint("test_seed", "test_client", 3, DefaultEdge)

	if result1 == result2 && result2 == result3 {
		t.Error("DeriveCrashPoint() produces same result for different nonces (unlikely)")
	}
}

func TestDeriveCrashPoint_EdgeMassBelowTwo(t *testing.T) {
	const samples = 20000

	for _, edge := range []Edge{0.75, 0.95} {
		below := 0
		for n := int64(1); n <= samples; n++ {
			if DeriveCrashPoint("distribution-seed", "player-seed", n, edge) < 2.0 {
				below++
			}
		}
		share := float64(below) / samples
		if share < float64(edge)-0.02 || share > float64(edge)+0.02 {
			t.Errorf("edge %v: share below 2.00x = %.4f", edge, share)
		}
	}
}

func TestCrashFromUniform_Monotonic(t *testing.T) {
	prev := 0.0
	for i := 0; i < 1000; i++ {
		r := float64(i) / 1000
		got := crashFromUniform(r, DefaultEdge)
		if got < prev {
			t.Fatalf("crash point decreased at r=%v: %v < %v", r, got, prev)
		}
		prev = got
	}

	if got := crashFromUniform(0, DefaultEdge); got != MinMultiplier {
		t.Errorf("r=0 should crash at %v, got %v", MinMultiplier, got)
	}
	if got := crashFromUniform(float64(DefaultEdge), DefaultEdge); got != 2.0 {
		t.Errorf("r=edge should crash at 2.00, got %v", got)
	}
	if got := crashFromUniform(1-1e-15, DefaultEdge); got != MaxMultiplier {
		t.Errorf("r→1 should clamp to %v, got %v", MaxMultiplier, got)
	}
}

func TestCrashFromUniform_InvalidEdgeFallsBack(t *testing.T) {
	if crashFromUniform(0.6, 0) != crashFromUniform(0.6, DefaultEdge) {
		t.Error("zero edge should fall back to DefaultEdge")
	}
	if crashFromUniform(0.6, 1) != crashFromUniform(0.6, DefaultEdge) {
		t.Error("edge 1 should fall back to DefaultEdge")
	}
}

func TestGenerateSeed(t *testing.T) {
	seed1, err := GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed() error = %v", err)
	}
	seed2, _ := GenerateSeed()

	if seed1 == seed2 {
		t.Error("GenerateSeed() produced duplicate seeds")
	}
	if len(seed1) != 64 {
		t.Errorf("GenerateSeed() length = %v, want 64", len(seed1))
	}
}

func TestHashSeed(t *testing.T) {
	hash := HashSeed("test_seed_123")
	if hash != HashSeed("test_seed_123") {
		t.Error("HashSeed() is not deterministic")
	}
	if len(hash) != 64 {
		t.Errorf("HashSeed() length = %v, want 64", len(hash))
	}
	if !VerifySeed("test_seed_123", hash) {
		t.Error("VerifySeed() rejected the matching seed")
	}
	if VerifySeed("test_seed_124", hash) {
		t.Error("VerifySeed() accepted a different seed")
	}
}

func TestVerify(t *testing.T) {
	v := Verify("abc123", "player-seed", 7, 0)
	if v.Edge != DefaultEdge {
		t.Errorf("Edge = %v, want default", v.Edge)
	}
	if v.CrashPoint != 2.04 {
		t.Errorf("CrashPoint = %v, want 2.04", v.CrashPoint)
	}
	if v.ServerSeedHash != HashSeed("abc123") {
		t.Error("ServerSeedHash mismatch")
	}
}

func TestShaping_EdgeFor(t *testing.T) {
	s := DefaultShaping()

	tests := []struct {
		name   string
		volume decimal.Decimal
		want   Edge
	}{
		{"no volume", decimal.Zero, 0.75},
		{"half cap", decimal.NewFromInt(50000), 0.85},
		{"at cap", decimal.NewFromInt(100000), 0.95},
		{"above cap", decimal.NewFromInt(5000000), 0.95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.EdgeFor(tt.volume)
			if diff := float64(got - tt.want); diff > 1e-9 || diff < -1e-9 {
				t.Errorf("EdgeFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerator_OpenRound(t *testing.T) {
	g := NewGenerator("player-seed", DefaultShaping(), 6, WithSeedSource(func() (string, error) {
		return "abc123", nil
	}))

	c, err := g.OpenRound(decimal.Zero)
	if err != nil {
		t.Fatalf("OpenRound() error = %v", err)
	}
	if c.Nonce != 7 {
		t.Errorf("Nonce = %d, want 7", c.Nonce)
	}
	if c.CrashPoint() != 2.04 {
		t.Errorf("CrashPoint() = %v, want 2.04", c.CrashPoint())
	}
	if c.ServerSeedHash != HashSeed("abc123") {
		t.Error("published hash does not match the seed")
	}

	t.Run("seed sealed until close", func(t *testing.T) {
		if _, err := c.RevealSeed(); !errors.Is(err, apperr.ErrInvalidPhase) {
			t.Fatalf("RevealSeed() before close error = %v", err)
		}
		c.Close()
		seed, err := c.RevealSeed()
		if err != nil {
			t.Fatalf("RevealSeed() error = %v", err)
		}
		if !VerifySeed(seed, c.ServerSeedHash) {
			t.Error("revealed seed does not reproduce the published hash")
		}
	})

	t.Run("nonce strictly increasing", func(t *testing.T) {
		next, err := g.OpenRound(decimal.Zero)
		if err != nil {
			t.Fatalf("OpenRound() error = %v", err)
		}
		if next.Nonce != 8 {
			t.Errorf("Nonce = %d, want 8", next.Nonce)
		}
	})
}

func TestGenerator_FailedSeedBurnsNonce(t *testing.T) {
	fail := true
	g := NewGenerator("c", DefaultShaping(), 0, WithSeedSource(func() (string, error) {
		if fail {
			return "", errors.New("entropy exhausted")
		}
		return "s", nil
	}))

	if _, err := g.OpenRound(decimal.Zero); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	c, err := g.OpenRound(decimal.Zero)
	if err != nil {
		t.Fatalf("OpenRound() error = %v", err)
	}
	if c.Nonce != 2 {
		t.Errorf("Nonce = %d, want 2", c.Nonce)
	}
}

func TestGenerator_RealSeedsRoundTrip(t *testing.T) {
	g := NewGenerator("client", DefaultShaping(), 0)
	for i := 0; i < 20; i++ {
		c, err := g.OpenRound(decimal.NewFromInt(int64(i) * 1000))
		if err != nil {
			t.Fatalf("OpenRound() error = %v", err)
		}
		c.Close()
		seed, _ := c.RevealSeed()
		if !VerifySeed(seed, c.ServerSeedHash) {
			t.Fatalf("round %d: hash round trip failed", c.Nonce)
		}
		if DeriveCrashPoint(seed, c.ClientSeed, c.Nonce, c.Edge) != c.CrashPoint() {
			t.Fatalf("round %d: recomputed crash point differs", c.Nonce)
		}
	}
}

func BenchmarkDeriveCrashPoint(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DeriveCrashPoint("benchmark_server_seed", "benchmark_client_seed", int64(i), DefaultEdge)
	}
}
