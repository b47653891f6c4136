package insurance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crash/internal/apperr"
	"crash/internal/ledger"
)

type phaseGate struct {
	open map[ledger.Action]bool
}

func (g phaseGate) Admit(action ledger.Action, roundID int64) (ledger.Quote, func(), error) {
	if !g.open[action] {
		return ledger.Quote{}, nil, apperr.New(apperr.CodeInvalidPhase, "closed")
	}
	return ledger.Quote{Multiplier: decimal.NewFromInt(1), At: time.Now()}, func() {}, nil
}

var betting = phaseGate{open: map[ledger.Action]bool{ledger.ActionBet: true, ledger.ActionInsure: true}}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setup(t *testing.T, stake string) (*Module, *ledger.Ledger, *ledger.Bet) {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryStore(), ledger.DefaultLimits(), nil)
	if _, err := l.Deposit(ctx, "p1", dec("200")); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	bet, _, err := l.PlaceBet(ctx, betting, ledger.PlaceBetParams{PlayerID: "p1", RoundID: 133, Amount: dec(stake)})
	if err != nil {
		t.Fatalf("PlaceBet() error = %v", err)
	}
	return New(l, DefaultTiers(), nil), l, bet
}

func TestDefaultTiers(t *testing.T) {
	tests := []struct {
		name      string
		premium   string
		coverage  string
		threshold string
	}{
		{TierBasic, "0.15", "0.5", "1.5"},
		{TierPremium, "0.25", "0.75", "2"},
		{TierElite, "0.35", "1", "3"},
	}

	tiers := DefaultTiers()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, ok := tiers[tt.name]
			if !ok {
				t.Fatalf("tier %s missing", tt.name)
			}
			if !tier.PremiumRate.Equal(dec(tt.premium)) || !tier.CoverageRate.Equal(dec(tt.coverage)) || !tier.Threshold.Equal(dec(tt.threshold)) {
				t.Errorf("tier %s = %+v", tt.name, tier)
			}
		})
	}

	sorted := tiers.Sorted()
	if len(sorted) != 3 || sorted[0].Name != TierBasic || sorted[2].Name != TierElite {
		t.Errorf("Sorted() = %+v", sorted)
	}
}

func TestPurchaseInsurance(t *testing.T) {
	ctx := context.Background()
	m, l, bet := setup(t, "100")

	policy, balance, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, TierBasic)
	if err != nil {
		t.Fatalf("PurchaseInsurance() error = %v", err)
	}
	if !policy.Premium.Equal(dec("15")) || !policy.Coverage.Equal(dec("50")) {
		t.Errorf("premium = %s coverage = %s, want 15 and 50", policy.Premium, policy.Coverage)
	}
	if policy.Status != ledger.PolicyActive || policy.RoundID != 133 {
		t.Errorf("unexpected policy %+v", policy)
	}
	if !balance.Equal(dec("85")) {
		t.Errorf("balance = %s, want 85", balance)
	}

	stored, err := l.Policy(ctx, policy.ID)
	if err != nil {
		t.Fatalf("Policy() error = %v", err)
	}
	if stored.BetID != bet.ID {
		t.Errorf("stored policy insures %s, want %s", stored.BetID, bet.ID)
	}
}

func TestPurchaseInsuranceRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("second policy on the same bet", func(t *testing.T) {
		m, l, bet := setup(t, "100")
		if _, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, TierBasic); err != nil {
			t.Fatalf("first purchase error = %v", err)
		}
		_, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, TierElite)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("second purchase error = %v", err)
		}
		bal, _ := l.Balance(ctx, "p1")
		if !bal.Equal(dec("85")) {
			t.Errorf("balance = %s, want 85", bal)
		}
	})

	t.Run("outside betting phase", func(t *testing.T) {
		m, l, bet := setup(t, "100")
		running := phaseGate{open: map[ledger.Action]bool{ledger.ActionCashOut: true}}
		if _, _, err := m.PurchaseInsurance(ctx, running, "p1", bet.ID, TierBasic); !errors.Is(err, apperr.ErrInvalidPhase) {
			t.Fatalf("error = %v", err)
		}
		bal, _ := l.Balance(ctx, "p1")
		if !bal.Equal(dec("100")) {
			t.Errorf("balance = %s, want 100", bal)
		}
	})

	t.Run("unknown tier", func(t *testing.T) {
		m, _, bet := setup(t, "100")
		if _, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, "platinum"); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("someone else's bet", func(t *testing.T) {
		m, _, bet := setup(t, "100")
		if _, _, err := m.PurchaseInsurance(ctx, betting, "p2", bet.ID, TierBasic); !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("premium exceeds balance", func(t *testing.T) {
		m, _, bet := setup(t, "200")
		if _, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, TierBasic); !errors.Is(err, apperr.ErrInsufficientBalance) {
			t.Fatalf("error = %v", err)
		}
	})
}

func TestResolvePolicy(t *testing.T) {
	tests := []struct {
		name        string
		tier        string
		crash       string
		betStatus   ledger.BetStatus
		wantStatus  ledger.PolicyStatus
		wantBalance string
	}{
		{"lost below threshold claims", TierBasic, "1.20", ledger.BetLost, ledger.PolicyClaimed, "135"},
		{"lost at threshold expires", TierBasic, "1.50", ledger.BetLost, ledger.PolicyExpired, "85"},
		{"lost above threshold expires", TierPremium, "2.50", ledger.BetLost, ledger.PolicyExpired, "75"},
		{"cashed out expires", TierElite, "1.10", ledger.BetCashedOut, ledger.PolicyExpired, "65"},
		{"elite full refund", TierElite, "2.99", ledger.BetLost, ledger.PolicyClaimed, "165"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m, l, bet := setup(t, "100")
			policy, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, tt.tier)
			if err != nil {
				t.Fatalf("PurchaseInsurance() error = %v", err)
			}

			resolved, err := m.ResolvePolicy(ctx, policy.ID, dec(tt.crash), tt.betStatus)
			if err != nil {
				t.Fatalf("ResolvePolicy() error = %v", err)
			}
			if resolved.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", resolved.Status, tt.wantStatus)
			}
			bal, _ := l.Balance(ctx, "p1")
			if !bal.Equal(dec(tt.wantBalance)) {
				t.Errorf("balance = %s, want %s", bal, tt.wantBalance)
			}

			if _, err := m.ResolvePolicy(ctx, policy.ID, dec(tt.crash), tt.betStatus); !errors.Is(err, apperr.ErrDuplicateSettlement) {
				t.Errorf("second ResolvePolicy() error = %v", err)
			}
			bal, _ = l.Balance(ctx, "p1")
			if !bal.Equal(dec(tt.wantBalance)) {
				t.Errorf("balance after duplicate = %s, want %s", bal, tt.wantBalance)
			}
		})
	}
}

func TestResolvePolicyRequiresSettledBet(t *testing.T) {
	ctx := context.Background()
	m, _, bet := setup(t, "100")
	policy, _, err := m.PurchaseInsurance(ctx, betting, "p1", bet.ID, TierBasic)
	if err != nil {
		t.Fatalf("PurchaseInsurance() error = %v", err)
	}
	if _, err := m.ResolvePolicy(ctx, policy.ID, dec("1.2"), ledger.BetPlaced); !errors.Is(err, apperr.ErrInvalidPhase) {
		t.Fatalf("error = %v", err)
	}
}

func TestTiersWithThresholds(t *testing.T) {
	tiers := TiersWithThresholds(1.25, 1.8, 4)
	if !tiers[TierBasic].Threshold.Equal(dec("1.25")) || !tiers[TierElite].Threshold.Equal(dec("4")) {
		t.Errorf("thresholds not applied: %+v", tiers)
	}
	if !tiers[TierPremium].PremiumRate.Equal(dec("0.25")) {
		t.Errorf("premium rate changed: %s", tiers[TierPremium].PremiumRate)
	}
}
