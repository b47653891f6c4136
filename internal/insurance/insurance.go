// Package insurance sells per-bet loss protection during the betting phase
// and resolves it once the round has crashed.
package insurance

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/ledger"
	"crash/internal/logging"
)

// Tier prices a policy as a share of the insured stake. A lost bet is
// refunded Coverage × stake when the round crashed below Threshold.
type Tier struct {
	Name         string          `json:"name"`
	PremiumRate  decimal.Decimal `json:"premium_rate"`
	CoverageRate decimal.Decimal `json:"coverage_rate"`
	Threshold    decimal.Decimal `json:"threshold"`
}

const (
	TierBasic   = "basic"
	TierPremium = "premium"
	TierElite   = "elite"
)

type Tiers map[string]Tier

func DefaultTiers() Tiers {
	return TiersWithThresholds(1.5, 2, 3)
}

// TiersWithThresholds returns the standard tier table with the claim
// thresholds replaced.
func TiersWithThresholds(basic, premium, elite float64) Tiers {
	return Tiers{
		TierBasic: {
			Name:         TierBasic,
			PremiumRate:  decimal.RequireFromString("0.15"),
			CoverageRate: decimal.RequireFromString("0.50"),
			Threshold:    decimal.NewFromFloat(basic),
		},
		TierPremium: {
			Name:         TierPremium,
			PremiumRate:  decimal.RequireFromString("0.25"),
			CoverageRate: decimal.RequireFromString("0.75"),
			Threshold:    decimal.NewFromFloat(premium),
		},
		TierElite: {
			Name:         TierElite,
			PremiumRate:  decimal.RequireFromString("0.35"),
			CoverageRate: decimal.NewFromInt(1),
			Threshold:    decimal.NewFromFloat(elite),
		},
	}
}

// Sorted returns the tiers ordered by premium rate.
func (t Tiers) Sorted() []Tier {
	out := make([]Tier, 0, len(t))
	for _, tier := range t {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PremiumRate.LessThan(out[j].PremiumRate) })
	return out
}

type Module struct {
	ledger *ledger.Ledger
	tiers  Tiers
	log    *zap.Logger
}

func New(l *ledger.Ledger, tiers Tiers, log *zap.Logger) *Module {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Module{
		ledger: l,
		tiers:  tiers,
		log:    logging.OrNop(log).Named("insurance"),
	}
}

func (m *Module) Tiers() Tiers {
	return m.tiers
}

// PurchaseInsurance debits the premium and records the policy in one ledger
// transaction. It is admitted only while the round is taking bets, and a
// bet carries at most one policy.
func (m *Module) PurchaseInsurance(ctx context.Context, gate ledger.Gate, playerID string, betID uuid.UUID, tierName string) (*ledger.Policy, decimal.Decimal, error) {
	tier, ok := m.tiers[tierName]
	if !ok {
		return nil, decimal.Zero, apperr.New(apperr.CodeInvalidArgument, "unknown insurance tier "+tierName)
	}
	known, err := m.ledger.Bet(ctx, betID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if known.PlayerID != playerID {
		return nil, decimal.Zero, apperr.New(apperr.CodeForbidden, "bet belongs to another player")
	}

	var (
		policy  *ledger.Policy
		balance decimal.Decimal
	)
	err = m.ledger.Transact(ctx, playerID, gate, ledger.ActionInsure, known.RoundID, func(tx ledger.Tx, q ledger.Quote) error {
		bet, err := tx.Bet(ctx, betID)
		if err != nil {
			return err
		}
		if bet.Status != ledger.BetPlaced {
			return apperr.New(apperr.CodeInvalidPhase, "bet is already "+string(bet.Status))
		}
		if _, err := tx.PolicyForBet(ctx, betID); err == nil {
			return apperr.New(apperr.CodeInvalidArgument, "bet is already insured")
		} else if apperr.CodeOf(err) != apperr.CodeNotFound {
			return err
		}

		policy = &ledger.Policy{
			ID:        uuid.New(),
			BetID:     betID,
			RoundID:   bet.RoundID,
			PlayerID:  playerID,
			Tier:      tier.Name,
			Premium:   bet.Amount.Mul(tier.PremiumRate).Truncate(2),
			Coverage:  bet.Amount.Mul(tier.CoverageRate).Truncate(2),
			Threshold: tier.Threshold,
			Status:    ledger.PolicyActive,
			CreatedAt: q.At,
		}
		balance, err = tx.Adjust(ctx, ledger.Entry{
			PlayerID:  playerID,
			Delta:     policy.Premium.Neg(),
			Reason:    ledger.ReasonPremium,
			Reference: policy.ID.String(),
			CreatedAt: q.At,
		})
		if err != nil {
			return err
		}
		return tx.InsertPolicy(ctx, policy)
	})
	if err != nil {
		return nil, decimal.Zero, err
	}

	m.log.Info("policy purchased",
		zap.String("player_id", playerID),
		zap.String("bet_id", betID.String()),
		zap.String("tier", tier.Name),
		zap.String("premium", policy.Premium.StringFixed(2)))
	return policy, balance, nil
}

// ResolvePolicy settles a policy against the final crash point. A cashed-out
// bet expires its policy; a lost bet claims when the round crashed strictly
// below the threshold. Each policy resolves exactly once.
func (m *Module) ResolvePolicy(ctx context.Context, policyID uuid.UUID, crashPoint decimal.Decimal, betStatus ledger.BetStatus) (*ledger.Policy, error) {
	known, err := m.ledger.Policy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if betStatus == ledger.BetPlaced {
		return nil, apperr.New(apperr.CodeInvalidPhase, "bet is not settled yet")
	}

	var policy *ledger.Policy
	err = m.ledger.Transact(ctx, known.PlayerID, nil, "", known.RoundID, func(tx ledger.Tx, q ledger.Quote) error {
		var err error
		policy, err = tx.Policy(ctx, policyID)
		if err != nil {
			return err
		}
		if policy.Status != ledger.PolicyActive {
			return apperr.New(apperr.CodeDuplicateSettlement, "policy already "+string(policy.Status))
		}

		policy.Status = ledger.PolicyExpired
		policy.ResolvedAt = q.At
		if betStatus == ledger.BetLost && crashPoint.LessThan(policy.Threshold) {
			policy.Status = ledger.PolicyClaimed
			if _, err := tx.Adjust(ctx, ledger.Entry{
				PlayerID:  policy.PlayerID,
				Delta:     policy.Coverage,
				Reason:    ledger.ReasonClaim,
				Reference: policy.ID.String(),
				CreatedAt: q.At,
			}); err != nil {
				return err
			}
		}
		return tx.UpdatePolicy(ctx, policy)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("policy resolved",
		zap.String("policy_id", policyID.String()),
		zap.String("status", string(policy.Status)),
		zap.String("crash_point", crashPoint.StringFixed(2)))
	return policy, nil
}
