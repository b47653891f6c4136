package game

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"crash/internal/apperr"
	"crash/internal/ledger"
)

// Admit checks a player action against the current round at the current
// instant. On success the round cannot change phase until release is called.
func (m *Manager) Admit(action ledger.Action, roundID int64) (ledger.Quote, func(), error) {
	m.stateMutex.RLock()
	q, err := m.admitLocked(action, roundID, m.clock())
	if err != nil {
		m.stateMutex.RUnlock()
		return ledger.Quote{}, nil, err
	}
	return q, m.stateMutex.RUnlock, nil
}

// admitLocked judges the action by its timestamp, not by when the engine
// last ticked: a cash-out stamped at or after the crash instant is rejected
// even while the phase still reads running.
func (m *Manager) admitLocked(action ledger.Action, roundID int64, at time.Time) (ledger.Quote, error) {
	r := m.currentRound
	if r == nil || r.ID != roundID {
		return ledger.Quote{}, apperr.New(apperr.CodeInvalidPhase, "round "+strconv.FormatInt(roundID, 10)+" is not the current round")
	}

	switch action {
	case ledger.ActionBet, ledger.ActionInsure:
		if r.Phase != PhaseBetting || !at.Before(r.BettingEndsAt) {
			return ledger.Quote{}, apperr.New(apperr.CodeInvalidPhase, "betting is closed")
		}
		return ledger.Quote{At: at}, nil

	case ledger.ActionCashOut:
		if r.Phase != PhaseRunning || at.Before(r.StartedAt) || !at.Before(m.crashAt) {
			return ledger.Quote{}, apperr.New(apperr.CodeInvalidPhase, "round is not running")
		}
		return ledger.Quote{At: at, Multiplier: m.cfg.Curve.At(at.Sub(r.StartedAt))}, nil
	}
	return ledger.Quote{}, apperr.New(apperr.CodeInvalidArgument, "unknown action "+string(action))
}

// autoGate admits an auto cash-out at the instant the curve reached its
// target, paying exactly the target.
type autoGate struct {
	m          *Manager
	multiplier decimal.Decimal
	at         time.Time
}

func (g autoGate) Admit(action ledger.Action, roundID int64) (ledger.Quote, func(), error) {
	g.m.stateMutex.RLock()
	if _, err := g.m.admitLocked(action, roundID, g.at); err != nil {
		g.m.stateMutex.RUnlock()
		return ledger.Quote{}, nil, err
	}
	return ledger.Quote{Multiplier: g.multiplier, At: g.at}, g.m.stateMutex.RUnlock, nil
}
