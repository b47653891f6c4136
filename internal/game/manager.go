package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crash/internal/apperr"
	"crash/internal/fairness"
	"crash/internal/insurance"
	"crash/internal/ledger"
	"crash/internal/logging"
)

const (
	DefaultBettingWindow = 5 * time.Second
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultIntermission  = 3 * time.Second
)

type Config struct {
	BettingWindow time.Duration
	TickInterval  time.Duration
	Intermission  time.Duration
	Curve         Curve
}

func DefaultConfig() Config {
	return Config{
		BettingWindow: DefaultBettingWindow,
		TickInterval:  DefaultTickInterval,
		Intermission:  DefaultIntermission,
		Curve:         Curve{Rate: DefaultGrowthRate},
	}
}

// Manager runs one round at a time through pending, betting, running,
// crashed and settled, and is the gate every player action passes.
type Manager struct {
	cfg        Config
	gen        *fairness.Generator
	ledger     *ledger.Ledger
	insurance  *insurance.Module
	rounds     RoundStore
	publishers []Publisher
	clock      func() time.Time
	log        *zap.Logger

	// openMutex serializes OpenRound from the busy check to installing
	// the new round.
	openMutex sync.Mutex

	// stateMutex is held shared by admitted player actions until their
	// ledger transaction ends, and exclusively by phase transitions.
	stateMutex   sync.RWMutex
	currentRound *Round
	commitment   *fairness.Commitment
	crashAt      time.Time
	prevVolume   decimal.Decimal

	// betsMutex is never held while taking stateMutex.
	betsMutex sync.Mutex
	open      map[uuid.UUID]*openBet
	wagered   decimal.Decimal
}

type openBet struct {
	id       uuid.UUID
	playerID string
	roundID  int64
	amount   decimal.Decimal
	target   decimal.Decimal
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithPublisher adds an observer of every event.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publishers = append(m.publishers, p)
	}
}

func NewManager(cfg Config, gen *fairness.Generator, l *ledger.Ledger, ins *insurance.Module, rounds RoundStore, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		gen:        gen,
		ledger:     l,
		insurance:  ins,
		rounds:     rounds,
		clock:      time.Now,
		log:        logging.OrNop(log).Named("game"),
		prevVolume: decimal.Zero,
		open:       make(map[uuid.UUID]*openBet),
		wagered:    decimal.Zero,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover flags rounds a previous process left unsettled. Their open bets
// keep their deducted stakes until an operator reconciles them.
func (m *Manager) Recover(ctx context.Context) error {
	ids, err := m.rounds.FlagUnsettled(ctx)
	if err != nil {
		return apperr.Persistence("flag unsettled rounds", err)
	}
	for _, id := range ids {
		m.log.Warn("round left unsettled, flagged for reconciliation", zap.Int64("round_id", id))
	}
	m.log.Info("recovered", zap.Int("flagged", len(ids)), zap.Int64("last_nonce", m.gen.LastNonce()))
	return nil
}

// Run plays rounds back to back until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("game loop started",
		zap.Duration("betting_window", m.cfg.BettingWindow),
		zap.Duration("tick", m.cfg.TickInterval),
		zap.Float64("growth_per_second", m.cfg.Curve.GrowthPerSecond()))
	for {
		if err := m.runRound(ctx); err != nil {
			if ctx.Err() != nil {
				m.log.Info("game loop stopped")
				return nil
			}
			m.log.Error("round failed", zap.Error(err))
		}
		if !sleep(ctx, m.cfg.Intermission) {
			m.log.Info("game loop stopped")
			return nil
		}
	}
}

func (m *Manager) runRound(ctx context.Context) error {
	if _, err := m.OpenRound(ctx); err != nil {
		return err
	}
	if !sleep(ctx, m.cfg.BettingWindow) {
		return ctx.Err()
	}
	if err := m.StartRunning(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			crashed, err := m.Tick(ctx)
			if err != nil {
				return err
			}
			if crashed {
				return m.Settle(ctx)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// OpenRound commits to a new round and opens betting. The commitment is
// persisted first; if that fails the round never opens.
func (m *Manager) OpenRound(ctx context.Context) (*Round, error) {
	m.openMutex.Lock()
	defer m.openMutex.Unlock()

	m.stateMutex.RLock()
	busy := m.currentRound != nil && m.currentRound.Phase != PhaseSettled
	volume := m.prevVolume
	m.stateMutex.RUnlock()
	if busy {
		return nil, apperr.New(apperr.CodeInvalidPhase, "current round has not settled")
	}

	c, err := m.gen.OpenRound(volume)
	if err != nil {
		return nil, fmt.Errorf("open round: %w", err)
	}

	now := m.clock()
	r := &Round{
		ID:             c.Nonce,
		Nonce:          c.Nonce,
		Phase:          PhasePending,
		ServerSeedHash: c.ServerSeedHash,
		ClientSeed:     c.ClientSeed,
		Edge:           float64(c.Edge),
		TotalWagered:   decimal.Zero,
		OpenedAt:       now,
		BettingEndsAt:  now.Add(m.cfg.BettingWindow),
	}
	if err := m.rounds.SaveRound(ctx, r); err != nil {
		m.log.Error("round aborted, commitment not persisted", zap.Int64("round_id", r.ID), zap.Error(err))
		return nil, apperr.Persistence("persist round commitment", err)
	}

	m.resetBets()

	m.stateMutex.Lock()
	if err := r.advance(PhaseBetting); err != nil {
		m.stateMutex.Unlock()
		return nil, err
	}
	m.currentRound = r
	m.commitment = c
	m.crashAt = time.Time{}
	ev := m.eventLocked(EventRoundOpen, now)
	ev.ServerSeedHash = r.ServerSeedHash
	ev.ClientSeed = r.ClientSeed
	ev.Nonce = r.Nonce
	ev.Edge = r.Edge
	ends := r.BettingEndsAt
	ev.BettingEndsAt = &ends
	m.withLimits(&ev)
	snapshot := *r
	m.stateMutex.Unlock()

	m.persist(ctx, &snapshot)
	m.publish(ev)
	m.log.Info("round open",
		zap.Int64("round_id", r.ID),
		zap.String("commitment", r.ServerSeedHash),
		zap.Float64("edge", r.Edge))
	return snapshot.Public(), nil
}

// StartRunning closes betting and starts the curve. The crash instant is
// fixed here from the precomputed crash point.
func (m *Manager) StartRunning(ctx context.Context) error {
	now := m.clock()

	m.stateMutex.Lock()
	r := m.currentRound
	if r == nil {
		m.stateMutex.Unlock()
		return apperr.New(apperr.CodeInvalidPhase, "no round to start")
	}
	if err := r.advance(PhaseRunning); err != nil {
		m.stateMutex.Unlock()
		return err
	}
	r.StartedAt = now
	m.crashAt = now.Add(m.cfg.Curve.Reach(m.commitment.CrashPoint()))
	ev := m.eventLocked(EventRoundRunning, now)
	snapshot := *r
	m.stateMutex.Unlock()

	m.persist(ctx, &snapshot)
	m.publish(ev)
	m.log.Info("round running", zap.Int64("round_id", r.ID), zap.Int("active_players", ev.ActivePlayers))
	return nil
}

// Tick samples the curve at the current time. It pays due auto cash-outs
// and reports whether the round crashed on this tick.
func (m *Manager) Tick(ctx context.Context) (bool, error) {
	now := m.clock()

	m.stateMutex.RLock()
	r := m.currentRound
	if r == nil || r.Phase != PhaseRunning {
		m.stateMutex.RUnlock()
		return false, apperr.New(apperr.CodeInvalidPhase, "round is not running")
	}
	roundID, start, crashAt := r.ID, r.StartedAt, m.crashAt
	m.stateMutex.RUnlock()

	m.autoCashOuts(ctx, roundID, start, crashAt, now)

	if !now.Before(crashAt) {
		return true, m.crash(ctx)
	}

	m.stateMutex.RLock()
	ev := m.eventLocked(EventMultiplierUpdate, now)
	m.stateMutex.RUnlock()
	m.publish(ev)
	return false, nil
}

func (m *Manager) autoCashOuts(ctx context.Context, roundID int64, start, crashAt, now time.Time) {
	for _, b := range m.dueAutoCashOuts(roundID, start, crashAt, now) {
		at := start.Add(m.cfg.Curve.Reach(b.target.InexactFloat64()))
		gate := autoGate{m: m, multiplier: b.target, at: at}
		bet, _, err := m.ledger.CashOut(ctx, gate, b.playerID, b.id)
		if err != nil {
			if !errors.Is(err, apperr.ErrDuplicateSettlement) {
				m.log.Warn("auto cash-out failed", zap.String("bet_id", b.id.String()), zap.Error(err))
			}
			continue
		}
		m.closeBet(bet.ID)
		m.publishCashout(bet, true)
	}
}

// dueAutoCashOuts returns bets whose target the curve has reached by now
// and strictly before the crash, lowest target first. Each target fires once.
func (m *Manager) dueAutoCashOuts(roundID int64, start, crashAt, now time.Time) []openBet {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()

	var due []openBet
	for _, b := range m.open {
		if b.roundID != roundID || b.target.IsZero() {
			continue
		}
		reach := start.Add(m.cfg.Curve.Reach(b.target.InexactFloat64()))
		if reach.After(now) || !reach.Before(crashAt) {
			continue
		}
		due = append(due, *b)
		b.target = decimal.Zero
	}
	sort.Slice(due, func(i, j int) bool { return due[i].target.LessThan(due[j].target) })
	return due
}

func (m *Manager) crash(ctx context.Context) error {
	m.stateMutex.Lock()
	r := m.currentRound
	if err := r.advance(PhaseCrashed); err != nil {
		m.stateMutex.Unlock()
		return err
	}
	r.CrashPoint = m.commitment.CrashPoint()
	r.CrashedAt = m.crashAt
	m.commitment.Close()
	ev := m.eventLocked(EventCrash, r.CrashedAt)
	ev.CrashPoint = r.CrashPoint
	ev.Tag = tagFor(r.CrashPoint)
	snapshot := *r
	m.stateMutex.Unlock()

	m.persist(ctx, &snapshot)
	m.publish(ev)
	m.log.Info("round crashed", zap.Int64("round_id", r.ID), zap.Float64("crash_point", r.CrashPoint))
	return nil
}

// Settle marks every open bet lost, resolves the round's policies and
// reveals the server seed. A failure on one bet or policy flags the round
// for reconciliation and settlement carries on with the rest.
func (m *Manager) Settle(ctx context.Context) error {
	m.stateMutex.RLock()
	r := m.currentRound
	if r == nil || r.Phase != PhaseCrashed {
		m.stateMutex.RUnlock()
		return apperr.New(apperr.CodeInvalidPhase, "round has not crashed")
	}
	roundID, crashPoint := r.ID, r.CrashPoint
	m.stateMutex.RUnlock()

	statuses := make(map[uuid.UUID]ledger.BetStatus)
	wagered := decimal.Zero
	bets, err := m.ledger.RoundBets(ctx, roundID)
	if err != nil {
		m.log.Error("list round bets failed", zap.Int64("round_id", roundID), zap.Error(err))
		m.flagReconciliation()
		wagered = m.wageredInMemory()
	}
	for _, b := range bets {
		wagered = wagered.Add(b.Amount)
		if b.Status != ledger.BetPlaced {
			statuses[b.ID] = b.Status
			continue
		}
		if _, err := m.ledger.SettleLoss(ctx, b.ID); err != nil {
			m.log.Error("settle loss failed", zap.Int64("round_id", roundID), zap.String("bet_id", b.ID.String()), zap.Error(err))
			m.flagReconciliation()
			continue
		}
		statuses[b.ID] = ledger.BetLost
		m.closeBet(b.ID)
	}

	policies, err := m.ledger.RoundPolicies(ctx, roundID)
	if err != nil {
		m.log.Error("list round policies failed", zap.Int64("round_id", roundID), zap.Error(err))
		m.flagReconciliation()
	}
	crash := decimal.NewFromFloat(crashPoint)
	for _, p := range policies {
		if p.Status != ledger.PolicyActive {
			continue
		}
		status, ok := statuses[p.BetID]
		if !ok {
			m.log.Error("policy bet not settled", zap.String("policy_id", p.ID.String()), zap.String("bet_id", p.BetID.String()))
			m.flagReconciliation()
			continue
		}
		if _, err := m.insurance.ResolvePolicy(ctx, p.ID, crash, status); err != nil {
			m.log.Error("resolve policy failed", zap.String("policy_id", p.ID.String()), zap.Error(err))
			m.flagReconciliation()
		}
	}

	now := m.clock()
	m.stateMutex.Lock()
	seed, err := m.commitment.RevealSeed()
	if err != nil {
		m.stateMutex.Unlock()
		return err
	}
	if err := r.advance(PhaseSettled); err != nil {
		m.stateMutex.Unlock()
		return err
	}
	r.ServerSeed = seed
	r.SettledAt = now
	r.TotalWagered = wagered
	m.prevVolume = wagered
	ev := m.eventLocked(EventRoundSettled, now)
	ev.ServerSeedHash = r.ServerSeedHash
	ev.ServerSeed = seed
	ev.ClientSeed = r.ClientSeed
	ev.Nonce = r.Nonce
	ev.Edge = r.Edge
	ev.CrashPoint = r.CrashPoint
	ev.Tag = tagFor(r.CrashPoint)
	ev.TotalWagered = wagered.StringFixed(2)
	snapshot := *r
	m.stateMutex.Unlock()

	m.resetBets()
	m.persist(ctx, &snapshot)
	m.publish(ev)
	m.log.Info("round settled",
		zap.Int64("round_id", roundID),
		zap.String("total_wagered", wagered.StringFixed(2)),
		zap.Bool("needs_reconciliation", snapshot.NeedsReconciliation))
	return nil
}

// PlaceBet places a bet on roundID, or on the current round when roundID
// is zero.
func (m *Manager) PlaceBet(ctx context.Context, playerID string, roundID int64, amount, autoCashout decimal.Decimal) (*ledger.Bet, decimal.Decimal, error) {
	if roundID == 0 {
		roundID = m.currentRoundID()
	}
	bet, balance, err := m.ledger.PlaceBet(ctx, m, ledger.PlaceBetParams{
		PlayerID:    playerID,
		RoundID:     roundID,
		Amount:      amount,
		AutoCashout: autoCashout,
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	m.trackBet(bet)

	m.stateMutex.RLock()
	ev := m.eventLocked(EventBetPlaced, bet.PlacedAt)
	m.stateMutex.RUnlock()
	ev.RoundID = bet.RoundID
	ev.PlayerID = bet.PlayerID
	ev.BetID = bet.ID.String()
	ev.Amount = bet.Amount.StringFixed(2)
	m.publish(ev)
	return bet, balance, nil
}

// CashOut pays a bet at the multiplier in effect at the moment the action
// is admitted.
func (m *Manager) CashOut(ctx context.Context, playerID string, betID uuid.UUID) (*ledger.Bet, decimal.Decimal, error) {
	bet, balance, err := m.ledger.CashOut(ctx, m, playerID, betID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	m.closeBet(bet.ID)
	m.publishCashout(bet, false)
	return bet, balance, nil
}

func (m *Manager) PurchaseInsurance(ctx context.Context, playerID string, betID uuid.UUID, tier string) (*ledger.Policy, decimal.Decimal, error) {
	policy, balance, err := m.insurance.PurchaseInsurance(ctx, m, playerID, betID, tier)
	if err != nil {
		return nil, decimal.Zero, err
	}

	m.stateMutex.RLock()
	ev := m.eventLocked(EventInsurancePurchased, policy.CreatedAt)
	m.stateMutex.RUnlock()
	ev.RoundID = policy.RoundID
	ev.PlayerID = policy.PlayerID
	ev.BetID = policy.BetID.String()
	ev.PolicyID = policy.ID.String()
	ev.Tier = policy.Tier
	ev.Amount = policy.Premium.StringFixed(2)
	m.publish(ev)
	return policy, balance, nil
}

// Handle dispatches an inbound player action.
func (m *Manager) Handle(ctx context.Context, req ActionRequest) (ActionResponse, error) {
	switch ledger.Action(req.Action) {
	case ledger.ActionBet:
		bet, balance, err := m.PlaceBet(ctx, req.PlayerID, req.RoundID, req.Amount, req.AutoCashout)
		if err != nil {
			return Failure(err), err
		}
		return ActionResponse{
			Success: true,
			Message: "bet placed",
			RoundID: bet.RoundID,
			BetID:   bet.ID.String(),
			Balance: balance.StringFixed(2),
		}, nil

	case ledger.ActionCashOut:
		betID, err := parseBetID(req.BetID)
		if err != nil {
			return Failure(err), err
		}
		bet, balance, err := m.CashOut(ctx, req.PlayerID, betID)
		if err != nil {
			return Failure(err), err
		}
		return ActionResponse{
			Success:    true,
			Message:    "cashed out at " + bet.CashoutMultiplier.StringFixed(2) + "x",
			RoundID:    bet.RoundID,
			BetID:      bet.ID.String(),
			Multiplier: bet.CashoutMultiplier.StringFixed(2),
			Payout:     bet.Payout.StringFixed(2),
			Balance:    balance.StringFixed(2),
		}, nil

	case ledger.ActionInsure:
		betID, err := parseBetID(req.BetID)
		if err != nil {
			return Failure(err), err
		}
		policy, balance, err := m.PurchaseInsurance(ctx, req.PlayerID, betID, req.Tier)
		if err != nil {
			return Failure(err), err
		}
		return ActionResponse{
			Success:  true,
			Message:  policy.Tier + " insurance purchased",
			RoundID:  policy.RoundID,
			BetID:    policy.BetID.String(),
			PolicyID: policy.ID.String(),
			Premium:  policy.Premium.StringFixed(2),
			Balance:  balance.StringFixed(2),
		}, nil
	}

	err := apperr.New(apperr.CodeInvalidArgument, "unknown action "+req.Action)
	return Failure(err), err
}

func parseBetID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.CodeInvalidArgument, "invalid bet id")
	}
	return id, nil
}

// CurrentRound returns the public view of the current round, or nil before
// the first round opens.
func (m *Manager) CurrentRound() *Round {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.currentRound == nil {
		return nil
	}
	return m.currentRound.Public()
}

// Snapshot describes the current round for a newly connected observer.
func (m *Manager) Snapshot() Event {
	now := m.clock()
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.currentRound == nil {
		return Event{Type: EventInitialState, Phase: PhasePending, Multiplier: 1, Integrity: IntegrityOK, At: now}
	}
	r := m.currentRound
	ev := m.eventLocked(EventInitialState, now)
	ev.ServerSeedHash = r.ServerSeedHash
	ev.ClientSeed = r.ClientSeed
	ev.Nonce = r.Nonce
	ev.Edge = r.Edge
	if r.Phase == PhaseBetting {
		ends := r.BettingEndsAt
		ev.BettingEndsAt = &ends
		m.withLimits(&ev)
	}
	if r.Phase == PhaseCrashed || r.Phase == PhaseSettled {
		ev.CrashPoint = r.CrashPoint
	}
	return ev
}

// Round returns the public view of an archived round.
func (m *Manager) Round(ctx context.Context, id int64) (*Round, error) {
	r, err := m.rounds.Round(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("load round", err)
	}
	return r.Public(), nil
}

func (m *Manager) RecentRounds(ctx context.Context, limit int) ([]*Round, error) {
	rounds, err := m.rounds.RecentRounds(ctx, limit)
	if err != nil {
		return nil, apperr.Persistence("list rounds", err)
	}
	out := make([]*Round, len(rounds))
	for i, r := range rounds {
		out[i] = r.Public()
	}
	return out, nil
}

// Multiplier returns the displayed multiplier of the current round.
func (m *Manager) Multiplier() decimal.Decimal {
	now := m.clock()
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.multiplierLocked(now)
}

func (m *Manager) multiplierLocked(at time.Time) decimal.Decimal {
	r := m.currentRound
	if r == nil {
		return decimal.NewFromInt(1)
	}
	switch r.Phase {
	case PhaseRunning:
		if !at.Before(m.crashAt) {
			return decimal.NewFromFloat(m.commitment.CrashPoint())
		}
		return m.cfg.Curve.At(at.Sub(r.StartedAt))
	case PhaseCrashed, PhaseSettled:
		return decimal.NewFromFloat(r.CrashPoint)
	default:
		return decimal.NewFromInt(1)
	}
}

// eventLocked builds the common part of an event. stateMutex must be held.
func (m *Manager) eventLocked(t EventType, at time.Time) Event {
	r := m.currentRound
	integrity := IntegrityOK
	if r.NeedsReconciliation {
		integrity = IntegrityDegraded
	}
	return Event{
		Type:          t,
		RoundID:       r.ID,
		Phase:         r.Phase,
		Multiplier:    m.multiplierLocked(at).InexactFloat64(),
		Integrity:     integrity,
		ActivePlayers: m.activePlayers(),
		At:            at,
	}
}

func (m *Manager) publishCashout(bet *ledger.Bet, auto bool) {
	m.stateMutex.RLock()
	ev := m.eventLocked(EventCashout, bet.SettledAt)
	m.stateMutex.RUnlock()
	ev.RoundID = bet.RoundID
	ev.Multiplier = bet.CashoutMultiplier.InexactFloat64()
	ev.PlayerID = bet.PlayerID
	ev.BetID = bet.ID.String()
	ev.Amount = bet.Amount.StringFixed(2)
	ev.Payout = bet.Payout.StringFixed(2)
	ev.Auto = auto
	m.publish(ev)
}

func (m *Manager) publish(ev Event) {
	for _, p := range m.publishers {
		p.Publish(ev)
	}
}

// persist writes a round snapshot. A failure is logged and flags the round;
// it never stops the round.
func (m *Manager) persist(ctx context.Context, r *Round) {
	if err := m.rounds.SaveRound(ctx, r); err != nil {
		m.log.Error("persist round failed",
			zap.Int64("round_id", r.ID),
			zap.String("phase", string(r.Phase)),
			zap.Error(err))
		m.flagReconciliation()
	}
}

func (m *Manager) flagReconciliation() {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	if m.currentRound != nil {
		m.currentRound.NeedsReconciliation = true
	}
}

func (m *Manager) currentRoundID() int64 {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.currentRound == nil {
		return 0
	}
	return m.currentRound.ID
}

func (m *Manager) trackBet(bet *ledger.Bet) {
	if bet.RoundID != m.currentRoundID() {
		return
	}
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	b := &openBet{id: bet.ID, playerID: bet.PlayerID, roundID: bet.RoundID, amount: bet.Amount, target: decimal.Zero}
	if bet.HasAutoCashout() {
		b.target = bet.AutoCashout
	}
	m.open[bet.ID] = b
	m.wagered = m.wagered.Add(bet.Amount)
}

func (m *Manager) closeBet(id uuid.UUID) {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	delete(m.open, id)
}

func (m *Manager) resetBets() {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	m.open = make(map[uuid.UUID]*openBet)
	m.wagered = decimal.Zero
}

func (m *Manager) wageredInMemory() decimal.Decimal {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	return m.wagered
}

// ActiveBets lists the unsettled bets of the current round by bet id.
func (m *Manager) ActiveBets() []ActiveBet {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	out := make([]ActiveBet, 0, len(m.open))
	for _, b := range m.open {
		out = append(out, ActiveBet{BetID: b.id.String(), PlayerID: b.playerID, Amount: b.amount.StringFixed(2)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetID < out[j].BetID })
	return out
}

// InsuranceTiers lists the offered tiers, cheapest first.
func (m *Manager) InsuranceTiers() []insurance.Tier {
	return m.insurance.Tiers().Sorted()
}

func (m *Manager) withLimits(ev *Event) {
	limits := m.ledger.Limits()
	ev.MinBet = limits.MinBet.StringFixed(2)
	ev.MaxBet = limits.MaxBet.StringFixed(2)
}

// activePlayers counts players holding an unsettled bet.
func (m *Manager) activePlayers() int {
	m.betsMutex.Lock()
	defer m.betsMutex.Unlock()
	seen := make(map[string]struct{}, len(m.open))
	for _, b := range m.open {
		seen[b.playerID] = struct{}{}
	}
	return len(seen)
}
