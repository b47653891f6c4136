package game

import (
	"time"

	"github.com/shopspring/decimal"

	"crash/internal/apperr"
)

// Phase is a round's lifecycle phase. Rounds only ever advance by one step.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseBetting Phase = "betting"
	PhaseRunning Phase = "running"
	PhaseCrashed Phase = "crashed"
	PhaseSettled Phase = "settled"
)

var phaseOrder = []Phase{PhasePending, PhaseBetting, PhaseRunning, PhaseCrashed, PhaseSettled}

// Next returns the phase after p, or p itself when p is terminal or unknown.
func (p Phase) Next() Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return p
}

// CanAdvanceTo reports whether to is the single step after p.
func (p Phase) CanAdvanceTo(to Phase) bool {
	next := p.Next()
	return next != p && next == to
}

func (p Phase) Valid() bool {
	for _, ph := range phaseOrder {
		if ph == p {
			return true
		}
	}
	return false
}

// Round is the record of one round. ServerSeed is kept for the store and
// only leaves the process through Public once the round has settled.
type Round struct {
	ID             int64           `json:"round_id"`
	Nonce          int64           `json:"nonce"`
	Phase          Phase           `json:"phase"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ServerSeed     string          `json:"server_seed,omitempty"`
	ClientSeed     string          `json:"client_seed"`
	Edge           float64         `json:"edge"`
	CrashPoint     float64         `json:"crash_point,omitempty"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	OpenedAt       time.Time       `json:"opened_at"`
	BettingEndsAt  time.Time       `json:"betting_ends_at"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	CrashedAt      time.Time       `json:"crashed_at,omitempty"`
	SettledAt      time.Time       `json:"settled_at,omitempty"`

	NeedsReconciliation bool `json:"needs_reconciliation"`
}

// advance moves the round to the next phase.
func (r *Round) advance(to Phase) error {
	if !r.Phase.CanAdvanceTo(to) {
		return apperr.New(apperr.CodeInvalidPhase, "cannot move round from "+string(r.Phase)+" to "+string(to))
	}
	r.Phase = to
	return nil
}

// Public returns a copy safe to show players: the seed is withheld until
// settlement and the crash point until the crash.
func (r *Round) Public() *Round {
	cp := *r
	if r.Phase != PhaseSettled {
		cp.ServerSeed = ""
	}
	if r.Phase != PhaseCrashed && r.Phase != PhaseSettled {
		cp.CrashPoint = 0
	}
	return &cp
}

// Integrity values carried by every event.
const (
	IntegrityOK       = "ok"
	IntegrityDegraded = "degraded"
)

// Tags for notable crash points.
const (
	TagInstantCrash = "instant_crash"
	TagMoonshot     = "moonshot"
)

func tagFor(crashPoint float64) string {
	switch {
	case crashPoint <= 1:
		return TagInstantCrash
	case crashPoint >= 10:
		return TagMoonshot
	default:
		return ""
	}
}

type EventType string

const (
	EventRoundOpen          EventType = "round_open"
	EventRoundRunning       EventType = "round_running"
	EventMultiplierUpdate   EventType = "multiplier_update"
	EventBetPlaced          EventType = "bet_placed"
	EventCashout            EventType = "cashout"
	EventInsurancePurchased EventType = "insurance_purchased"
	EventCrash              EventType = "crash"
	EventRoundSettled       EventType = "round_settled"
	EventInitialState       EventType = "initial_state"
)

// Event is one outbound message to observers.
type Event struct {
	Type          EventType `json:"type"`
	RoundID       int64     `json:"round_id"`
	Phase         Phase     `json:"phase"`
	Multiplier    float64   `json:"multiplier"`
	Integrity     string    `json:"integrity"`
	ActivePlayers int       `json:"active_players"`
	Tag           string    `json:"tag,omitempty"`
	At            time.Time `json:"at"`

	ServerSeedHash string     `json:"server_seed_hash,omitempty"`
	ServerSeed     string     `json:"server_seed,omitempty"`
	ClientSeed     string     `json:"client_seed,omitempty"`
	Nonce          int64      `json:"nonce,omitempty"`
	Edge           float64    `json:"edge,omitempty"`
	CrashPoint     float64    `json:"crash_point,omitempty"`
	BettingEndsAt  *time.Time `json:"betting_ends_at,omitempty"`
	TotalWagered   string     `json:"total_wagered,omitempty"`
	MinBet         string     `json:"min_bet,omitempty"`
	MaxBet         string     `json:"max_bet,omitempty"`

	Bets []ActiveBet `json:"bets,omitempty"`

	PlayerID string `json:"player_id,omitempty"`
	BetID    string `json:"bet_id,omitempty"`
	PolicyID string `json:"policy_id,omitempty"`
	Tier     string `json:"tier,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Payout   string `json:"payout,omitempty"`
	Auto     bool   `json:"auto,omitempty"`
}

// Publisher receives every event the engine emits. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// ActionRequest is an inbound player action, from REST or the websocket.
// ActiveBet is a bet of the current round that has not settled yet.
type ActiveBet struct {
	BetID    string `json:"bet_id"`
	PlayerID string `json:"player_id"`
	Amount   string `json:"amount"`
}

type ActionRequest struct {
	PlayerID    string          `json:"player_id"`
	Action      string          `json:"action"`
	Amount      decimal.Decimal `json:"amount"`
	RoundID     int64           `json:"round_id"`
	BetID       string          `json:"bet_id"`
	Tier        string          `json:"tier"`
	AutoCashout decimal.Decimal `json:"auto_cashout"`
}

type ActionResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	RoundID    int64  `json:"round_id,omitempty"`
	BetID      string `json:"bet_id,omitempty"`
	PolicyID   string `json:"policy_id,omitempty"`
	Multiplier string `json:"multiplier,omitempty"`
	Payout     string `json:"payout,omitempty"`
	Premium    string `json:"premium,omitempty"`
	Balance    string `json:"balance,omitempty"`
}

// Failure builds the response for a rejected action. Persistence faults
// are reported with a generic message.
func Failure(err error) ActionResponse {
	e := apperr.As(err)
	msg := e.Error()
	if e.Internal() {
		msg = "internal error"
	}
	return ActionResponse{Success: false, Code: string(e.Code), Message: msg}
}
