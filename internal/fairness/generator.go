package fairness

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"crash/internal/apperr"
)

// Shaping maps the stake volume of the previous round onto the edge of the
// next one. Higher volume skews the curve toward earlier crashes, never
// beyond Ceiling.
type Shaping struct {
	Floor     float64
	Ceiling   float64
	VolumeCap float64
}

func DefaultShaping() Shaping {
	return Shaping{Floor: 0.75, Ceiling: 0.95, VolumeCap: 100000}
}

func (s Shaping) EdgeFor(volume decimal.Decimal) Edge {
	v := volume.InexactFloat64()
	if v <= 0 || s.VolumeCap <= 0 {
		return Edge(s.Floor)
	}
	share := v / s.VolumeCap
	if share > 1 {
		share = 1
	}
	return Edge(s.Floor + (s.Ceiling-s.Floor)*share)
}

// Commitment is the fairness state of a single round. The server seed and
// crash point stay private until Close is called.
type Commitment struct {
	Nonce          int64
	ServerSeedHash string
	ClientSeed     string
	Edge           Edge

	serverSeed string
	crashPoint float64
	closed     atomic.Bool
}

// CrashPoint returns the precomputed crash point. It is fixed at OpenRound
// and never recomputed.
func (c *Commitment) CrashPoint() float64 {
	return c.crashPoint
}

// Close marks the round as crashed, which permits RevealSeed.
func (c *Commitment) Close() {
	c.closed.Store(true)
}

// RevealSeed returns the server seed once the round has crashed.
func (c *Commitment) RevealSeed() (string, error) {
	if !c.closed.Load() {
		return "", apperr.New(apperr.CodeInvalidPhase, "server seed is sealed until the round crashes")
	}
	return c.serverSeed, nil
}

// Generator issues commitments with strictly increasing nonces.
type Generator struct {
	mu         sync.Mutex
	nonce      int64
	clientSeed string
	shaping    Shaping
	seeds      func() (string, error)
}

type Option func(*Generator)

// WithSeedSource replaces the random server-seed source.
func WithSeedSource(fn func() (string, error)) Option {
	return func(g *Generator) {
		g.seeds = fn
	}
}

// NewGenerator creates a generator whose first round uses lastNonce+1.
func NewGenerator(clientSeed string, shaping Shaping, lastNonce int64, opts ...Option) *Generator {
	g := &Generator{
		nonce:      lastNonce,
		clientSeed: clientSeed,
		shaping:    shaping,
		seeds:      GenerateSeed,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OpenRound generates a fresh server seed and derives the round's crash
// point. Only the hash, nonce, client seed and edge are public. A nonce is
// consumed even when seed generation fails, so it can never be reused.
func (g *Generator) OpenRound(previousVolume decimal.Decimal) (*Commitment, error) {
	g.mu.Lock()
	g.nonce++
	nonce := g.nonce
	g.mu.Unlock()

	seed, err := g.seeds()
	if err != nil {
		return nil, err
	}
	edge := g.shaping.EdgeFor(previousVolume)

	return &Commitment{
		Nonce:          nonce,
		ServerSeedHash: HashSeed(seed),
		ClientSeed:     g.clientSeed,
		Edge:           edge,
		serverSeed:     seed,
		crashPoint:     DeriveCrashPoint(seed, g.clientSeed, nonce, edge),
	}, nil
}

// LastNonce returns the most recently issued nonce.
func (g *Generator) LastNonce() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nonce
}
