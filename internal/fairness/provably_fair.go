// Package fairness implements the provably-fair commitment scheme for crash
// rounds.
//
// A round's server seed is generated and hashed when the round opens; only
// the hash is published. The crash point is a pure function of the server
// seed, the client seed, the round nonce and the published edge. After the
// round crashes the seed is revealed so that anyone can recompute both the
// hash and the crash point.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

const (
	MinMultiplier = 1.00
	MaxMultiplier = 1000000.00

	// DefaultEdge applies when no stake volume is known.
	DefaultEdge Edge = 0.75

	uniformBits = 52
)

// Edge is the probability mass of crash points strictly below 2.00x. It is
// the single house-edge parameter of the crash curve and is published with
// the seed hash before any bet is accepted.
type Edge float64

func (e Edge) Valid() bool {
	return e > 0 && e < 1
}

func (e Edge) String() string {
	return strconv.FormatFloat(float64(e), 'f', 4, 64)
}

// DeriveCrashPoint is the only crash-point algorithm in the system. The
// verification endpoint and the round engine both call it.
//
//	h     = HMAC-SHA256(key=serverSeed, msg=clientSeed + "-" + nonce)
//	r     = top 52 bits of h / 2^52
//	crash = 2 ^ (ln(1-r) / ln(1-edge)), floored to two decimals
//
// P(crash < 2.00) equals edge, and a lower r never yields a later crash.
func DeriveCrashPoint(serverSeed, clientSeed string, nonce int64, edge Edge) float64 {
	return crashFromUniform(uniform(serverSeed, clientSeed, nonce), edge)
}

func uniform(serverSeed, clientSeed string, nonce int64) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + "-" + strconv.FormatInt(nonce, 10)))
	sum := mac.Sum(nil)

	v := binary.BigEndian.Uint64(sum[:8]) >> (64 - uniformBits)
	return float64(v) / float64(uint64(1)<<uniformBits)
}

func crashFromUniform(r float64, edge Edge) float64 {
	if !edge.Valid() {
		edge = DefaultEdge
	}
	crash := math.Pow(2, math.Log(1-r)/math.Log(1-float64(edge)))
	crash = math.Floor(crash*100) / 100

	if crash < MinMultiplier {
		return MinMultiplier
	}
	if crash > MaxMultiplier {
		return MaxMultiplier
	}
	return crash
}

// GenerateSeed creates a cryptographically secure random seed.
func GenerateSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random seed: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashSeed creates the SHA-256 commitment of a seed.
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifySeed reports whether seed hashes to the published commitment.
func VerifySeed(seed, commitment string) bool {
	return hmac.Equal([]byte(HashSeed(seed)), []byte(commitment))
}

// Verification is the result of recomputing a round from its public inputs.
type Verification struct {
	ServerSeedHash string  `json:"server_seed_hash"`
	CrashPoint     float64 `json:"crash_point"`
	Edge           Edge    `json:"edge"`
}

// Verify recomputes the commitment and the crash point of a revealed round.
func Verify(serverSeed, clientSeed string, nonce int64, edge Edge) Verification {
	if !edge.Valid() {
		edge = DefaultEdge
	}
	return Verification{
		ServerSeedHash: HashSeed(serverSeed),
		CrashPoint:     DeriveCrashPoint(serverSeed, clientSeed, nonce, edge),
		Edge:           edge,
	}
}
