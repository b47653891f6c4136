package game

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultGrowthRate makes the multiplier grow by e^0.06 ≈ 6.18% per second.
const DefaultGrowthRate = 0.06

// Curve is the published multiplier curve m(t) = e^(rate·t). It is a pure
// function of elapsed running time, so the tick interval only changes how
// often it is sampled.
type Curve struct {
	Rate float64
}

// At returns the multiplier after elapsed running time, floored to two
// decimals. That is the value displayed and paid.
func (c Curve) At(elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.NewFromInt(1)
	}
	return floor2(math.Exp(c.rate() * elapsed.Seconds()))
}

// Reach returns how long after the start of the running phase the curve
// reaches target.
func (c Curve) Reach(target float64) time.Duration {
	if target <= 1 {
		return 0
	}
	secs := math.Log(target) / c.rate()
	return time.Duration(secs * float64(time.Second))
}

// GrowthPerSecond is the factor the multiplier grows by every second.
func (c Curve) GrowthPerSecond() float64 {
	return math.Exp(c.rate())
}

func (c Curve) rate() float64 {
	if c.Rate <= 0 {
		return DefaultGrowthRate
	}
	return c.Rate
}

func floor2(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Truncate(2)
}
