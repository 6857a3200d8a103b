package exchange

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxSpreadPpm caps the fixed spread at 5%.
const MaxSpreadPpm = 50_000

// ErrInvalidConfiguration indicates a spread configuration violating its
// invariants. Validation happens before any state write, so a rejected
// configuration leaves the previous one intact.
var ErrInvalidConfiguration = errors.New("usn: invalid spread configuration")

// SpreadKind tags the two supported spread policies.
type SpreadKind uint8

const (
	// SpreadFixed charges a constant parts-per-million rate.
	SpreadFixed SpreadKind = iota
	// SpreadAdaptive charges an exponential volume-decay rate bounded to
	// [Min, Max].
	SpreadAdaptive
)

// AdaptiveSpreadParams are the operator-facing adaptive curve inputs. They are
// validated and converted to exact rationals once, at configuration time; the
// floats never reach the conversion path.
type AdaptiveSpreadParams struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Scaler float64 `json:"scaler"`
}

// SpreadConfig is a closed tagged union over the two spread policies.
type SpreadConfig struct {
	Kind    SpreadKind
	RatePpm uint64
	Min     *big.Rat
	Max     *big.Rat
	Scaler  *big.Rat
}

// NewFixedSpread validates and constructs a constant spread configuration.
func NewFixedSpread(ratePpm uint64) (SpreadConfig, error) {
	if ratePpm > MaxSpreadPpm {
		return SpreadConfig{}, fmt.Errorf("%w: spread limit is %d%%", ErrInvalidConfiguration, MaxSpreadPpm*100/spreadDenominator)
	}
	return SpreadConfig{Kind: SpreadFixed, RatePpm: ratePpm}, nil
}

// NewAdaptiveSpread validates the curve bounds and converts them to rationals.
// Invariants: 0 < min < max < 0.05 and 0 <= scaler < 0.4. Violations are
// rejected atomically with the bound named in the error.
func NewAdaptiveSpread(params AdaptiveSpreadParams) (SpreadConfig, error) {
	minRat := new(big.Rat).SetFloat64(params.Min)
	maxRat := new(big.Rat).SetFloat64(params.Max)
	scalerRat := new(big.Rat).SetFloat64(params.Scaler)
	if minRat == nil || maxRat == nil || scalerRat == nil {
		return SpreadConfig{}, fmt.Errorf("%w: parameters must be finite", ErrInvalidConfiguration)
	}
	limit := big.NewRat(5, 100)
	if minRat.Sign() <= 0 {
		return SpreadConfig{}, fmt.Errorf("%w: min must be positive", ErrInvalidConfiguration)
	}
	if minRat.Cmp(limit) >= 0 {
		return SpreadConfig{}, fmt.Errorf("%w: min must be less than 0.05", ErrInvalidConfiguration)
	}
	if minRat.Cmp(maxRat) >= 0 {
		return SpreadConfig{}, fmt.Errorf("%w: min must be less than max", ErrInvalidConfiguration)
	}
	if maxRat.Cmp(limit) >= 0 {
		return SpreadConfig{}, fmt.Errorf("%w: max must be less than 0.05", ErrInvalidConfiguration)
	}
	if scalerRat.Sign() < 0 {
		return SpreadConfig{}, fmt.Errorf("%w: scaler must be non-negative", ErrInvalidConfiguration)
	}
	if scalerRat.Cmp(big.NewRat(4, 10)) >= 0 {
		return SpreadConfig{}, fmt.Errorf("%w: scaler must be less than 0.4", ErrInvalidConfiguration)
	}
	return SpreadConfig{Kind: SpreadAdaptive, Min: minRat, Max: maxRat, Scaler: scalerRat}, nil
}

// DefaultAdaptiveSpread returns the curve the contract ships with:
// 0.5% on small trades decaying to 0.1% at ten million whole tokens.
func DefaultAdaptiveSpread() SpreadConfig {
	cfg, err := NewAdaptiveSpread(AdaptiveSpreadParams{Min: 0.001, Max: 0.005, Scaler: 0.0000075})
	if err != nil {
		panic(err)
	}
	return cfg
}

// Clone returns a deep copy of the configuration.
func (c SpreadConfig) Clone() SpreadConfig {
	clone := SpreadConfig{Kind: c.Kind, RatePpm: c.RatePpm}
	if c.Min != nil {
		clone.Min = new(big.Rat).Set(c.Min)
	}
	if c.Max != nil {
		clone.Max = new(big.Rat).Set(c.Max)
	}
	if c.Scaler != nil {
		clone.Scaler = new(big.Rat).Set(c.Scaler)
	}
	return clone
}

// normalizedVolume drops the token decimals and caps the trade size at ten
// million whole tokens, the saturation point of the curve.
func normalizedVolume(amount *big.Int) int64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	decimals := new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)
	whole := new(big.Int).Quo(amount, decimals)
	saturation := big.NewInt(10_000_000)
	if whole.Cmp(saturation) > 0 {
		return saturation.Int64()
	}
	return whole.Int64()
}

// Ppm returns the spread for the given trade size in parts per million.
// The fixed policy ignores the amount; the adaptive policy evaluates
// min + (max-min)*e^(-scaler*v) with exact rational arithmetic, rounds
// half-up to ppm and clamps to [min, max].
func (c SpreadConfig) Ppm(amount *big.Int) uint64 {
	if c.Kind == SpreadFixed {
		return c.RatePpm
	}
	if c.Min == nil || c.Max == nil || c.Scaler == nil {
		return 0
	}
	volume := normalizedVolume(amount)
	exponent := new(big.Rat).Mul(c.Scaler, big.NewRat(volume, 1))
	decay := expNeg(exponent)
	span := new(big.Rat).Sub(c.Max, c.Min)
	spread := new(big.Rat).Add(c.Min, span.Mul(span, decay))
	ppm := ratToPpm(spread)
	lo, hi := ratToPpm(c.Min), ratToPpm(c.Max)
	if ppm < lo {
		return lo
	}
	if ppm > hi {
		return hi
	}
	return ppm
}

// ratToPpm scales a fraction to parts per million, rounding half-up.
func ratToPpm(value *big.Rat) uint64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(value, big.NewRat(spreadDenominator, 1))
	num := new(big.Int).Mul(scaled.Num(), big.NewInt(2))
	num.Add(num, scaled.Denom())
	den := new(big.Int).Mul(scaled.Denom(), big.NewInt(2))
	return new(big.Int).Quo(num, den).Uint64()
}

// expNegCutoff bounds the Taylor evaluation: beyond it e^-t is far below the
// ppm resolution, so the curve has fully decayed to min.
var expNegCutoff = big.NewRat(30, 1)

// expNeg evaluates e^-t for t >= 0 deterministically: e^t by Taylor series in
// exact rational arithmetic, inverted. No floating point is involved.
func expNeg(t *big.Rat) *big.Rat {
	if t == nil || t.Sign() <= 0 {
		return big.NewRat(1, 1)
	}
	if t.Cmp(expNegCutoff) > 0 {
		return new(big.Rat)
	}
	sum := big.NewRat(1, 1)
	term := big.NewRat(1, 1)
	epsilon := big.NewRat(1, 1_000_000_000_000)
	for k := int64(1); k <= 160; k++ {
		term.Mul(term, t)
		term.Quo(term, big.NewRat(k, 1))
		sum.Add(sum, term)
		if term.Cmp(epsilon) < 0 {
			break
		}
	}
	return new(big.Rat).Inv(sum)
}
