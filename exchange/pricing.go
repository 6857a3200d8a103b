package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"usnd/oracle"
)

const (
	// TokenDecimals is the fixed precision of the minted token.
	TokenDecimals = 18
	// SpreadDecimals defines the parts-per-million spread denomination.
	SpreadDecimals = 6
)

// spreadDenominator is 10^SpreadDecimals.
const spreadDenominator = 1_000_000

var (
	// ErrZeroConversion indicates the attached value converts to zero token
	// units after fees, which is rejected rather than silently accepted.
	ErrZeroConversion = errors.New("usn: attached deposit exchanges to 0 tokens")
	// ErrSlippage indicates the live rate fell outside the caller's bound.
	ErrSlippage = errors.New("usn: slippage error")
	// ErrRateDecimals indicates an oracle rate with fewer decimals than the token.
	ErrRateDecimals = errors.New("usn: rate decimals below token precision")
	// ErrAmountOverflow indicates an amount outside the 256-bit working range.
	ErrAmountOverflow = errors.New("usn: amount overflow")
)

// ExpectedRate is the caller-supplied slippage bound: the live multiplier must
// stay within Multiplier +/- Slippage and carry the same decimals.
type ExpectedRate struct {
	Multiplier *big.Int `json:"multiplier"`
	Slippage   *big.Int `json:"slippage"`
	Decimals   uint8    `json:"decimals"`
}

// CheckSlippage verifies the live rate against the caller's expectation.
func CheckSlippage(actual oracle.ExchangeRate, expected ExpectedRate) error {
	if expected.Multiplier == nil {
		return fmt.Errorf("%w: expected multiplier required", ErrSlippage)
	}
	if actual.Decimals != expected.Decimals {
		return fmt.Errorf("%w: different decimals", ErrSlippage)
	}
	slippage := expected.Slippage
	if slippage == nil {
		slippage = big.NewInt(0)
	}
	start := new(big.Int).Sub(expected.Multiplier, slippage)
	if start.Sign() < 0 {
		start.SetInt64(0)
	}
	end := new(big.Int).Add(expected.Multiplier, slippage)
	if actual.Multiplier.Cmp(start) < 0 || actual.Multiplier.Cmp(end) > 0 {
		return fmt.Errorf("%w: fresh exchange rate %s is out of expected range %s +/- %s",
			ErrSlippage, actual.Multiplier, expected.Multiplier, slippage)
	}
	return nil
}

func toU256(value *big.Int) (*uint256.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, ErrAmountOverflow
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return out, nil
}

// rateScale returns 10^(rate.Decimals - TokenDecimals), the factor between the
// oracle mantissa precision and the token precision.
func rateScale(rate oracle.ExchangeRate) (*uint256.Int, error) {
	if rate.Decimals < TokenDecimals {
		return nil, ErrRateDecimals
	}
	scale := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < rate.Decimals-TokenDecimals; i++ {
		scale.Mul(scale, ten)
	}
	return scale, nil
}

// ReserveToTokens converts an attached reserve amount into gross token units
// at the oracle rate, truncating toward zero in the contract's favour.
func ReserveToTokens(reserve *big.Int, rate oracle.ExchangeRate) (*big.Int, error) {
	amount, err := toU256(reserve)
	if err != nil {
		return nil, err
	}
	multiplier, err := toU256(rate.Multiplier)
	if err != nil {
		return nil, err
	}
	scale, err := rateScale(rate)
	if err != nil {
		return nil, err
	}
	product := new(uint256.Int).Mul(amount, multiplier)
	return product.Div(product, scale).ToBig(), nil
}

// ApplyBuySpread removes the spread from a gross token amount:
// net = gross * (D - spread) / D, truncating toward zero.
func ApplyBuySpread(gross *big.Int, spreadPpm uint64) (*big.Int, error) {
	amount, err := toU256(gross)
	if err != nil {
		return nil, err
	}
	if spreadPpm >= spreadDenominator {
		return nil, fmt.Errorf("usn: spread %d out of range", spreadPpm)
	}
	multiplier := uint256.NewInt(spreadDenominator - spreadPpm)
	product := new(uint256.Int).Mul(amount, multiplier)
	return product.Div(product, uint256.NewInt(spreadDenominator)).ToBig(), nil
}

// TokensToReserve converts a token amount back into reserve units, charging
// the spread against the caller on the reverse leg:
// reserve = tokens * 10^(dec-18) * D / (multiplier * (D + spread)),
// computed with a 256-bit intermediate and a single truncating division.
func TokensToReserve(tokens *big.Int, spreadPpm uint64, rate oracle.ExchangeRate) (*big.Int, error) {
	amount, err := toU256(tokens)
	if err != nil {
		return nil, err
	}
	multiplier, err := toU256(rate.Multiplier)
	if err != nil {
		return nil, err
	}
	if multiplier.IsZero() {
		return nil, fmt.Errorf("usn: rate multiplier must be positive")
	}
	scale, err := rateScale(rate)
	if err != nil {
		return nil, err
	}
	numerator := new(uint256.Int).Mul(amount, scale)
	numerator.Mul(numerator, uint256.NewInt(spreadDenominator))
	denominator := new(uint256.Int).Mul(multiplier, uint256.NewInt(spreadDenominator+spreadPpm))
	return numerator.Div(numerator, denominator).ToBig(), nil
}
