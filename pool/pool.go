// Package pool models the external USN/USDT stable pool the contract moves
// reserve liquidity into: pool metadata, deposit bookkeeping payloads and the
// amount ordering the pool expects.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// MinimumWholeDeposit is the smallest liquidity transfer, in whole
	// dollars.
	MinimumWholeDeposit uint64 = 1_000_000
	// USDTDecimals is the precision of the paired stable token.
	USDTDecimals uint8 = 6
)

var (
	// ErrUnexpectedToken means the pool lists a token the transfer cannot
	// supply.
	ErrUnexpectedToken = errors.New("usn: unexpected token in the pool")
	// ErrMinimumDeposit rejects transfers below MinimumWholeDeposit.
	ErrMinimumDeposit = fmt.Errorf("usn: the minimum deposit: $%d", MinimumWholeDeposit)
)

// Config locates the external pool.
type Config struct {
	RefAccount   string
	USDTAccount  string
	StablePoolID uint64
}

// Validate checks the pool endpoints are configured.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RefAccount) == "" {
		return errors.New("usn: pool account required")
	}
	if strings.TrimSpace(c.USDTAccount) == "" {
		return errors.New("usn: usdt account required")
	}
	return nil
}

// StablePoolInfo mirrors the pool's metadata payload.
type StablePoolInfo struct {
	TokenAccountIDs   []string `json:"token_account_ids"`
	Decimals          []uint8  `json:"decimals"`
	Amounts           []string `json:"amounts"`
	CAmounts          []string `json:"c_amounts"`
	TotalFee          uint32   `json:"total_fee"`
	SharesTotalSupply string   `json:"shares_total_supply"`
	Amp               uint64   `json:"amp"`
}

// ExtendDecimals scales a whole amount to the given token precision.
func ExtendDecimals(whole uint64, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, new(big.Int).SetUint64(whole))
}

// OrderTokenAmounts arranges the deposit amounts in the sequence the pool
// lists its tokens. Any token outside the USN/USDT pair fails the transfer.
func OrderTokenAmounts(info StablePoolInfo, usnAccount string, usnAmount *big.Int, usdtAccount string, usdtAmount *big.Int) ([]string, error) {
	amounts := make([]string, 0, len(info.TokenAccountIDs))
	for _, tokenID := range info.TokenAccountIDs {
		switch tokenID {
		case usdtAccount:
			amounts = append(amounts, usdtAmount.String())
		case usnAccount:
			amounts = append(amounts, usnAmount.String())
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedToken, tokenID)
		}
	}
	return amounts, nil
}

// ParseDeposit reads one balance out of a deposits payload, zero when absent.
func ParseDeposit(deposits map[string]string, account string) (*big.Int, error) {
	raw, ok := deposits[account]
	if !ok || strings.TrimSpace(raw) == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("usn: invalid deposit amount %q for %s", raw, account)
	}
	return amount, nil
}
