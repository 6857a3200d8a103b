package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"usnd/exchange"
	"usnd/host"
	"usnd/pool"
	"usnd/token"
)

// ErrLiquidityInterrupted means a deposit-check promise in the liquidity
// chain never settled with a payload.
var ErrLiquidityInterrupted = errors.New("usn: liquidity transfer interrupted")

type ftTransferCallArgs struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo,omitempty"`
	Msg        string `json:"msg"`
}

type getDepositsArgs struct {
	AccountID string `json:"account_id"`
}

type getStablePoolArgs struct {
	PoolID uint64 `json:"pool_id"`
}

type addStableLiquidityArgs struct {
	PoolID    uint64   `json:"pool_id"`
	Amounts   []string `json:"amounts"`
	MinShares string   `json:"min_shares"`
}

// StablePoolID reports the configured external pool identifier.
func (c *Contract) StablePoolID() uint64 { return c.pool.StablePoolID }

// TransferStableLiquidity moves whole dollars of USN/USDT liquidity into the
// external stable pool. Owner only. The first attached yocto pays for the
// USDT transfer, the remainder rides on the final liquidity deposit. A USN
// shortfall on the contract account is minted before the transfer; the pool
// deposits are double-checked before committing liquidity.
func (c *Contract) TransferStableLiquidity(env *host.Env, wholeAmount uint64) (host.PromiseID, error) {
	state, err := c.loadState()
	if err != nil {
		return host.PromiseID{}, err
	}
	if err := requireWorking(state); err != nil {
		return host.PromiseID{}, err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return host.PromiseID{}, err
	}
	attached := env.AttachedDeposit()
	if attached.Sign() <= 0 {
		return host.PromiseID{}, fmt.Errorf("usn: requires attached deposit of at least 1 yoctoNEAR")
	}
	if wholeAmount < pool.MinimumWholeDeposit {
		return host.PromiseID{}, pool.ErrMinimumDeposit
	}
	if err := c.pool.Validate(); err != nil {
		return host.PromiseID{}, err
	}

	registered, err := c.ledger.Registered(c.pool.RefAccount)
	if err != nil {
		return host.PromiseID{}, err
	}
	if !registered {
		return host.PromiseID{}, fmt.Errorf("%w: %s", token.ErrNotRegistered, c.pool.RefAccount)
	}

	usnAmount := pool.ExtendDecimals(wholeAmount, exchange.TokenDecimals)
	usdtAmount := pool.ExtendDecimals(wholeAmount, pool.USDTDecimals)

	// Mint the shortfall so the contract account can fund its side.
	balance, err := c.ledger.BalanceOf(c.account)
	if err != nil {
		return host.PromiseID{}, err
	}
	if balance.Cmp(usnAmount) < 0 {
		shortfall := new(big.Int).Sub(usnAmount, balance)
		if err := c.ledger.Mint(c.account, shortfall); err != nil {
			return host.PromiseID{}, err
		}
		emitMint(env, c.account, shortfall, "")
		c.publishSupply()
	}
	if err := c.ledger.Transfer(c.account, c.pool.RefAccount, usnAmount); err != nil {
		return host.PromiseID{}, err
	}
	emitTransfer(env, c.account, c.pool.RefAccount, usnAmount, "")

	usdtArgs, _ := json.Marshal(ftTransferCallArgs{
		ReceiverID: c.pool.RefAccount,
		Amount:     usdtAmount.String(),
		Msg:        "", // empty message == deposit action on the pool
	})
	usdtTransfer := env.Call(c.pool.USDTAccount, "ft_transfer_call", usdtArgs, oneYocto)

	depositArgs, _ := json.Marshal(getDepositsArgs{AccountID: c.account})
	deposits := env.CallAfter([]host.PromiseID{usdtTransfer}, c.pool.RefAccount, "get_deposits", depositArgs, nil)

	poolArgs, _ := json.Marshal(getStablePoolArgs{PoolID: c.pool.StablePoolID})
	poolInfo := env.Call(c.pool.RefAccount, "get_stable_pool", poolArgs, nil)

	remainder := new(big.Int).Sub(attached, oneYocto)
	id := env.Then([]host.PromiseID{deposits, poolInfo}, func(cb *host.Env, results []host.PromiseResult) ([]byte, error) {
		return c.handleDepositThenAddLiquidity(cb, usnAmount, usdtAmount, remainder, results)
	})
	c.logger.Info("liquidity transfer scheduled",
		"whole_amount", wholeAmount, "pool_id", c.pool.StablePoolID)
	return id, nil
}

func (c *Contract) handleDepositThenAddLiquidity(env *host.Env, usnAmount, usdtAmount, attachRemainder *big.Int, results []host.PromiseResult) ([]byte, error) {
	if len(results) != 2 || !results[0].OK || !results[1].OK {
		return nil, ErrLiquidityInterrupted
	}
	var deposits map[string]string
	if err := json.Unmarshal(results[0].Value, &deposits); err != nil {
		return nil, fmt.Errorf("usn: malformed deposits payload: %w", err)
	}
	var info pool.StablePoolInfo
	if err := json.Unmarshal(results[1].Value, &info); err != nil {
		return nil, fmt.Errorf("usn: malformed pool payload: %w", err)
	}

	usdtDeposit, err := pool.ParseDeposit(deposits, c.pool.USDTAccount)
	if err != nil {
		return nil, err
	}
	usnDeposit, err := pool.ParseDeposit(deposits, c.account)
	if err != nil {
		return nil, err
	}
	if usdtDeposit.Cmp(usdtAmount) < 0 {
		return nil, fmt.Errorf("usn: not enough USDT: %s < %s", usdtDeposit, usdtAmount)
	}
	if usnDeposit.Cmp(usnAmount) < 0 {
		return nil, fmt.Errorf("usn: not enough USN: %s < %s", usnDeposit, usnAmount)
	}

	amounts, err := pool.OrderTokenAmounts(info, c.account, usnAmount, c.pool.USDTAccount, usdtAmount)
	if err != nil {
		return nil, err
	}
	args, _ := json.Marshal(addStableLiquidityArgs{
		PoolID:    c.pool.StablePoolID,
		Amounts:   amounts,
		MinShares: "0",
	})
	env.Call(c.pool.RefAccount, "add_stable_liquidity", args, attachRemainder)
	return nil, nil
}
