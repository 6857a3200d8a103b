package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"usnd/exchange"
	"usnd/host"
	"usnd/oracle"
	"usnd/token"
)

// ErrOracleFailed marks a price request that never settled with a payload.
var ErrOracleFailed = errors.New("usn: oracle request failed")

type priceRequest struct {
	AssetIDs []string `json:"asset_ids"`
}

func (c *Contract) requestPriceData(env *host.Env) host.PromiseID {
	args, _ := json.Marshal(priceRequest{AssetIDs: []string{c.assetID}})
	return env.Call(c.oracleAccount, "get_price_data", args, nil)
}

// Buy mints tokens against the attached reserve deposit at the oracle price
// minus the spread. Tokens go to the recipient, or to the caller when to is
// empty. The synchronous phase validates and schedules the oracle round
// trip; the commit happens in the private callback once the quote settles.
// Any failure refunds the attached deposit to the caller.
func (c *Contract) Buy(env *host.Env, to string, expected *exchange.ExpectedRate) (host.PromiseID, error) {
	start := time.Now()
	sender := normalizeAccount(env.Predecessor())
	recipient := normalizeAccount(to)
	if recipient == "" {
		recipient = sender
	}
	attached := env.AttachedDeposit()

	refund := func() {
		if attached.Sign() > 0 {
			env.TransferNative(sender, attached)
		}
	}
	state, err := c.loadState()
	if err != nil {
		refund()
		return host.PromiseID{}, err
	}
	if err := requireWorking(state); err != nil {
		refund()
		c.metrics.RecordFailure("buy", "paused")
		return host.PromiseID{}, err
	}
	if err := requireNotBlacklisted(state, sender); err != nil {
		refund()
		c.metrics.RecordFailure("buy", "blacklisted")
		return host.PromiseID{}, err
	}
	if attached.Sign() == 0 {
		c.metrics.RecordFailure("buy", "no_deposit")
		return host.PromiseID{}, fmt.Errorf("usn: requires attached reserve deposit")
	}

	quote := c.requestPriceData(env)
	id := env.Then([]host.PromiseID{quote}, func(cb *host.Env, results []host.PromiseResult) ([]byte, error) {
		return c.buyWithPriceCallback(cb, sender, recipient, attached, expected, results, start)
	})
	return id, nil
}

func (c *Contract) buyWithPriceCallback(env *host.Env, sender, recipient string, attached *big.Int, expected *exchange.ExpectedRate, results []host.PromiseResult, start time.Time) ([]byte, error) {
	fail := func(reason string, refund *big.Int, err error) ([]byte, error) {
		if refund.Sign() > 0 {
			env.TransferNative(sender, refund)
		}
		c.metrics.RecordFailure("buy", reason)
		c.logger.Warn("buy rejected", "account", sender, "reason", reason, "err", err)
		return nil, err
	}

	rate, err := c.rateFromResults(env, results)
	if err != nil {
		reason := "oracle"
		if errors.Is(err, oracle.ErrStalePrice) {
			reason = "stale_price"
		}
		return fail(reason, attached, err)
	}
	if expected != nil {
		if err := exchange.CheckSlippage(rate, *expected); err != nil {
			return fail("slippage", attached, err)
		}
	}

	// Revalidate the lifecycle gate: status or blacklist may have moved
	// between the request and the quote settling.
	state, err := c.loadState()
	if err != nil {
		return fail("state", attached, err)
	}
	if err := requireWorking(state); err != nil {
		return fail("paused", attached, err)
	}
	if err := requireNotBlacklisted(state, sender); err != nil {
		return fail("blacklisted", attached, err)
	}

	// The conversion is validated against the post-storage deposit before
	// any ledger write: a rejected buy leaves the recipient unregistered
	// and refunds the full attachment.
	deposit := new(big.Int).Set(attached)
	registered, err := c.ledger.Registered(recipient)
	if err != nil {
		return fail("ledger", attached, err)
	}
	if !registered {
		if deposit.Cmp(token.MinStorageBalance) <= 0 {
			return fail("storage", attached, fmt.Errorf("%w: requires %s", token.ErrStorageTooLow, token.MinStorageBalance))
		}
		deposit.Sub(deposit, token.MinStorageBalance)
	}

	gross, err := exchange.ReserveToTokens(deposit, rate)
	if err != nil {
		return fail("conversion", attached, err)
	}
	spreadPpm := state.Spread.Ppm(gross)
	net, err := exchange.ApplyBuySpread(gross, spreadPpm)
	if err != nil {
		return fail("conversion", attached, err)
	}
	if net.Sign() == 0 {
		return fail("zero_conversion", attached, exchange.ErrZeroConversion)
	}
	if !registered {
		if _, err := c.ledger.Register(recipient, token.MinStorageBalance); err != nil {
			return fail("ledger", attached, err)
		}
	}
	if err := c.ledger.Mint(recipient, net); err != nil {
		return fail("ledger", attached, err)
	}

	emitMint(env, recipient, net, "")
	c.metrics.RecordOp("buy", time.Since(start))
	c.publishSupply()
	c.logger.Info("tokens minted", "account", recipient, "payer", sender,
		"deposit", deposit.String(), "minted", net.String(), "spread_ppm", spreadPpm)
	return json.Marshal(net.String())
}

// Sell burns the caller's tokens and pays out the reserve amount at the
// oracle price, with the spread charged against the caller. One yocto proof
// of intent required.
func (c *Contract) Sell(env *host.Env, amount *big.Int, expected *exchange.ExpectedRate) (host.PromiseID, error) {
	start := time.Now()
	sender := normalizeAccount(env.Predecessor())
	attached := env.AttachedDeposit()

	refund := func() {
		if attached.Sign() > 0 {
			env.TransferNative(sender, attached)
		}
	}
	if err := requireOneYocto(env); err != nil {
		refund()
		return host.PromiseID{}, err
	}
	state, err := c.loadState()
	if err != nil {
		refund()
		return host.PromiseID{}, err
	}
	if err := requireWorking(state); err != nil {
		refund()
		c.metrics.RecordFailure("sell", "paused")
		return host.PromiseID{}, err
	}
	if err := requireNotBlacklisted(state, sender); err != nil {
		refund()
		c.metrics.RecordFailure("sell", "blacklisted")
		return host.PromiseID{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		refund()
		c.metrics.RecordFailure("sell", "zero_amount")
		return host.PromiseID{}, ErrZeroAmount
	}
	balance, err := c.ledger.BalanceOf(sender)
	if err != nil {
		refund()
		return host.PromiseID{}, err
	}
	if balance.Cmp(amount) < 0 {
		refund()
		c.metrics.RecordFailure("sell", "balance")
		return host.PromiseID{}, token.ErrInsufficientBalance
	}

	sellAmount := new(big.Int).Set(amount)
	quote := c.requestPriceData(env)
	id := env.Then([]host.PromiseID{quote}, func(cb *host.Env, results []host.PromiseResult) ([]byte, error) {
		return c.sellWithPriceCallback(cb, sender, sellAmount, attached, expected, results, start)
	})
	return id, nil
}

func (c *Contract) sellWithPriceCallback(env *host.Env, sender string, amount, attached *big.Int, expected *exchange.ExpectedRate, results []host.PromiseResult, start time.Time) ([]byte, error) {
	fail := func(reason string, err error) ([]byte, error) {
		if attached.Sign() > 0 {
			env.TransferNative(sender, attached)
		}
		c.metrics.RecordFailure("sell", reason)
		c.logger.Warn("sell rejected", "account", sender, "reason", reason, "err", err)
		return nil, err
	}

	rate, err := c.rateFromResults(env, results)
	if err != nil {
		reason := "oracle"
		if errors.Is(err, oracle.ErrStalePrice) {
			reason = "stale_price"
		}
		return fail(reason, err)
	}
	if expected != nil {
		if err := exchange.CheckSlippage(rate, *expected); err != nil {
			return fail("slippage", err)
		}
	}

	state, err := c.loadState()
	if err != nil {
		return fail("state", err)
	}
	if err := requireWorking(state); err != nil {
		return fail("paused", err)
	}
	if err := requireNotBlacklisted(state, sender); err != nil {
		return fail("blacklisted", err)
	}

	spreadPpm := state.Spread.Ppm(amount)
	reserve, err := exchange.TokensToReserve(amount, spreadPpm, rate)
	if err != nil {
		return fail("conversion", err)
	}
	if reserve.Sign() == 0 {
		return fail("zero_conversion", exchange.ErrZeroConversion)
	}
	if err := c.ledger.Burn(sender, amount); err != nil {
		return fail("ledger", err)
	}
	env.TransferNative(sender, reserve)

	emitBurn(env, sender, amount, "")
	c.metrics.RecordOp("sell", time.Since(start))
	c.publishSupply()
	c.logger.Info("tokens redeemed", "account", sender,
		"burned", amount.String(), "reserve", reserve.String(), "spread_ppm", spreadPpm)
	return json.Marshal(reserve.String())
}

func (c *Contract) rateFromResults(env *host.Env, results []host.PromiseResult) (oracle.ExchangeRate, error) {
	if len(results) == 0 || !results[0].OK {
		return oracle.ExchangeRate{}, ErrOracleFailed
	}
	var data oracle.PriceData
	if err := json.Unmarshal(results[0].Value, &data); err != nil {
		return oracle.ExchangeRate{}, fmt.Errorf("usn: malformed oracle payload: %w", err)
	}
	return oracle.RateFromPriceData(data, c.assetID, env.BlockTimestamp())
}
