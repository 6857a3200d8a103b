package contract

import (
	"fmt"
	"strings"

	"usnd/exchange"
	"usnd/host"
)

// SetOwner transfers ownership atomically. Owner only.
func (c *Contract) SetOwner(env *host.Env, newOwner string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	newOwner = normalizeAccount(newOwner)
	if newOwner == "" {
		return fmt.Errorf("usn: new owner account required")
	}
	state.Owner = newOwner
	if err := c.persistState(state); err != nil {
		return err
	}
	c.logger.Info("ownership transferred", "owner", newOwner)
	return nil
}

// ExtendGuardians adds accounts to the guardian set. Owner only.
func (c *Contract) ExtendGuardians(env *host.Env, guardians []string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	for _, id := range guardians {
		id = normalizeAccount(id)
		if id == "" {
			return fmt.Errorf("usn: guardian account required")
		}
		state.Guardians = insertSorted(state.Guardians, id)
	}
	return c.persistState(state)
}

// RemoveGuardians drops accounts from the guardian set. Owner only. Removing
// an absent guardian fails so typos surface.
func (c *Contract) RemoveGuardians(env *host.Env, guardians []string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	for _, id := range guardians {
		id = normalizeAccount(id)
		if !state.IsGuardian(id) {
			return fmt.Errorf("usn: account %s is not a guardian", id)
		}
		state.Guardians = removeSorted(state.Guardians, id)
	}
	return c.persistState(state)
}

// Pause halts every mutating operation. Owner or guardian, one yocto.
func (c *Contract) Pause(env *host.Env) error {
	if err := requireOneYocto(env); err != nil {
		return err
	}
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwnerOrGuardian(state, env.Predecessor()); err != nil {
		return err
	}
	state.Status = StatusPaused
	if err := c.persistState(state); err != nil {
		return err
	}
	c.logger.Warn("exchange paused", "caller", env.Predecessor())
	return nil
}

// Resume reopens the exchange. Owner or guardian.
func (c *Contract) Resume(env *host.Env) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwnerOrGuardian(state, env.Predecessor()); err != nil {
		return err
	}
	state.Status = StatusWorking
	if err := c.persistState(state); err != nil {
		return err
	}
	c.logger.Info("exchange resumed", "caller", env.Predecessor())
	return nil
}

// AddToBlacklist bans accounts as value sources. Owner or guardian.
func (c *Contract) AddToBlacklist(env *host.Env, accounts []string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwnerOrGuardian(state, env.Predecessor()); err != nil {
		return err
	}
	for _, id := range accounts {
		id = normalizeAccount(id)
		if id == "" {
			return fmt.Errorf("usn: account required")
		}
		if id == state.Owner {
			return fmt.Errorf("%w: cannot blacklist the owner", ErrUnauthorized)
		}
		state.Blacklist = insertSorted(state.Blacklist, id)
	}
	return c.persistState(state)
}

// RemoveFromBlacklist lifts bans. Owner or guardian.
func (c *Contract) RemoveFromBlacklist(env *host.Env, accounts []string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwnerOrGuardian(state, env.Predecessor()); err != nil {
		return err
	}
	for _, id := range accounts {
		state.Blacklist = removeSorted(state.Blacklist, normalizeAccount(id))
	}
	return c.persistState(state)
}

// DestroyBlackFunds burns a blacklisted account's entire balance, shrinking
// the total supply. Owner or guardian, Working only. A burn, not a transfer.
func (c *Contract) DestroyBlackFunds(env *host.Env, account string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireWorking(state); err != nil {
		return err
	}
	if err := requireOwnerOrGuardian(state, env.Predecessor()); err != nil {
		return err
	}
	account = normalizeAccount(account)
	if !state.IsBlacklisted(account) {
		return fmt.Errorf("%w: %s", ErrNotBlacklisted, account)
	}
	balance, err := c.ledger.BalanceOf(account)
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return nil
	}
	if err := c.ledger.Burn(account, balance); err != nil {
		return err
	}
	emitBurn(env, account, balance, "destroy black funds")
	c.publishSupply()
	c.logger.Warn("black funds destroyed", "account", account, "amount", balance.String())
	return nil
}

// SetFixedSpread commits a constant spread rate. Owner only.
func (c *Contract) SetFixedSpread(env *host.Env, ratePpm uint64) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	spread, err := exchange.NewFixedSpread(ratePpm)
	if err != nil {
		return err
	}
	state.Spread = spread
	return c.persistState(state)
}

// SetAdaptiveSpread commits the exponential volume-decay spread curve.
// Owner only; bounds validated before any write.
func (c *Contract) SetAdaptiveSpread(env *host.Env, params exchange.AdaptiveSpreadParams) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	spread, err := exchange.NewAdaptiveSpread(params)
	if err != nil {
		return err
	}
	state.Spread = spread
	return c.persistState(state)
}

// UpgradeNameSymbol rewrites the token descriptors. Owner only, Working only.
func (c *Contract) UpgradeNameSymbol(env *host.Env, name, symbol string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireWorking(state); err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" || symbol == "" {
		return fmt.Errorf("usn: name and symbol required")
	}
	state.Metadata.Name = name
	state.Metadata.Symbol = symbol
	return c.persistState(state)
}

// UpgradeIcon replaces the token icon data URL. Owner only, Working only.
func (c *Contract) UpgradeIcon(env *host.Env, icon string) error {
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireWorking(state); err != nil {
		return err
	}
	if err := requireOwner(state, env.Predecessor()); err != nil {
		return err
	}
	state.Metadata.Icon = icon
	return c.persistState(state)
}

func (c *Contract) publishSupply() {
	supply, err := c.ledger.TotalSupply()
	if err != nil {
		return
	}
	c.metrics.SetTotalSupply(supply)
}
