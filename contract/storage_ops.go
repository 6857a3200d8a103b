package contract

import (
	"errors"
	"math/big"
	"time"

	"usnd/host"
	"usnd/token"
)

// StorageDeposit registers beneficiary (the caller when empty), escrowing the
// minimum storage cost from the attached deposit and refunding the surplus.
// Depositing for an already registered account refunds the full attachment.
func (c *Contract) StorageDeposit(env *host.Env, beneficiary string) (*token.StorageBalance, error) {
	state, err := c.loadState()
	if err != nil {
		return nil, err
	}
	if err := requireWorking(state); err != nil {
		return nil, err
	}
	caller := env.Predecessor()
	if err := requireNotBlacklisted(state, caller); err != nil {
		return nil, err
	}
	beneficiary = normalizeAccount(beneficiary)
	if beneficiary == "" {
		beneficiary = normalizeAccount(caller)
	}
	attached := env.AttachedDeposit()
	refund, err := c.ledger.Register(beneficiary, attached)
	if err != nil {
		if errors.Is(err, token.ErrAlreadyRegistered) {
			if attached.Sign() > 0 {
				env.TransferNative(caller, attached)
			}
			balance, _, lookupErr := c.ledger.StorageBalanceOf(beneficiary)
			return balance, lookupErr
		}
		if attached.Sign() > 0 {
			env.TransferNative(caller, attached)
		}
		return nil, err
	}
	if refund.Sign() > 0 {
		env.TransferNative(caller, refund)
	}
	balance, _, err := c.ledger.StorageBalanceOf(beneficiary)
	return balance, err
}

// StorageUnregister removes the caller's ledger entry, refunding the storage
// escrow. An outstanding balance blocks removal unless force is set, in which
// case the balance is forfeited and burned out of the supply.
func (c *Contract) StorageUnregister(env *host.Env, force bool) (bool, error) {
	state, err := c.loadState()
	if err != nil {
		return false, err
	}
	if err := requireWorking(state); err != nil {
		return false, err
	}
	caller := env.Predecessor()
	if err := requireNotBlacklisted(state, caller); err != nil {
		return false, err
	}
	refund, burned, err := c.ledger.Unregister(caller, force)
	if err != nil {
		if errors.Is(err, token.ErrNotRegistered) {
			return false, nil
		}
		return false, err
	}
	if burned.Sign() > 0 {
		emitBurn(env, caller, burned, "storage unregister")
		c.publishSupply()
	}
	total := new(big.Int).Add(refund, env.AttachedDeposit())
	if total.Sign() > 0 {
		env.TransferNative(caller, total)
	}
	c.logger.Info("account unregistered", "account", caller, "burned", burned.String())
	return true, nil
}

// FtTransfer moves tokens between registered accounts. One yocto, Working
// only, sender must not be blacklisted.
func (c *Contract) FtTransfer(env *host.Env, receiver string, amount *big.Int, memo string) error {
	start := time.Now()
	if err := requireOneYocto(env); err != nil {
		return err
	}
	state, err := c.loadState()
	if err != nil {
		return err
	}
	if err := requireWorking(state); err != nil {
		return err
	}
	sender := env.Predecessor()
	if err := requireNotBlacklisted(state, sender); err != nil {
		return err
	}
	if err := c.ledger.Transfer(sender, receiver, amount); err != nil {
		c.metrics.RecordFailure("ft_transfer", "ledger")
		return err
	}
	emitTransfer(env, normalizeAccount(sender), normalizeAccount(receiver), amount, memo)
	c.metrics.RecordTransfer()
	c.metrics.RecordOp("ft_transfer", time.Since(start))
	return nil
}
