package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrNotRegistered is returned for operations touching an account with no
	// ledger entry.
	ErrNotRegistered = errors.New("usn: account is not registered")
	// ErrAlreadyRegistered is returned when registering an existing account.
	ErrAlreadyRegistered = errors.New("usn: account is already registered")
	// ErrStorageTooLow indicates a registration deposit below the minimum
	// ledger-entry cost.
	ErrStorageTooLow = errors.New("usn: attached deposit is below the storage balance minimum")
	// ErrInsufficientBalance indicates a withdrawal exceeding the holdings.
	ErrInsufficientBalance = errors.New("usn: not enough balance")
	// ErrNonPositiveAmount rejects zero or negative transfer amounts.
	ErrNonPositiveAmount = errors.New("usn: amount must be positive")
	// ErrBalanceOutstanding rejects unforced unregistration while tokens remain.
	ErrBalanceOutstanding = errors.New("usn: cannot unregister account with a positive balance")
)

// MinStorageBalance is the reserve-currency escrow covering one account's
// ledger-entry cost: 0.00125 NEAR in yocto.
var MinStorageBalance = mustAmount("1250000000000000000000")

// Storage abstracts the subset of state functionality the ledger requires.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	accountPrefix = []byte("usn/account/")
	supplyKey     = []byte("usn/supply")
)

// AccountKey renders the storage key for an account's ledger entry.
func AccountKey(id string) []byte {
	trimmed := strings.TrimSpace(id)
	key := make([]byte, len(accountPrefix)+len(trimmed))
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], trimmed)
	return key
}

// Account holds a token balance plus the storage-deposit escrow that pays for
// the ledger entry itself.
type Account struct {
	Balance        *big.Int
	StorageDeposit *big.Int
}

// Clone returns a deep copy of the account record.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if a.StorageDeposit != nil {
		clone.StorageDeposit = new(big.Int).Set(a.StorageDeposit)
	}
	return clone
}

// StorageBalance reports the escrowed storage funds for an account.
type StorageBalance struct {
	Total     *big.Int
	Available *big.Int
}

// StorageBalanceBounds reports the registration deposit limits.
type StorageBalanceBounds struct {
	Min *big.Int
	Max *big.Int
}

// Bounds returns the fixed registration deposit bounds. Min equals Max: the
// ledger entry cost is flat, excess deposits are refunded.
func Bounds() StorageBalanceBounds {
	return StorageBalanceBounds{
		Min: new(big.Int).Set(MinStorageBalance),
		Max: new(big.Int).Set(MinStorageBalance),
	}
}

type storedAccount struct {
	Balance        string
	StorageDeposit string
}

type storedSupply struct {
	Amount string
}

// Ledger persists token balances and storage escrow behind a Storage backend.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// Account loads an account record. The boolean reports registration.
func (l *Ledger) Account(id string) (*Account, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, fmt.Errorf("usn: ledger not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, false, fmt.Errorf("usn: account id required")
	}
	var stored storedAccount
	ok, err := l.store.KVGet(AccountKey(trimmed), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	balance, err := parseAmount(stored.Balance)
	if err != nil {
		return nil, false, fmt.Errorf("usn: account %s: %w", trimmed, err)
	}
	deposit, err := parseAmount(stored.StorageDeposit)
	if err != nil {
		return nil, false, fmt.Errorf("usn: account %s: %w", trimmed, err)
	}
	return &Account{Balance: balance, StorageDeposit: deposit}, true, nil
}

func (l *Ledger) putAccount(id string, account *Account) error {
	stored := storedAccount{Balance: "0", StorageDeposit: "0"}
	if account.Balance != nil {
		stored.Balance = account.Balance.String()
	}
	if account.StorageDeposit != nil {
		stored.StorageDeposit = account.StorageDeposit.String()
	}
	return l.store.KVPut(AccountKey(id), stored)
}

// Registered reports whether the account holds a ledger entry.
func (l *Ledger) Registered(id string) (bool, error) {
	_, ok, err := l.Account(id)
	return ok, err
}

// BalanceOf returns the token balance, zero for unregistered accounts.
func (l *Ledger) BalanceOf(id string) (*big.Int, error) {
	account, ok, err := l.Account(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return account.Balance, nil
}

// TotalSupply returns the outstanding token supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("usn: ledger not initialised")
	}
	var stored storedSupply
	ok, err := l.store.KVGet(supplyKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored.Amount)
}

func (l *Ledger) putSupply(supply *big.Int) error {
	return l.store.KVPut(supplyKey, storedSupply{Amount: supply.String()})
}

// Register creates the ledger entry for id, escrowing MinStorageBalance from
// the attached deposit. The surplus over the minimum is returned for refund.
func (l *Ledger) Register(id string, deposit *big.Int) (*big.Int, error) {
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	_, ok, err := l.Account(id)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrAlreadyRegistered
	}
	if deposit.Cmp(MinStorageBalance) < 0 {
		return nil, fmt.Errorf("%w: requires %s", ErrStorageTooLow, MinStorageBalance)
	}
	account := &Account{
		Balance:        big.NewInt(0),
		StorageDeposit: new(big.Int).Set(MinStorageBalance),
	}
	if err := l.putAccount(strings.TrimSpace(id), account); err != nil {
		return nil, err
	}
	return new(big.Int).Sub(deposit, MinStorageBalance), nil
}

// Unregister removes the account's ledger entry and returns the storage
// escrow to refund. A positive balance blocks removal unless force is set, in
// which case the remaining tokens are burned out of the total supply.
func (l *Ledger) Unregister(id string, force bool) (refund *big.Int, burned *big.Int, err error) {
	account, ok, err := l.Account(id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotRegistered, strings.TrimSpace(id))
	}
	burned = big.NewInt(0)
	if account.Balance.Sign() > 0 {
		if !force {
			return nil, nil, ErrBalanceOutstanding
		}
		supply, err := l.TotalSupply()
		if err != nil {
			return nil, nil, err
		}
		if supply.Cmp(account.Balance) < 0 {
			return nil, nil, fmt.Errorf("usn: supply underflow burning %s", account.Balance)
		}
		if err := l.putSupply(supply.Sub(supply, account.Balance)); err != nil {
			return nil, nil, err
		}
		burned = new(big.Int).Set(account.Balance)
	}
	if err := l.store.KVDelete(AccountKey(strings.TrimSpace(id))); err != nil {
		return nil, nil, err
	}
	return account.StorageDeposit, burned, nil
}

// StorageBalanceOf reports the escrowed storage funds for an account.
func (l *Ledger) StorageBalanceOf(id string) (*StorageBalance, bool, error) {
	account, ok, err := l.Account(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &StorageBalance{
		Total:     account.StorageDeposit,
		Available: big.NewInt(0),
	}, true, nil
}

// Mint credits tokens to a registered account and grows the total supply.
func (l *Ledger) Mint(id string, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	account, ok, err := l.Account(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, strings.TrimSpace(id))
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	account.Balance.Add(account.Balance, amount)
	if err := l.putAccount(strings.TrimSpace(id), account); err != nil {
		return err
	}
	return l.putSupply(supply.Add(supply, amount))
}

// Burn debits tokens from an account and shrinks the total supply.
func (l *Ledger) Burn(id string, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	account, ok, err := l.Account(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, strings.TrimSpace(id))
	}
	if account.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("usn: supply underflow burning %s", amount)
	}
	account.Balance.Sub(account.Balance, amount)
	if err := l.putAccount(strings.TrimSpace(id), account); err != nil {
		return err
	}
	return l.putSupply(supply.Sub(supply, amount))
}

// Transfer moves tokens between two registered accounts. Total supply is
// untouched.
func (l *Ledger) Transfer(sender, receiver string, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if strings.TrimSpace(sender) == strings.TrimSpace(receiver) {
		return fmt.Errorf("usn: sender and receiver must differ")
	}
	from, ok, err := l.Account(sender)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, strings.TrimSpace(sender))
	}
	to, ok, err := l.Account(receiver)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, strings.TrimSpace(receiver))
	}
	if from.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	from.Balance.Sub(from.Balance, amount)
	to.Balance.Add(to.Balance, amount)
	if err := l.putAccount(strings.TrimSpace(sender), from); err != nil {
		return err
	}
	return l.putAccount(strings.TrimSpace(receiver), to)
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	return nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("usn: invalid amount %q", value)
	}
	return amount, nil
}

func mustAmount(value string) *big.Int {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("usn: invalid amount literal " + value)
	}
	return amount
}
