package contract

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"usnd/exchange"
	"usnd/host"
	"usnd/observability"
	"usnd/pool"
	"usnd/token"
)

// Version is exposed through the version view for upgrade audits.
const Version = "usnd:0.1.0"

// Store is the persistence surface the contract requires: the RLP KV the
// ledger rides on plus a checksum over a key range.
type Store interface {
	token.Storage
	Checksum(prefix []byte) ([32]byte, error)
}

// Params configures a contract instance. Owner seeds the initial state when
// the store has none; afterwards it is ignored.
type Params struct {
	Account       string
	OracleAccount string
	AssetID       string
	Owner         string
	Spread        *exchange.SpreadConfig
	Pool          pool.Config
	Logger        *slog.Logger
	Metrics       *observability.EngineMetrics
}

// Contract is the exchange engine aggregate. State loads and persists at
// call boundaries; no mutation survives a failed validation.
type Contract struct {
	store         Store
	ledger        *token.Ledger
	account       string
	oracleAccount string
	assetID       string
	pool          pool.Config
	logger        *slog.Logger
	metrics       *observability.EngineMetrics
}

// New opens a contract over the store, initialising state on first use.
func New(store Store, params Params) (*Contract, error) {
	if store == nil {
		return nil, fmt.Errorf("usn: store required")
	}
	account := strings.TrimSpace(params.Account)
	if account == "" {
		return nil, fmt.Errorf("usn: contract account required")
	}
	oracleAccount := strings.TrimSpace(params.OracleAccount)
	if oracleAccount == "" {
		return nil, fmt.Errorf("usn: oracle account required")
	}
	assetID := strings.TrimSpace(params.AssetID)
	if assetID == "" {
		return nil, fmt.Errorf("usn: reserve asset id required")
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Contract{
		store:         store,
		ledger:        token.NewLedger(store),
		account:       account,
		oracleAccount: oracleAccount,
		assetID:       assetID,
		pool:          params.Pool,
		logger:        logger,
		metrics:       params.Metrics,
	}
	var stored storedState
	ok, err := store.KVGet(stateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		owner := strings.TrimSpace(params.Owner)
		if owner == "" {
			return nil, fmt.Errorf("usn: contract state not initialised and no owner supplied")
		}
		spread := exchange.DefaultAdaptiveSpread()
		if params.Spread != nil {
			spread = params.Spread.Clone()
		}
		state := &State{
			Owner:  owner,
			Status: StatusWorking,
			Spread: spread,
			Metadata: Metadata{
				Name:     "USN",
				Symbol:   "USN",
				Decimals: exchange.TokenDecimals,
			},
		}
		if _, err := c.ledger.Register(c.account, token.MinStorageBalance); err != nil {
			return nil, err
		}
		if err := c.persistState(state); err != nil {
			return nil, err
		}
		logger.Info("contract state initialised", "owner", owner, "account", account)
	}
	return c, nil
}

// Account returns the contract's own account identifier.
func (c *Contract) Account() string { return c.account }

// Ledger exposes the token ledger for read-side consumers.
func (c *Contract) Ledger() *token.Ledger { return c.ledger }

// -- guards ------------------------------------------------------------------

func requireWorking(state *State) error {
	if state.Status != StatusWorking {
		return ErrPaused
	}
	return nil
}

func requireOwner(state *State, caller string) error {
	if normalizeAccount(caller) != state.Owner {
		return fmt.Errorf("%w: method is callable only by owner", ErrUnauthorized)
	}
	return nil
}

func requireOwnerOrGuardian(state *State, caller string) error {
	caller = normalizeAccount(caller)
	if caller != state.Owner && !state.IsGuardian(caller) {
		return fmt.Errorf("%w: method is callable only by owner or guardian", ErrUnauthorized)
	}
	return nil
}

func requireNotBlacklisted(state *State, id string) error {
	if state.IsBlacklisted(id) {
		return fmt.Errorf("%w: %s", ErrBlacklisted, normalizeAccount(id))
	}
	return nil
}

var oneYocto = big.NewInt(1)

func requireOneYocto(env *host.Env) error {
	if env.AttachedDeposit().Cmp(oneYocto) != 0 {
		return ErrOneYocto
	}
	return nil
}

// -- views -------------------------------------------------------------------

// ContractStatus reports the lifecycle status.
func (c *Contract) ContractStatus() (Status, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	return state.Status, nil
}

// Owner reports the current owner account.
func (c *Contract) Owner() (string, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	return state.Owner, nil
}

// Guardians reports the guardian set in sorted order.
func (c *Contract) Guardians() ([]string, error) {
	state, err := c.loadState()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), state.Guardians...), nil
}

// BlacklistStatus reports "Banned" for blacklisted accounts, "Allowable"
// otherwise.
func (c *Contract) BlacklistStatus(id string) (string, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	if state.IsBlacklisted(id) {
		return "Banned", nil
	}
	return "Allowable", nil
}

// Name reports the token name.
func (c *Contract) Name() (string, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	return state.Metadata.Name, nil
}

// Symbol reports the token symbol.
func (c *Contract) Symbol() (string, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	return state.Metadata.Symbol, nil
}

// Icon reports the token icon data URL.
func (c *Contract) Icon() (string, error) {
	state, err := c.loadState()
	if err != nil {
		return "", err
	}
	return state.Metadata.Icon, nil
}

// Decimals reports the token precision.
func (c *Contract) Decimals() (uint8, error) {
	state, err := c.loadState()
	if err != nil {
		return 0, err
	}
	return state.Metadata.Decimals, nil
}

// SpreadPpm evaluates the committed spread policy for a trade of the given
// token amount, in parts per million.
func (c *Contract) SpreadPpm(amount *big.Int) (uint64, error) {
	state, err := c.loadState()
	if err != nil {
		return 0, err
	}
	return state.Spread.Ppm(amount), nil
}

// FtTotalSupply reports the outstanding token supply.
func (c *Contract) FtTotalSupply() (*big.Int, error) {
	return c.ledger.TotalSupply()
}

// FtBalanceOf reports an account's token balance, zero when unregistered.
func (c *Contract) FtBalanceOf(id string) (*big.Int, error) {
	return c.ledger.BalanceOf(id)
}

// StorageBalanceOf reports an account's storage escrow.
func (c *Contract) StorageBalanceOf(id string) (*token.StorageBalance, bool, error) {
	return c.ledger.StorageBalanceOf(id)
}

// StorageBalanceBounds reports the flat registration deposit bounds.
func (c *Contract) StorageBalanceBounds() token.StorageBalanceBounds {
	return token.Bounds()
}

// StateChecksum digests every persisted contract record. Byte-identical
// state across an upgrade yields an identical checksum.
func (c *Contract) StateChecksum() ([32]byte, error) {
	return c.store.Checksum(StatePrefix)
}
