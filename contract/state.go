package contract

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"usnd/exchange"
)

// Status is the lifecycle gate every mutating operation passes through.
type Status string

const (
	StatusWorking Status = "Working"
	StatusPaused  Status = "Paused"
)

var (
	// ErrPaused rejects mutating calls while the contract is paused.
	ErrPaused = errors.New("usn: contract is under maintenance")
	// ErrUnauthorized rejects callers lacking the required role.
	ErrUnauthorized = errors.New("usn: unauthorized")
	// ErrBlacklisted rejects banned accounts as value sources.
	ErrBlacklisted = errors.New("usn: account is banned")
	// ErrOneYocto demands the one-yocto proof of intent on sensitive calls.
	ErrOneYocto = errors.New("usn: requires attached deposit of exactly 1 yoctoNEAR")
	// ErrZeroAmount rejects redeeming nothing.
	ErrZeroAmount = errors.New("usn: not allowed to sell 0 tokens")
	// ErrNotBlacklisted guards fund destruction against clean accounts.
	ErrNotBlacklisted = errors.New("usn: account is not banned")
)

// Metadata carries the fungible-token descriptors exposed to wallets.
type Metadata struct {
	Name     string
	Symbol   string
	Icon     string
	Decimals uint8
}

// State is the singleton access-control and configuration record.
type State struct {
	Owner     string
	Guardians []string
	Blacklist []string
	Status    Status
	Spread    exchange.SpreadConfig
	Metadata  Metadata
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Owner:    s.Owner,
		Status:   s.Status,
		Spread:   s.Spread.Clone(),
		Metadata: s.Metadata,
	}
	clone.Guardians = append([]string(nil), s.Guardians...)
	clone.Blacklist = append([]string(nil), s.Blacklist...)
	return clone
}

// IsGuardian reports guardian membership.
func (s *State) IsGuardian(id string) bool {
	return containsSorted(s.Guardians, strings.TrimSpace(id))
}

// IsBlacklisted reports blacklist membership.
func (s *State) IsBlacklisted(id string) bool {
	return containsSorted(s.Blacklist, strings.TrimSpace(id))
}

func containsSorted(set []string, id string) bool {
	i := sort.SearchStrings(set, id)
	return i < len(set) && set[i] == id
}

func insertSorted(set []string, id string) []string {
	i := sort.SearchStrings(set, id)
	if i < len(set) && set[i] == id {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = id
	return set
}

func removeSorted(set []string, id string) []string {
	i := sort.SearchStrings(set, id)
	if i >= len(set) || set[i] != id {
		return set
	}
	return append(set[:i], set[i+1:]...)
}

var stateKey = []byte("usn/state")

// StatePrefix covers every record the contract persists; checksums over it
// audit byte compatibility across upgrades.
var StatePrefix = []byte("usn/")

type storedState struct {
	Owner        string
	Guardians    []string
	Blacklist    []string
	Status       string
	SpreadKind   uint8
	SpreadPpm    uint64
	SpreadMin    string
	SpreadMax    string
	SpreadScaler string
	Name         string
	Symbol       string
	Icon         string
	Decimals     uint8
}

func (c *Contract) loadState() (*State, error) {
	var stored storedState
	ok, err := c.store.KVGet(stateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("usn: contract state not initialised")
	}
	state := &State{
		Owner:     stored.Owner,
		Guardians: append([]string(nil), stored.Guardians...),
		Blacklist: append([]string(nil), stored.Blacklist...),
		Status:    Status(stored.Status),
		Metadata: Metadata{
			Name:     stored.Name,
			Symbol:   stored.Symbol,
			Icon:     stored.Icon,
			Decimals: stored.Decimals,
		},
	}
	switch exchange.SpreadKind(stored.SpreadKind) {
	case exchange.SpreadFixed:
		spread, err := exchange.NewFixedSpread(stored.SpreadPpm)
		if err != nil {
			return nil, err
		}
		state.Spread = spread
	case exchange.SpreadAdaptive:
		spread, err := spreadFromRatStrings(stored.SpreadMin, stored.SpreadMax, stored.SpreadScaler)
		if err != nil {
			return nil, err
		}
		state.Spread = spread
	default:
		return nil, fmt.Errorf("%w: unknown spread kind %d", exchange.ErrInvalidConfiguration, stored.SpreadKind)
	}
	return state, nil
}

func (c *Contract) persistState(state *State) error {
	stored := storedState{
		Owner:     state.Owner,
		Guardians: append([]string(nil), state.Guardians...),
		Blacklist: append([]string(nil), state.Blacklist...),
		Status:    string(state.Status),
		Name:      state.Metadata.Name,
		Symbol:    state.Metadata.Symbol,
		Icon:      state.Metadata.Icon,
		Decimals:  state.Metadata.Decimals,
	}
	stored.SpreadKind = uint8(state.Spread.Kind)
	switch state.Spread.Kind {
	case exchange.SpreadFixed:
		stored.SpreadPpm = state.Spread.RatePpm
	case exchange.SpreadAdaptive:
		stored.SpreadMin = state.Spread.Min.RatString()
		stored.SpreadMax = state.Spread.Max.RatString()
		stored.SpreadScaler = state.Spread.Scaler.RatString()
	}
	return c.store.KVPut(stateKey, stored)
}

func spreadFromRatStrings(minRat, maxRat, scaler string) (exchange.SpreadConfig, error) {
	parse := func(value string) (*big.Rat, error) {
		rat, ok := new(big.Rat).SetString(value)
		if !ok {
			return nil, fmt.Errorf("%w: malformed stored spread %q", exchange.ErrInvalidConfiguration, value)
		}
		return rat, nil
	}
	minParsed, err := parse(minRat)
	if err != nil {
		return exchange.SpreadConfig{}, err
	}
	maxParsed, err := parse(maxRat)
	if err != nil {
		return exchange.SpreadConfig{}, err
	}
	scalerParsed, err := parse(scaler)
	if err != nil {
		return exchange.SpreadConfig{}, err
	}
	return exchange.SpreadConfig{
		Kind:   exchange.SpreadAdaptive,
		Min:    minParsed,
		Max:    maxParsed,
		Scaler: scalerParsed,
	}, nil
}

func normalizeAccount(id string) string { return strings.TrimSpace(id) }

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
