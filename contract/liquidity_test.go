package contract

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"usnd/host"
	"usnd/pool"
	"usnd/token"
)

// poolFixture wires stub pool externals: the USDT token accepts transfer
// calls, the pool reports deposits and its token ordering, and records any
// liquidity added.
type poolFixture struct {
	*fixture
	usdtDeposit string
	usnDeposit  string
	added       []addStableLiquidityArgs
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	pf := &poolFixture{fixture: newFixture(t, fixedOnePercent(t))}
	pf.register(refAccount)
	pf.sandbox.RegisterExternal(usdtAccount, "ft_transfer_call", func(_ *host.Env, _ []byte) ([]byte, error) {
		return []byte(`"0"`), nil
	})
	pf.sandbox.RegisterExternal(refAccount, "get_deposits", func(_ *host.Env, _ []byte) ([]byte, error) {
		return json.Marshal(map[string]string{
			usdtAccount:     pf.usdtDeposit,
			contractAccount: pf.usnDeposit,
		})
	})
	pf.sandbox.RegisterExternal(refAccount, "get_stable_pool", func(_ *host.Env, _ []byte) ([]byte, error) {
		return json.Marshal(pool.StablePoolInfo{
			TokenAccountIDs: []string{usdtAccount, contractAccount},
			Decimals:        []uint8{6, 18},
		})
	})
	pf.sandbox.RegisterExternal(refAccount, "add_stable_liquidity", func(_ *host.Env, args []byte) ([]byte, error) {
		var parsed addStableLiquidityArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, err
		}
		pf.added = append(pf.added, parsed)
		return []byte(`"1"`), nil
	})
	return pf
}

func TestTransferStableLiquidityMintsShortfallAndAddsLiquidity(t *testing.T) {
	pf := newPoolFixture(t)
	whole := uint64(1_000_000)
	pf.usdtDeposit = pool.ExtendDecimals(whole, pool.USDTDecimals).String()
	pf.usnDeposit = pool.ExtendDecimals(whole, 18).String()

	env := pf.env(ownerAccount, big.NewInt(3))
	id, err := pf.contract.TransferStableLiquidity(env, whole)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	pf.run()

	result, ok := pf.sandbox.Result(id)
	if !ok || !result.OK {
		t.Fatalf("liquidity promise = %+v ok=%v", result, ok)
	}
	// The whole USN side was minted (the contract held none) and moved out.
	refBalance, _ := pf.contract.FtBalanceOf(refAccount)
	if refBalance.Cmp(pool.ExtendDecimals(whole, 18)) != 0 {
		t.Fatalf("pool USN balance = %s", refBalance)
	}
	contractBalance, _ := pf.contract.FtBalanceOf(contractAccount)
	if contractBalance.Sign() != 0 {
		t.Fatalf("contract kept %s USN", contractBalance)
	}
	if len(pf.added) != 1 {
		t.Fatalf("add_stable_liquidity calls = %d", len(pf.added))
	}
	call := pf.added[0]
	if call.PoolID != stablePoolID || call.MinShares != "0" {
		t.Fatalf("call = %+v", call)
	}
	// Amount ordering follows the pool's token listing: USDT first.
	if call.Amounts[0] != pool.ExtendDecimals(whole, pool.USDTDecimals).String() ||
		call.Amounts[1] != pool.ExtendDecimals(whole, 18).String() {
		t.Fatalf("amounts = %v", call.Amounts)
	}
}

func TestTransferStableLiquidityOwnerOnly(t *testing.T) {
	pf := newPoolFixture(t)
	if _, err := pf.contract.TransferStableLiquidity(pf.env(guardianAccount, big.NewInt(1)), 1_000_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestTransferStableLiquidityMinimum(t *testing.T) {
	pf := newPoolFixture(t)
	if _, err := pf.contract.TransferStableLiquidity(pf.env(ownerAccount, big.NewInt(1)), 999_999); !errors.Is(err, pool.ErrMinimumDeposit) {
		t.Fatalf("err = %v, want ErrMinimumDeposit", err)
	}
	if _, err := pf.contract.TransferStableLiquidity(pf.env(ownerAccount, nil), 1_000_000); err == nil {
		t.Fatal("expected attached-deposit error")
	}
}

func TestTransferStableLiquidityShortUSDTAborts(t *testing.T) {
	pf := newPoolFixture(t)
	whole := uint64(1_000_000)
	pf.usdtDeposit = "1" // far short of the required amount
	pf.usnDeposit = pool.ExtendDecimals(whole, 18).String()

	id, err := pf.contract.TransferStableLiquidity(pf.env(ownerAccount, big.NewInt(2)), whole)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	pf.run()

	result, ok := pf.sandbox.Result(id)
	if !ok || result.OK {
		t.Fatalf("short deposit settled OK: %+v", result)
	}
	if !strings.Contains(string(result.Value), "not enough USDT") {
		t.Fatalf("unexpected failure payload: %s", result.Value)
	}
	if len(pf.added) != 0 {
		t.Fatal("liquidity added despite short deposit")
	}
}

func TestStablePoolIDView(t *testing.T) {
	pf := newPoolFixture(t)
	if pf.contract.StablePoolID() != stablePoolID {
		t.Fatalf("pool id = %d", pf.contract.StablePoolID())
	}
}

func TestLiquidityTransferRequiresRegisteredPool(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	// ref.test.near never registered with the token ledger.
	if _, err := f.contract.TransferStableLiquidity(f.env(ownerAccount, big.NewInt(1)), 1_000_000); !errors.Is(err, token.ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}
