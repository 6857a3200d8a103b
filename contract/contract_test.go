package contract

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"usnd/exchange"
	"usnd/host"
	"usnd/oracle"
	"usnd/pool"
	"usnd/storage"
	"usnd/token"
)

const (
	contractAccount = "usn.test.near"
	oracleAccount   = "priceoracle.test.near"
	reserveAsset    = "wrap.test.near"
	ownerAccount    = "owner.test.near"
	guardianAccount = "guardian.test.near"
	refAccount      = "ref.test.near"
	usdtAccount     = "usdt.test.near"
	stablePoolID    = uint64(356)
)

const (
	fixtureNow     = uint64(1_700_000_000_000_000_000)
	fixtureRecency = uint64(60_000_000_000)
)

var yocto = big.NewInt(1)

func near(whole int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	return scale.Mul(scale, big.NewInt(whole))
}

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("bad literal %q", value)
	}
	return amount
}

type fixture struct {
	t        *testing.T
	sandbox  *host.Sandbox
	contract *Contract
	now      uint64
}

func fixedOnePercent(t *testing.T) exchange.SpreadConfig {
	t.Helper()
	spread, err := exchange.NewFixedSpread(10_000)
	if err != nil {
		t.Fatalf("spread: %v", err)
	}
	return spread
}

func newFixture(t *testing.T, spread exchange.SpreadConfig) *fixture {
	t.Helper()
	f := &fixture{t: t, sandbox: host.NewSandbox(), now: fixtureNow}
	f.sandbox.SetClock(func() uint64 { return f.now })
	f.sandbox.RegisterExternal(oracleAccount, "get_price_data", func(_ *host.Env, _ []byte) ([]byte, error) {
		return json.Marshal(oracle.PriceData{
			Timestamp:       fixtureNow,
			RecencyDuration: fixtureRecency,
			Prices: []oracle.AssetPrice{{
				AssetID: reserveAsset,
				Price:   &oracle.Price{Multiplier: big.NewInt(111439), Decimals: 28},
			}},
		})
	})
	store := storage.NewState(storage.NewMemDB())
	contract, err := New(store, Params{
		Account:       contractAccount,
		OracleAccount: oracleAccount,
		AssetID:       reserveAsset,
		Owner:         ownerAccount,
		Spread:        &spread,
		Pool: pool.Config{
			RefAccount:   refAccount,
			USDTAccount:  usdtAccount,
			StablePoolID: stablePoolID,
		},
	})
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	f.contract = contract
	// Reserve treasury backing redemptions.
	f.sandbox.SetBalance(contractAccount, near(1_000_000_000))
	return f
}

// env opens a call environment, topping the caller's native balance up by the
// attachment so the debit always clears.
func (f *fixture) env(caller string, attached *big.Int) *host.Env {
	f.t.Helper()
	if attached == nil {
		attached = big.NewInt(0)
	}
	balance := f.sandbox.Balance(caller)
	f.sandbox.SetBalance(caller, balance.Add(balance, attached))
	env, err := f.sandbox.NewEnv(caller, contractAccount, attached)
	if err != nil {
		f.t.Fatalf("env for %s: %v", caller, err)
	}
	return env
}

func (f *fixture) register(account string) {
	f.t.Helper()
	env := f.env(account, token.MinStorageBalance)
	if _, err := f.contract.StorageDeposit(env, ""); err != nil {
		f.t.Fatalf("register %s: %v", account, err)
	}
	f.run()
}

func (f *fixture) run() {
	f.t.Helper()
	if err := f.sandbox.Run(); err != nil {
		f.t.Fatalf("sandbox run: %v", err)
	}
}

func (f *fixture) addGuardian(account string) {
	f.t.Helper()
	if err := f.contract.ExtendGuardians(f.env(ownerAccount, nil), []string{account}); err != nil {
		f.t.Fatalf("extend guardians: %v", err)
	}
}

func TestInitialStateDefaults(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	status, err := f.contract.ContractStatus()
	if err != nil || status != StatusWorking {
		t.Fatalf("status = %q err=%v", status, err)
	}
	owner, _ := f.contract.Owner()
	if owner != ownerAccount {
		t.Fatalf("owner = %q", owner)
	}
	name, _ := f.contract.Name()
	symbol, _ := f.contract.Symbol()
	decimals, _ := f.contract.Decimals()
	if name != "USN" || symbol != "USN" || decimals != 18 {
		t.Fatalf("metadata = %s/%s/%d", name, symbol, decimals)
	}
	supply, _ := f.contract.FtTotalSupply()
	if supply.Sign() != 0 {
		t.Fatalf("initial supply = %s", supply)
	}
}

func TestSetOwnerOnlyByOwner(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	if err := f.contract.SetOwner(f.env("mallory.test.near", nil), "mallory.test.near"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.contract.SetOwner(f.env(ownerAccount, nil), "heir.test.near"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	owner, _ := f.contract.Owner()
	if owner != "heir.test.near" {
		t.Fatalf("owner = %q", owner)
	}
	// The previous owner lost the capability atomically.
	if err := f.contract.SetOwner(f.env(ownerAccount, nil), ownerAccount); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestGuardianManagementOwnerOnly(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	if err := f.contract.ExtendGuardians(f.env(guardianAccount, nil), []string{guardianAccount}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	f.addGuardian(guardianAccount)
	guardians, err := f.contract.Guardians()
	if err != nil || len(guardians) != 1 || guardians[0] != guardianAccount {
		t.Fatalf("guardians = %v err=%v", guardians, err)
	}
	if err := f.contract.RemoveGuardians(f.env(ownerAccount, nil), []string{"nobody.test.near"}); err == nil {
		t.Fatal("removing an absent guardian should fail")
	}
	if err := f.contract.RemoveGuardians(f.env(ownerAccount, nil), []string{guardianAccount}); err != nil {
		t.Fatalf("remove guardians: %v", err)
	}
	guardians, _ = f.contract.Guardians()
	if len(guardians) != 0 {
		t.Fatalf("guardians = %v", guardians)
	}
}

func TestPauseResumeGating(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.addGuardian(guardianAccount)
	f.register("alice.test.near")

	if err := f.contract.Pause(f.env(guardianAccount, nil)); !errors.Is(err, ErrOneYocto) {
		t.Fatalf("err = %v, want ErrOneYocto", err)
	}
	if err := f.contract.Pause(f.env(guardianAccount, yocto)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	status, _ := f.contract.ContractStatus()
	if status != StatusPaused {
		t.Fatalf("status = %q", status)
	}

	// Every mutating op is rejected while paused.
	if _, err := f.contract.StorageDeposit(f.env("carol.test.near", token.MinStorageBalance), ""); !errors.Is(err, ErrPaused) {
		t.Fatalf("storage_deposit err = %v", err)
	}
	if _, err := f.contract.Buy(f.env("alice.test.near", near(1)), "", nil); !errors.Is(err, ErrPaused) {
		t.Fatalf("buy err = %v", err)
	}
	if _, err := f.contract.Sell(f.env("alice.test.near", yocto), big.NewInt(1), nil); !errors.Is(err, ErrPaused) {
		t.Fatalf("sell err = %v", err)
	}
	if err := f.contract.FtTransfer(f.env("alice.test.near", yocto), "bob.test.near", big.NewInt(1), ""); !errors.Is(err, ErrPaused) {
		t.Fatalf("ft_transfer err = %v", err)
	}
	if err := f.contract.DestroyBlackFunds(f.env(ownerAccount, nil), "alice.test.near"); !errors.Is(err, ErrPaused) {
		t.Fatalf("destroy_black_funds err = %v", err)
	}

	if err := f.contract.Resume(f.env("mallory.test.near", nil)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("resume err = %v, want ErrUnauthorized", err)
	}
	if err := f.contract.Resume(f.env(guardianAccount, nil)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	status, _ = f.contract.ContractStatus()
	if status != StatusWorking {
		t.Fatalf("status = %q", status)
	}
}

func TestBlacklistManagement(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.addGuardian(guardianAccount)

	if err := f.contract.AddToBlacklist(f.env("mallory.test.near", nil), []string{"victim.test.near"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.contract.AddToBlacklist(f.env(guardianAccount, nil), []string{ownerAccount}); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("guardian must not blacklist the owner")
	}
	if err := f.contract.AddToBlacklist(f.env(guardianAccount, nil), []string{"mallory.test.near"}); err != nil {
		t.Fatalf("add to blacklist: %v", err)
	}
	status, _ := f.contract.BlacklistStatus("mallory.test.near")
	if status != "Banned" {
		t.Fatalf("status = %q", status)
	}
	if err := f.contract.RemoveFromBlacklist(f.env(ownerAccount, nil), []string{"mallory.test.near"}); err != nil {
		t.Fatalf("remove from blacklist: %v", err)
	}
	status, _ = f.contract.BlacklistStatus("mallory.test.near")
	if status != "Allowable" {
		t.Fatalf("status = %q", status)
	}
}

func TestDestroyBlackFundsBurnsBalance(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.register("mallory.test.near")
	if err := f.contract.Ledger().Mint("mallory.test.near", big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := f.contract.DestroyBlackFunds(f.env(ownerAccount, nil), "mallory.test.near"); !errors.Is(err, ErrNotBlacklisted) {
		t.Fatalf("err = %v, want ErrNotBlacklisted", err)
	}
	if err := f.contract.AddToBlacklist(f.env(ownerAccount, nil), []string{"mallory.test.near"}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if err := f.contract.DestroyBlackFunds(f.env(ownerAccount, nil), "mallory.test.near"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	balance, _ := f.contract.FtBalanceOf("mallory.test.near")
	if balance.Sign() != 0 {
		t.Fatalf("balance = %s", balance)
	}
	supply, _ := f.contract.FtTotalSupply()
	if supply.Sign() != 0 {
		t.Fatalf("supply = %s, want 0", supply)
	}
}

func TestSpreadConfigurationOwnerOnly(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	if err := f.contract.SetFixedSpread(f.env("mallory.test.near", nil), 20_000); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.contract.SetFixedSpread(f.env(ownerAccount, nil), 60_000); !errors.Is(err, exchange.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
	if err := f.contract.SetFixedSpread(f.env(ownerAccount, nil), 20_000); err != nil {
		t.Fatalf("set fixed spread: %v", err)
	}
	ppm, err := f.contract.SpreadPpm(near(1))
	if err != nil || ppm != 20_000 {
		t.Fatalf("spread = %d err=%v", ppm, err)
	}

	if err := f.contract.SetAdaptiveSpread(f.env(ownerAccount, nil), exchange.AdaptiveSpreadParams{Min: 0.005, Max: 0.001, Scaler: 0.0000075}); !errors.Is(err, exchange.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
	// Invalid proposal leaves the committed config untouched.
	ppm, _ = f.contract.SpreadPpm(near(1))
	if ppm != 20_000 {
		t.Fatalf("spread = %d after rejected proposal", ppm)
	}
	if err := f.contract.SetAdaptiveSpread(f.env(ownerAccount, nil), exchange.AdaptiveSpreadParams{Min: 0.001, Max: 0.005, Scaler: 0.0000075}); err != nil {
		t.Fatalf("set adaptive spread: %v", err)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	ppm, _ = f.contract.SpreadPpm(scale)
	if ppm != 5000 {
		t.Fatalf("adaptive spread at 1 token = %d, want 5000", ppm)
	}
}

func TestUpgradeMetadata(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	if err := f.contract.UpgradeNameSymbol(f.env("mallory.test.near", nil), "X", "X"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.contract.UpgradeNameSymbol(f.env(ownerAccount, nil), "USD Near", "USN2"); err != nil {
		t.Fatalf("upgrade name/symbol: %v", err)
	}
	if err := f.contract.UpgradeIcon(f.env(ownerAccount, nil), "data:image/svg+xml;base64,AAAA"); err != nil {
		t.Fatalf("upgrade icon: %v", err)
	}
	name, _ := f.contract.Name()
	symbol, _ := f.contract.Symbol()
	icon, _ := f.contract.Icon()
	if name != "USD Near" || symbol != "USN2" || icon == "" {
		t.Fatalf("metadata = %s/%s/%s", name, symbol, icon)
	}
}

func TestStateChecksumStableAcrossReload(t *testing.T) {
	store := storage.NewState(storage.NewMemDB())
	spread := fixedOnePercent(t)
	params := Params{
		Account:       contractAccount,
		OracleAccount: oracleAccount,
		AssetID:       reserveAsset,
		Owner:         ownerAccount,
		Spread:        &spread,
	}
	first, err := New(store, params)
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	before, err := first.StateChecksum()
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	// Reopening over the same store must not rewrite any record.
	second, err := New(store, params)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	after, err := second.StateChecksum()
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if before != after {
		t.Fatal("checksum changed across reload")
	}
	if err := second.Ledger().Mint(contractAccount, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	mutated, _ := second.StateChecksum()
	if mutated == before {
		t.Fatal("checksum blind to ledger mutation")
	}
}

func TestStorageDepositRefundsSurplus(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	attached := new(big.Int).Add(token.MinStorageBalance, near(1))
	env := f.env("alice.test.near", attached)
	balance, err := f.contract.StorageDeposit(env, "")
	if err != nil {
		t.Fatalf("storage deposit: %v", err)
	}
	f.run()
	if balance.Total.Cmp(token.MinStorageBalance) != 0 {
		t.Fatalf("escrow = %s", balance.Total)
	}
	if got := f.sandbox.Balance("alice.test.near"); got.Cmp(near(1)) != 0 {
		t.Fatalf("surplus refund = %s, want 1 NEAR", got)
	}
	// A second deposit refunds the full attachment.
	env = f.env("alice.test.near", token.MinStorageBalance)
	if _, err := f.contract.StorageDeposit(env, ""); err != nil {
		t.Fatalf("re-deposit: %v", err)
	}
	f.run()
	want := new(big.Int).Add(near(1), token.MinStorageBalance)
	if got := f.sandbox.Balance("alice.test.near"); got.Cmp(want) != 0 {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}

func TestStorageUnregisterForfeitsBalanceOnlyWhenForced(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.register("alice.test.near")
	if err := f.contract.Ledger().Mint("alice.test.near", big.NewInt(9)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := f.contract.StorageUnregister(f.env("alice.test.near", nil), false); !errors.Is(err, token.ErrBalanceOutstanding) {
		t.Fatalf("err = %v, want ErrBalanceOutstanding", err)
	}
	removed, err := f.contract.StorageUnregister(f.env("alice.test.near", nil), true)
	if err != nil || !removed {
		t.Fatalf("forced unregister: removed=%v err=%v", removed, err)
	}
	f.run()
	if got := f.sandbox.Balance("alice.test.near"); got.Cmp(token.MinStorageBalance) != 0 {
		t.Fatalf("escrow refund = %s", got)
	}
	supply, _ := f.contract.FtTotalSupply()
	if supply.Sign() != 0 {
		t.Fatalf("supply = %s after forfeiture", supply)
	}
}

func TestFtTransferRequiresOneYoctoAndWorking(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.register("alice.test.near")
	f.register("bob.test.near")
	if err := f.contract.Ledger().Mint("alice.test.near", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.contract.FtTransfer(f.env("alice.test.near", nil), "bob.test.near", big.NewInt(40), ""); !errors.Is(err, ErrOneYocto) {
		t.Fatalf("err = %v, want ErrOneYocto", err)
	}
	if err := f.contract.FtTransfer(f.env("alice.test.near", yocto), "bob.test.near", big.NewInt(40), "rent"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	bob, _ := f.contract.FtBalanceOf("bob.test.near")
	if bob.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("bob = %s", bob)
	}
	events := f.sandbox.DrainEvents()
	found := false
	for _, event := range events {
		if event == `EVENT_JSON:{"standard":"nep141","version":"1.0.0","event":"ft_transfer","data":[{"old_owner_id":"alice.test.near","new_owner_id":"bob.test.near","amount":"40","memo":"rent"}]}` {
			found = true
		}
	}
	if !found {
		t.Fatalf("ft_transfer event missing from %v", events)
	}
}

func TestBlacklistedSenderCannotTransfer(t *testing.T) {
	f := newFixture(t, fixedOnePercent(t))
	f.register("alice.test.near")
	f.register("bob.test.near")
	if err := f.contract.Ledger().Mint("alice.test.near", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.contract.AddToBlacklist(f.env(ownerAccount, nil), []string{"alice.test.near"}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	if err := f.contract.FtTransfer(f.env("alice.test.near", yocto), "bob.test.near", big.NewInt(1), ""); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("err = %v, want ErrBlacklisted", err)
	}
}
