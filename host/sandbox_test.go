package host

import (
	"math/big"
	"testing"
)

func TestNewEnvMovesAttachedDeposit(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetBalance("alice.near", big.NewInt(100))
	env, err := sandbox.NewEnv("alice.near", "usn.near", big.NewInt(40))
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	if env.AttachedDeposit().Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("attached = %s, want 40", env.AttachedDeposit())
	}
	if got := sandbox.Balance("alice.near"); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("caller balance = %s, want 60", got)
	}
	if got := sandbox.Balance("usn.near"); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("contract balance = %s, want 40", got)
	}
}

func TestNewEnvRejectsOverdraft(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetBalance("alice.near", big.NewInt(5))
	if _, err := sandbox.NewEnv("alice.near", "usn.near", big.NewInt(6)); err == nil {
		t.Fatal("expected insufficient funds")
	}
}

func TestCallAndThenDeliverResult(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetBalance("usn.near", big.NewInt(0))
	sandbox.RegisterExternal("oracle.near", "get_price_data", func(_ *Env, args []byte) ([]byte, error) {
		return append([]byte("echo:"), args...), nil
	})
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	quote := env.Call("oracle.near", "get_price_data", []byte("usdt"), nil)
	var seen []byte
	done := env.Then([]PromiseID{quote}, func(_ *Env, results []PromiseResult) ([]byte, error) {
		if len(results) != 1 || !results[0].OK {
			t.Fatalf("unexpected results: %+v", results)
		}
		seen = results[0].Value
		return []byte("ok"), nil
	})
	if err := sandbox.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(seen) != "echo:usdt" {
		t.Fatalf("callback saw %q", seen)
	}
	result, ok := sandbox.Result(done)
	if !ok || !result.OK || string(result.Value) != "ok" {
		t.Fatalf("final result = %+v ok=%v", result, ok)
	}
}

func TestThenRunsAfterFailedDependency(t *testing.T) {
	sandbox := NewSandbox()
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	missing := env.Call("oracle.near", "get_price_data", nil, nil)
	ran := false
	env.Then([]PromiseID{missing}, func(_ *Env, results []PromiseResult) ([]byte, error) {
		ran = true
		if results[0].OK {
			t.Fatal("dependency should have failed")
		}
		return nil, nil
	})
	if err := sandbox.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatal("continuation never ran")
	}
}

func TestFailedCallRefundsAttached(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetBalance("usn.near", big.NewInt(50))
	sandbox.RegisterExternal("pool.near", "add_liquidity", func(_ *Env, _ []byte) ([]byte, error) {
		return nil, ErrUnknownReceiver
	})
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	env.Call("pool.near", "add_liquidity", nil, big.NewInt(30))
	if err := sandbox.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sandbox.Balance("usn.near"); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("balance after failed call = %s, want 50", got)
	}
	if got := sandbox.Balance("pool.near"); got.Sign() != 0 {
		t.Fatalf("receiver kept %s from failed call", got)
	}
}

func TestTransferNativeMovesFunds(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetBalance("usn.near", big.NewInt(10))
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	env.TransferNative("bob.near", big.NewInt(7))
	if err := sandbox.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sandbox.Balance("bob.near"); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("bob balance = %s, want 7", got)
	}
}

func TestEventsAccumulateInOrder(t *testing.T) {
	sandbox := NewSandbox()
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	env.EmitEvent("first")
	env.EmitEvent("second")
	events := sandbox.DrainEvents()
	if len(events) != 2 || events[0] != "first" || events[1] != "second" {
		t.Fatalf("events = %v", events)
	}
	if len(sandbox.Events()) != 0 {
		t.Fatal("drain did not clear events")
	}
}

func TestClockOverride(t *testing.T) {
	sandbox := NewSandbox()
	sandbox.SetClock(func() uint64 { return 1_700_000_000_000_000_000 })
	env, err := sandbox.NewEnv("usn.near", "usn.near", nil)
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	if env.BlockTimestamp() != 1_700_000_000_000_000_000 {
		t.Fatalf("timestamp = %d", env.BlockTimestamp())
	}
}
