package host

import (
	"fmt"
	"math/big"
)

// Env is the view a single receipt has of the sandbox: who called, which
// account is executing, and the native deposit attached to the call.
type Env struct {
	sandbox     *Sandbox
	predecessor string
	current     string
	attached    *big.Int
}

// Predecessor returns the account that issued the call.
func (e *Env) Predecessor() string { return e.predecessor }

// CurrentAccount returns the account executing the call.
func (e *Env) CurrentAccount() string { return e.current }

// AttachedDeposit returns the native deposit carried by the call.
func (e *Env) AttachedDeposit() *big.Int {
	return amountOrZero(e.attached)
}

// BlockTimestamp returns the sandbox clock reading in nanoseconds.
func (e *Env) BlockTimestamp() uint64 { return e.sandbox.Now() }

// EmitEvent appends a raw event line to the sandbox log.
func (e *Env) EmitEvent(raw string) { e.sandbox.logEvent(raw) }

// Sandbox exposes the hosting sandbox for balance and result inspection.
func (e *Env) Sandbox() *Sandbox { return e.sandbox }

// Call schedules a method call on an external account with an attached
// deposit debited from the current account when the promise executes.
func (e *Env) Call(receiver, method string, args []byte, attached *big.Int) PromiseID {
	payload := append([]byte(nil), args...)
	return e.sandbox.enqueue(&frame{
		caller:   e.current,
		receiver: receiver,
		attached: amountOrZero(attached),
		run: func(env *Env, _ []PromiseResult) ([]byte, error) {
			fn := e.sandbox.lookupExternal(receiver, method)
			if fn == nil {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownReceiver, receiver, method)
			}
			return fn(env, payload)
		},
	})
}

// CallAfter schedules a method call that waits for the given promises but
// ignores their results, mirroring a .then chain on an external account.
func (e *Env) CallAfter(deps []PromiseID, receiver, method string, args []byte, attached *big.Int) PromiseID {
	payload := append([]byte(nil), args...)
	return e.sandbox.enqueue(&frame{
		deps:     append([]PromiseID(nil), deps...),
		caller:   e.current,
		receiver: receiver,
		attached: amountOrZero(attached),
		run: func(env *Env, _ []PromiseResult) ([]byte, error) {
			fn := e.sandbox.lookupExternal(receiver, method)
			if fn == nil {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownReceiver, receiver, method)
			}
			return fn(env, payload)
		},
	})
}

// Then schedules a private callback on the current account after the given
// promises settle. The callback runs even when a dependency failed.
func (e *Env) Then(deps []PromiseID, fn Continuation) PromiseID {
	current := e.current
	return e.sandbox.enqueue(&frame{
		deps:     append([]PromiseID(nil), deps...),
		caller:   current,
		receiver: current,
		run: func(env *Env, results []PromiseResult) ([]byte, error) {
			return fn(env, results)
		},
	})
}

// TransferNative schedules a native transfer from the current account.
func (e *Env) TransferNative(to string, amount *big.Int) PromiseID {
	from := e.current
	value := amountOrZero(amount)
	return e.sandbox.enqueue(&frame{
		caller:   from,
		receiver: from,
		run: func(env *Env, _ []PromiseResult) ([]byte, error) {
			if err := e.sandbox.MoveNative(from, to, value); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
}

func (s *Sandbox) lookupExternal(account, method string) ExternalFn {
	s.mu.Lock()
	defer s.mu.Unlock()
	methods, ok := s.externals[account]
	if !ok {
		return nil
	}
	return methods[method]
}
