package host

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownReceiver is returned when a call targets an account with no
	// registered external handler.
	ErrUnknownReceiver = errors.New("host: receiver does not export the method")
	// ErrInsufficientFunds is returned when a native transfer or attached
	// deposit exceeds the sender's balance.
	ErrInsufficientFunds = errors.New("host: insufficient native balance")
)

// PromiseID identifies a scheduled promise inside a sandbox run.
type PromiseID uuid.UUID

// String renders the identifier in canonical UUID form.
func (id PromiseID) String() string { return uuid.UUID(id).String() }

// PromiseResult carries the outcome of a completed promise. Value holds the
// raw return payload when OK is set, the error text otherwise.
type PromiseResult struct {
	OK    bool
	Value []byte
}

// ExternalFn is a handler an external account exports. It observes the call
// environment of the receiving account.
type ExternalFn func(env *Env, args []byte) ([]byte, error)

// Continuation is a private callback chained after one or more promises. It
// always runs, even when its dependencies failed, so it can inspect the
// results and issue refunds.
type Continuation func(env *Env, results []PromiseResult) ([]byte, error)

type frame struct {
	id       PromiseID
	deps     []PromiseID
	receiver string
	caller   string
	attached *big.Int
	run      func(env *Env, results []PromiseResult) ([]byte, error)
}

// Sandbox hosts native balances, external method handlers and the promise
// queue. Promises execute in FIFO order after the synchronous phase of an
// operation returns, mirroring asynchronous cross-account calls.
type Sandbox struct {
	mu        sync.Mutex
	balances  map[string]*big.Int
	externals map[string]map[string]ExternalFn
	events    []string
	queue     []*frame
	results   map[PromiseID]PromiseResult
	now       func() uint64
}

// NewSandbox constructs an empty sandbox with the clock pinned to zero.
// Callers override the clock before scheduling time-sensitive work.
func NewSandbox() *Sandbox {
	return &Sandbox{
		balances:  make(map[string]*big.Int),
		externals: make(map[string]map[string]ExternalFn),
		results:   make(map[PromiseID]PromiseResult),
		now:       func() uint64 { return 0 },
	}
}

// SetClock overrides the timestamp source. The clock reports nanoseconds.
func (s *Sandbox) SetClock(now func() uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Now returns the current block timestamp in nanoseconds.
func (s *Sandbox) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// RegisterExternal exports a method on an external account.
func (s *Sandbox) RegisterExternal(account, method string, fn ExternalFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	methods, ok := s.externals[account]
	if !ok {
		methods = make(map[string]ExternalFn)
		s.externals[account] = methods
	}
	methods[method] = fn
}

// SetBalance seeds an account's native balance.
func (s *Sandbox) SetBalance(account string, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = new(big.Int).Set(amount)
}

// Balance reports an account's native balance.
func (s *Sandbox) Balance(account string) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[account]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

func (s *Sandbox) debit(account string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance, ok := s.balances[account]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, account)
	}
	balance.Sub(balance, amount)
	return nil
}

func (s *Sandbox) credit(account string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	balance, ok := s.balances[account]
	if !ok {
		balance = big.NewInt(0)
		s.balances[account] = balance
	}
	balance.Add(balance, amount)
}

// MoveNative transfers native funds between accounts synchronously.
func (s *Sandbox) MoveNative(from, to string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.debit(from, amount); err != nil {
		return err
	}
	s.credit(to, amount)
	return nil
}

// Events returns every event logged so far, in emission order.
func (s *Sandbox) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// DrainEvents returns and clears the event log.
func (s *Sandbox) DrainEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *Sandbox) logEvent(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, raw)
}

// Result reports the outcome of a completed promise.
func (s *Sandbox) Result(id PromiseID) (PromiseResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	return result, ok
}

func (s *Sandbox) enqueue(f *frame) PromiseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.id = PromiseID(uuid.New())
	s.queue = append(s.queue, f)
	return f.id
}

// NewEnv opens a call environment: predecessor invokes a method on current
// carrying the attached native deposit. The deposit is debited from the
// predecessor up front and credited to current.
func (s *Sandbox) NewEnv(predecessor, current string, attached *big.Int) (*Env, error) {
	if attached == nil {
		attached = big.NewInt(0)
	}
	if err := s.MoveNative(predecessor, current, attached); err != nil {
		return nil, err
	}
	return &Env{
		sandbox:     s,
		predecessor: predecessor,
		current:     current,
		attached:    new(big.Int).Set(attached),
	}, nil
}

// Run drains the promise queue. Each frame waits for its dependencies, which
// by construction precede it in the queue. External handler errors mark the
// promise failed and refund its attached deposit to the caller; they never
// abort the run.
func (s *Sandbox) Run() error {
	deferred := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		if deferred > len(s.queue) {
			s.mu.Unlock()
			return fmt.Errorf("host: %d promises wait on dependencies that never settle", deferred)
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		results := make([]PromiseResult, len(next.deps))
		ready := true
		for i, dep := range next.deps {
			result, ok := s.results[dep]
			if !ok {
				ready = false
				break
			}
			results[i] = result
		}
		if !ready {
			// Dependency not settled yet, push the frame back behind it.
			s.queue = append(s.queue, next)
			deferred++
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		deferred = 0
		s.execute(next, results)
	}
}

func (s *Sandbox) execute(f *frame, results []PromiseResult) {
	if err := s.MoveNative(f.caller, f.receiver, f.attached); err != nil {
		s.settle(f.id, PromiseResult{Value: []byte(err.Error())})
		return
	}
	env := &Env{
		sandbox:     s,
		predecessor: f.caller,
		current:     f.receiver,
		attached:    amountOrZero(f.attached),
	}
	value, err := f.run(env, results)
	if err != nil {
		// Failed receipts return the attached deposit to the caller.
		_ = s.MoveNative(f.receiver, f.caller, f.attached)
		s.settle(f.id, PromiseResult{Value: []byte(err.Error())})
		return
	}
	s.settle(f.id, PromiseResult{OK: true, Value: value})
}

func (s *Sandbox) settle(id PromiseID, result PromiseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = result
}

// Accounts lists every account holding a native balance, sorted.
func (s *Sandbox) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.balances))
	for account := range s.balances {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

func amountOrZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}
