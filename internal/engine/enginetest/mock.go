// Package enginetest provides a test double for the Ledger Engine.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// Mock is a configurable engine.Engine double. Function fields override
// behavior per method; unset fields fall back to benign defaults. Calls
// counts every method invocation for zero-interaction assertions.
type Mock struct {
	UTXOsFn            func(ctx context.Context, addrs []types.Address) ([]engine.UTXOEntry, error)
	BalanceFn          func(ctx context.Context, addr types.Address) (uint64, error)
	FeerateEstimateFn  func(ctx context.Context) (float64, error)
	DeriveAddressFn    func(creds engine.Credentials, index uint32, change bool) (types.Address, error)
	EstimateFn         func(ctx context.Context, req engine.BuildRequest) (engine.FeeEstimate, error)
	BuildAndSignFn     func(ctx context.Context, req engine.BuildRequest) ([]*engine.SignedTransaction, error)
	SubmitFn           func(ctx context.Context, tx *engine.SignedTransaction) (types.Hash, error)
	SubscribeAddrsFn   func(ctx context.Context, addrs []types.Address) error
	UnsubscribeAddrsFn func(ctx context.Context, addrs []types.Address) error

	Calls int64 // Total method invocations (excluding Events/Close).

	Subscribed   [][]types.Address // Arguments of SubscribeAddresses calls.
	Unsubscribed [][]types.Address // Arguments of UnsubscribeAddresses calls.

	events    chan engine.Event
	closeOnce sync.Once
	mu        sync.Mutex
}

// New returns a Mock with a buffered event channel.
func New() *Mock {
	return &Mock{events: make(chan engine.Event, 32)}
}

// Emit injects an event into the mock's event stream.
func (m *Mock) Emit(ev engine.Event) {
	m.events <- ev
}

func (m *Mock) count() {
	atomic.AddInt64(&m.Calls, 1)
}

// CallCount returns the number of engine method invocations so far.
func (m *Mock) CallCount() int64 {
	return atomic.LoadInt64(&m.Calls)
}

func (m *Mock) UTXOs(ctx context.Context, addrs []types.Address) ([]engine.UTXOEntry, error) {
	m.count()
	if m.UTXOsFn != nil {
		return m.UTXOsFn(ctx, addrs)
	}
	return nil, nil
}

func (m *Mock) Balance(ctx context.Context, addr types.Address) (uint64, error) {
	m.count()
	if m.BalanceFn != nil {
		return m.BalanceFn(ctx, addr)
	}
	return 0, nil
}

func (m *Mock) FeerateEstimate(ctx context.Context) (float64, error) {
	m.count()
	if m.FeerateEstimateFn != nil {
		return m.FeerateEstimateFn(ctx)
	}
	return 1.0, nil
}

func (m *Mock) DeriveAddress(creds engine.Credentials, index uint32, change bool) (types.Address, error) {
	m.count()
	if m.DeriveAddressFn != nil {
		return m.DeriveAddressFn(creds, index, change)
	}
	// Deterministic fake: byte 0 is index+1, byte 1 marks change.
	var a types.Address
	a[0] = byte(index + 1)
	if change {
		a[1] = 1
	}
	return a, nil
}

func (m *Mock) Estimate(ctx context.Context, req engine.BuildRequest) (engine.FeeEstimate, error) {
	m.count()
	if m.EstimateFn != nil {
		return m.EstimateFn(ctx, req)
	}
	return engine.FeeEstimate{BaseFee: 1000, EstimatedMass: 1000, MassLimit: 100_000, TotalFee: 1000}, nil
}

func (m *Mock) BuildAndSign(ctx context.Context, req engine.BuildRequest) ([]*engine.SignedTransaction, error) {
	m.count()
	if m.BuildAndSignFn != nil {
		return m.BuildAndSignFn(ctx, req)
	}
	return []*engine.SignedTransaction{{}}, nil
}

func (m *Mock) Submit(ctx context.Context, tx *engine.SignedTransaction) (types.Hash, error) {
	m.count()
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, tx)
	}
	return tx.ID, nil
}

func (m *Mock) SubscribeAddresses(ctx context.Context, addrs []types.Address) error {
	m.count()
	m.mu.Lock()
	m.Subscribed = append(m.Subscribed, addrs)
	m.mu.Unlock()
	if m.SubscribeAddrsFn != nil {
		return m.SubscribeAddrsFn(ctx, addrs)
	}
	return nil
}

func (m *Mock) UnsubscribeAddresses(ctx context.Context, addrs []types.Address) error {
	m.count()
	m.mu.Lock()
	m.Unsubscribed = append(m.Unsubscribed, addrs)
	m.mu.Unlock()
	if m.UnsubscribeAddrsFn != nil {
		return m.UnsubscribeAddrsFn(ctx, addrs)
	}
	return nil
}

func (m *Mock) Events() <-chan engine.Event {
	return m.events
}

func (m *Mock) Close() error {
	m.closeOnce.Do(func() { close(m.events) })
	return nil
}
