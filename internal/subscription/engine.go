// Package subscription turns raw engine UTXO/transaction events into
// stable, per-session balance-change notifications. One Engine exists per
// session; it tracks a monitored address set, last-known balances, and a
// single raw event handler whose identity is preserved for exact removal.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultAddressCount is how many receive addresses are monitored when a
// subscribe call names none.
const DefaultAddressCount = 5

// feedCapacity bounds the notification feed. Sends never block: when the
// feed is full the notification is dropped and logged.
const feedCapacity = 16

// Notification is one user-visible balance-change event. TxID is only set
// when the subscription was created with includeTransactions. The engine
// does not recompute balances from event payloads; Amount is whatever the
// raw event carried, and a fresh balance query is the caller's business.
type Notification struct {
	Kind      engine.EventKind `json:"kind"`
	Address   types.Address    `json:"address"`
	TxID      *types.Hash      `json:"txid,omitempty"`
	Amount    uint64           `json:"amount,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// AddressStatus reports one monitored address in a status call. Error is a
// per-address marker; a failed refetch does not fail the whole call.
type AddressStatus struct {
	Address types.Address `json:"address"`
	Balance uint64        `json:"balance"`
	Last    uint64        `json:"last_balance"`
	Delta   int64         `json:"delta"`
	Error   string        `json:"error,omitempty"`
}

// Engine is the per-session balance subscription state machine:
// Unsubscribed → Subscribed(addresses) → Unsubscribed.
type Engine struct {
	conn *ledger.Connection
	wal  *wallet.Handle

	mu          sync.Mutex
	monitored   map[types.Address]struct{}
	lastBalance map[types.Address]uint64
	includeTx   bool
	handler     ledger.HandlerID
	hasHandler  bool
	feed        chan Notification

	logger zerolog.Logger
}

// New creates an unsubscribed engine bound to a session's connection and
// wallet. A nil wallet is allowed; such an engine can only subscribe to
// explicitly named addresses.
func New(conn *ledger.Connection, wal *wallet.Handle) *Engine {
	return &Engine{
		conn:        conn,
		wal:         wal,
		monitored:   make(map[types.Address]struct{}),
		lastBalance: make(map[types.Address]uint64),
		feed:        make(chan Notification, feedCapacity),
		logger:      klog.Subscribe,
	}
}

// Feed returns the notification channel. It is buffered and never closed
// while the engine lives; poll it or drain via Drain.
func (e *Engine) Feed() <-chan Notification {
	return e.feed
}

// Subscribe starts (or widens) monitoring. With no addresses given, the
// wallet's first DefaultAddressCount receive addresses are used, stopping
// early if derivation fails. A balance snapshot is fetched per address;
// a failed snapshot defaults that address's last-known balance to zero
// instead of aborting the subscription.
func (e *Engine) Subscribe(ctx context.Context, addrs []types.Address, includeTransactions bool) error {
	eng, err := e.conn.Engine()
	if err != nil {
		return err
	}

	if len(addrs) == 0 {
		addrs, err = e.defaultAddresses(eng)
		if err != nil {
			return err
		}
	}

	// Snapshot balances before registering the handler, so the first event
	// diff has a baseline.
	balances := make(map[types.Address]uint64, len(addrs))
	for _, addr := range addrs {
		bal, err := eng.Balance(ctx, addr)
		if err != nil {
			e.logger.Warn().Err(err).Str("address", addr.String()).Msg("balance snapshot failed, defaulting to 0")
			bal = 0
		}
		balances[addr] = bal
	}

	if err := eng.SubscribeAddresses(ctx, addrs); err != nil {
		return err
	}

	e.mu.Lock()
	e.includeTx = includeTransactions
	for _, addr := range addrs {
		e.monitored[addr] = struct{}{}
		e.lastBalance[addr] = balances[addr]
	}
	if !e.hasHandler {
		// One raw handler per session; its id is retained so the exact
		// same registration can be removed later.
		e.handler = e.conn.AddHandler(e.handleEvent)
		e.hasHandler = true
	}
	count := len(e.monitored)
	e.mu.Unlock()

	e.logger.Info().Int("addresses", count).Bool("include_tx", includeTransactions).Msg("subscribed")
	return nil
}

// defaultAddresses derives the wallet's first receive addresses, stopping
// early on the first derivation failure.
func (e *Engine) defaultAddresses(d wallet.Deriver) ([]types.Address, error) {
	if e.wal == nil {
		return nil, wallet.ErrIndexOutOfRange
	}
	var addrs []types.Address
	for index := uint32(0); index < DefaultAddressCount; index++ {
		addr, err := e.wal.Address(d, index, false)
		if err != nil {
			break
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, wallet.ErrIndexOutOfRange
	}
	return addrs, nil
}

// handleEvent is the single raw event handler. Events for addresses
// outside the monitored set are discarded with no notification and no
// state mutation; this is what prevents cross-session and stale-address
// notification leakage.
func (e *Engine) handleEvent(ev engine.Event) {
	if !ev.Kind.AddressScoped() {
		return
	}

	e.mu.Lock()
	_, watched := e.monitored[ev.Address]
	includeTx := e.includeTx
	e.mu.Unlock()
	if !watched {
		return
	}

	n := Notification{
		Kind:      ev.Kind,
		Address:   ev.Address,
		Amount:    ev.Amount,
		Timestamp: time.Now().UTC(),
	}
	if includeTx && ev.TxID != nil {
		id := *ev.TxID
		n.TxID = &id
	}

	select {
	case e.feed <- n:
	default:
		e.logger.Warn().Str("address", ev.Address.String()).Msg("notification feed full, dropping")
	}
}

// Unsubscribe stops monitoring the given addresses, or all of them when
// none are given. Addresses not currently monitored are silently ignored.
// When the monitored set empties, the raw handler is deregistered and the
// engine returns to Unsubscribed; calling Unsubscribe on an already-empty
// set is a no-op.
func (e *Engine) Unsubscribe(ctx context.Context, addrs []types.Address) error {
	e.mu.Lock()
	var drop []types.Address
	if len(addrs) == 0 {
		for addr := range e.monitored {
			drop = append(drop, addr)
		}
	} else {
		for _, addr := range addrs {
			if _, ok := e.monitored[addr]; ok {
				drop = append(drop, addr)
			}
		}
	}
	for _, addr := range drop {
		delete(e.monitored, addr)
		delete(e.lastBalance, addr)
	}
	empty := len(e.monitored) == 0
	if empty && e.hasHandler {
		// A live handler registered for zero addresses is a resource
		// leak; remove it and transition back to Unsubscribed.
		e.conn.RemoveHandler(e.handler)
		e.hasHandler = false
	}
	e.mu.Unlock()

	if len(drop) == 0 {
		return nil
	}

	eng, err := e.conn.Engine()
	if err != nil {
		return err
	}
	if err := eng.UnsubscribeAddresses(ctx, drop); err != nil {
		return err
	}

	e.logger.Info().Int("dropped", len(drop)).Bool("unsubscribed", empty).Msg("unsubscribed addresses")
	return nil
}

// Monitored returns the current monitored address set.
func (e *Engine) Monitored() []types.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	addrs := make([]types.Address, 0, len(e.monitored))
	for addr := range e.monitored {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Active reports whether a raw event handler is currently registered.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasHandler
}

// Drain returns up to max pending notifications without blocking.
// max <= 0 drains everything currently buffered.
func (e *Engine) Drain(max int) []Notification {
	if max <= 0 {
		max = feedCapacity
	}
	var out []Notification
	for len(out) < max {
		select {
		case n := <-e.feed:
			out = append(out, n)
		default:
			return out
		}
	}
	return out
}

// Status refetches each monitored address's balance best-effort and
// reports it with the delta versus the last-known balance. A failed fetch
// marks that address only; the call itself succeeds.
func (e *Engine) Status(ctx context.Context) ([]AddressStatus, error) {
	eng, err := e.conn.Engine()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	addrs := make([]types.Address, 0, len(e.monitored))
	last := make(map[types.Address]uint64, len(e.monitored))
	for addr := range e.monitored {
		addrs = append(addrs, addr)
		last[addr] = e.lastBalance[addr]
	}
	e.mu.Unlock()

	statuses := make([]AddressStatus, 0, len(addrs))
	for _, addr := range addrs {
		st := AddressStatus{Address: addr, Last: last[addr]}
		bal, err := eng.Balance(ctx, addr)
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Balance = bal
			st.Delta = int64(bal) - int64(last[addr])
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Close unsubscribes everything. Failures are returned for the caller to
// log; the in-memory state is cleared regardless.
func (e *Engine) Close(ctx context.Context) error {
	return e.Unsubscribe(ctx, nil)
}
