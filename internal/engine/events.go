package engine

import (
	"time"

	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// EventKind discriminates the engine's raw event union.
type EventKind uint8

const (
	// EventUTXOsChanged fires when the UTXO set of a subscribed address
	// changed for any reason.
	EventUTXOsChanged EventKind = iota + 1

	// EventTxIncoming fires when a transaction paying a subscribed address
	// is accepted.
	EventTxIncoming

	// EventTxSpent fires when an output of a subscribed address is spent.
	EventTxSpent

	// EventBalanceChanged fires when the engine recomputed an address
	// balance.
	EventBalanceChanged

	// EventBlockAdded fires when a new block is accepted. Carries no
	// address.
	EventBlockAdded

	// EventChainReorg fires when previously accepted blocks were
	// superseded. Carries no address.
	EventChainReorg
)

// String returns a stable wire name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventUTXOsChanged:
		return "utxos_changed"
	case EventTxIncoming:
		return "tx_incoming"
	case EventTxSpent:
		return "tx_spent"
	case EventBalanceChanged:
		return "balance_changed"
	case EventBlockAdded:
		return "block_added"
	case EventChainReorg:
		return "chain_reorg"
	default:
		return "unknown"
	}
}

// EventKindFromString parses a wire name into an EventKind.
// Returns 0 for unknown names.
func EventKindFromString(s string) EventKind {
	switch s {
	case "utxos_changed":
		return EventUTXOsChanged
	case "tx_incoming":
		return EventTxIncoming
	case "tx_spent":
		return EventTxSpent
	case "balance_changed":
		return EventBalanceChanged
	case "block_added":
		return EventBlockAdded
	case "chain_reorg":
		return EventChainReorg
	}
	return 0
}

// AddressScoped returns true for kinds whose events carry an address.
func (k EventKind) AddressScoped() bool {
	switch k {
	case EventUTXOsChanged, EventTxIncoming, EventTxSpent, EventBalanceChanged:
		return true
	}
	return false
}

// Event is one raw engine event. TxID is nil for kinds that carry no
// transaction; Amount is zero when unknown.
type Event struct {
	Kind      EventKind
	Address   types.Address
	TxID      *types.Hash
	Amount    uint64
	Timestamp time.Time
}
