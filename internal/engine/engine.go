// Package engine defines the contract with the external Ledger Engine: the
// collaborator that owns key derivation, transaction build/sign/serialize,
// mass and fee-rate primitives, and the wire protocol to ledger nodes. The
// orchestration core consumes the engine only through the Engine interface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// Engine errors. Implementations wrap their own diagnostics around these so
// callers can classify failures without losing the engine's original text.
var (
	ErrNotConnected = errors.New("engine not connected")
	ErrBuildFailed  = errors.New("transaction build failed")
	ErrSubmitFailed = errors.New("transaction submission failed")
	ErrQueryFailed  = errors.New("engine query failed")
)

// UTXOEntry is an unspent output as reported by the engine. Read-only to
// the orchestration core; amounts are in the smallest unit.
type UTXOEntry struct {
	Address    types.Address  `json:"address"`
	Outpoint   types.Outpoint `json:"outpoint"`
	Amount     uint64         `json:"amount"`
	Script     []byte         `json:"script"`
	BlockScore uint64         `json:"block_score"`
	IsCoinbase bool           `json:"is_coinbase"`
}

// Output is a payment target for a transaction build.
type Output struct {
	Address types.Address `json:"address"`
	Amount  uint64        `json:"amount"`
}

// FeeEstimate is the engine's fee computation for a candidate transaction.
// BaseFee = ceil(feerate × EstimatedMass).
type FeeEstimate struct {
	BaseFee       uint64 `json:"base_fee"`
	EstimatedMass uint64 `json:"estimated_mass"`
	MassLimit     uint64 `json:"mass_limit"`
	TotalFee      uint64 `json:"total_fee"`
}

// BaseFeeFor computes ceil(feerate × mass) as an integer smallest-unit fee.
func BaseFeeFor(feerate float64, mass uint64) uint64 {
	return uint64(math.Ceil(feerate * float64(mass)))
}

// SignedTransaction is a fully signed transaction produced by the engine.
// Input and output totals are carried so callers can compute the realized
// fee without reparsing Raw.
type SignedTransaction struct {
	ID      types.Hash  `json:"id"`
	Mass    uint64      `json:"mass"`
	Inputs  []UTXOEntry `json:"inputs"`
	Outputs []Output    `json:"outputs"`
	Raw     []byte      `json:"raw"`
}

// InputAmount returns the sum of input amounts.
func (tx *SignedTransaction) InputAmount() uint64 {
	var total uint64
	for _, in := range tx.Inputs {
		total += in.Amount
	}
	return total
}

// OutputAmount returns the sum of output amounts.
func (tx *SignedTransaction) OutputAmount() uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		total += out.Amount
	}
	return total
}

// Fee returns the realized fee: inputs minus outputs.
func (tx *SignedTransaction) Fee() uint64 {
	in, out := tx.InputAmount(), tx.OutputAmount()
	if out > in {
		return 0
	}
	return in - out
}

// Credentials identify the key material a wallet operation derives from.
// Either Mnemonic (+ optional Passphrase) or PrivateKey is set, never both.
type Credentials struct {
	Mnemonic     string
	Passphrase   string
	PrivateKey   []byte
	AccountIndex uint32
}

// SingleKey returns true when the credentials hold one imported private key
// rather than an HD seed.
func (c Credentials) SingleKey() bool {
	return len(c.PrivateKey) > 0
}

// Zero wipes the private key material.
func (c *Credentials) Zero() {
	for i := range c.PrivateKey {
		c.PrivateKey[i] = 0
	}
	c.Mnemonic = ""
	c.Passphrase = ""
}

// BuildRequest describes a transaction for the engine's UTXO-set-driven
// generator. PriorityFee is additive on top of the engine's computed base
// fee; the generator knows no notion of a total fee.
type BuildRequest struct {
	Creds         Credentials
	FromIndex     uint32
	FromChange    bool
	Outputs       []Output
	ChangeAddress types.Address
	PriorityFee   uint64
	Payload       []byte
}

// Validate performs basic sanity checks before any network round-trip.
func (r *BuildRequest) Validate() error {
	if len(r.Outputs) == 0 {
		return fmt.Errorf("build request has no outputs")
	}
	for i, out := range r.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("output %d has zero amount", i)
		}
		if out.Address.IsZero() {
			return fmt.Errorf("output %d has zero address", i)
		}
	}
	return nil
}

// Engine is the Ledger Engine contract. All blocking operations take a
// context; timeout behavior is the engine's responsibility, not the core's.
type Engine interface {
	// UTXOs returns the spendable outputs for the given addresses.
	UTXOs(ctx context.Context, addrs []types.Address) ([]UTXOEntry, error)

	// Balance returns the confirmed balance of one address.
	Balance(ctx context.Context, addr types.Address) (uint64, error)

	// FeerateEstimate returns the fee-market feerate (smallest unit per
	// unit of mass).
	FeerateEstimate(ctx context.Context) (float64, error)

	// DeriveAddress derives the wallet address at (index, change) for the
	// given credentials. Pure and deterministic; no network access.
	DeriveAddress(creds Credentials, index uint32, change bool) (types.Address, error)

	// Estimate performs a provisional build round-trip and returns the
	// engine's fee estimate for the candidate transaction. The estimate may
	// differ from the final transaction's base fee once a change output
	// alters the mass.
	Estimate(ctx context.Context, req BuildRequest) (FeeEstimate, error)

	// BuildAndSign builds and signs the requested payment. It may split the
	// payment into multiple transactions when the inputs cannot cover it in
	// one; the returned slice is never empty on success.
	BuildAndSign(ctx context.Context, req BuildRequest) ([]*SignedTransaction, error)

	// Submit broadcasts a signed transaction and returns its id.
	Submit(ctx context.Context, tx *SignedTransaction) (types.Hash, error)

	// SubscribeAddresses registers server-side interest in UTXO and
	// transaction events for the given addresses.
	SubscribeAddresses(ctx context.Context, addrs []types.Address) error

	// UnsubscribeAddresses drops server-side interest for exactly the given
	// addresses.
	UnsubscribeAddresses(ctx context.Context, addrs []types.Address) error

	// Events returns the engine's raw event stream. The channel is closed
	// by Close.
	Events() <-chan Event

	// Close releases the engine's resources. Idempotent.
	Close() error
}
