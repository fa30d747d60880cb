// Package wallet implements per-session wallet handles and UTXO coin
// selection. Handles hold key material only; derivation and signing are
// delegated to the Ledger Engine.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// Wallet errors.
var (
	ErrIndexOutOfRange = errors.New("address index out of range")
	ErrClosed          = errors.New("wallet is closed")
)

// DefaultProbeRange is how many receive address indices are probed when
// mapping an address back to its derivation index.
const DefaultProbeRange = 10

// Deriver is the subset of the engine contract the wallet needs. Derivation
// is a pure function of the credentials, index, and change flag.
type Deriver interface {
	DeriveAddress(creds engine.Credentials, index uint32, change bool) (types.Address, error)
}

// Handle is a per-session wallet: either an HD wallet seeded from a
// mnemonic or a single imported private key.
type Handle struct {
	mu      sync.Mutex
	network config.Network
	creds   engine.Credentials
	closed  bool
}

// NewFromMnemonic creates an HD wallet handle. The mnemonic is validated
// per BIP-39 before being accepted.
func NewFromMnemonic(network config.Network, mnemonic, passphrase string) (*Handle, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	return &Handle{
		network: network,
		creds: engine.Credentials{
			Mnemonic:   mnemonic,
			Passphrase: passphrase,
		},
	}, nil
}

// NewFromPrivateKey creates a single-key wallet handle from a 32-byte hex
// private key. Single-key wallets only support derivation index 0.
func NewFromPrivateKey(network config.Network, privKeyHex string) (*Handle, error) {
	key, err := hex.DecodeString(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(key))
	}
	return &Handle{
		network: network,
		creds:   engine.Credentials{PrivateKey: key},
	}, nil
}

// Network returns the network the wallet was created for.
func (h *Handle) Network() config.Network {
	return h.network
}

// SingleKey returns true for a wallet holding one imported key.
func (h *Handle) SingleKey() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.creds.SingleKey()
}

// Credentials returns a copy of the wallet's key material for passing to
// the engine's build/derive primitives.
func (h *Handle) Credentials() (engine.Credentials, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return engine.Credentials{}, ErrClosed
	}
	creds := h.creds
	if len(h.creds.PrivateKey) > 0 {
		creds.PrivateKey = make([]byte, len(h.creds.PrivateKey))
		copy(creds.PrivateKey, h.creds.PrivateKey)
	}
	return creds, nil
}

// Address derives the wallet address at (index, change). Single-key
// wallets only have index 0; other indices fail with ErrIndexOutOfRange.
func (h *Handle) Address(d Deriver, index uint32, change bool) (types.Address, error) {
	creds, err := h.Credentials()
	if err != nil {
		return types.Address{}, err
	}
	if creds.SingleKey() && index != 0 {
		return types.Address{}, fmt.Errorf("%w: single-key wallet only has index 0", ErrIndexOutOfRange)
	}
	return d.DeriveAddress(creds, index, change)
}

// FindAddress maps an address back to its receive derivation index by
// probing indices [0, maxProbe). Returns found=false when the address is
// not within the probed range; a derivation error aborts the probe.
func (h *Handle) FindAddress(d Deriver, addr types.Address, maxProbe uint32) (uint32, bool, error) {
	creds, err := h.Credentials()
	if err != nil {
		return 0, false, err
	}
	if creds.SingleKey() {
		maxProbe = 1
	}
	for index := uint32(0); index < maxProbe; index++ {
		derived, err := d.DeriveAddress(creds, index, false)
		if err != nil {
			return 0, false, fmt.Errorf("derive index %d: %w", index, err)
		}
		if derived == addr {
			return index, true, nil
		}
	}
	return 0, false, nil
}

// Close wipes the wallet's key material. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.creds.Zero()
	h.closed = true
	return nil
}
