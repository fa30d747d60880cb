package rpcengine

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-44 derivation path constants.
// Full path: m/44'/CoinType'/account'/change/index
const (
	purposeBIP44 = bip32.FirstHardenedChild + 44

	// coinTypeKlingnet is the klingnet coin type (hardened).
	coinTypeKlingnet = bip32.FirstHardenedChild + 8888

	changeExternal = 0
	changeInternal = 1
)

// signerFor returns the private key that spends from (index, change) under
// the given credentials. Single-key credentials ignore the path entirely.
func signerFor(creds engine.Credentials, index uint32, change bool) (*crypto.PrivateKey, error) {
	if creds.SingleKey() {
		return crypto.PrivateKeyFromBytes(creds.PrivateKey)
	}

	seed, err := wallet.SeedFromMnemonic(creds.Mnemonic, creds.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("seed from mnemonic: %w", err)
	}

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	changeIdx := uint32(changeExternal)
	if change {
		changeIdx = changeInternal
	}
	path := []uint32{
		purposeBIP44,
		coinTypeKlingnet,
		bip32.FirstHardenedChild + creds.AccountIndex,
		changeIdx,
		index,
	}

	key := master
	for _, childIdx := range path {
		key, err = key.NewChildKey(childIdx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", childIdx, err)
		}
	}

	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromBytes(raw)
}

// deriveAddress derives the address at (index, change).
// Address = first 20 bytes of BLAKE3(compressed_pubkey).
func deriveAddress(creds engine.Credentials, index uint32, change bool) (types.Address, error) {
	signer, err := signerFor(creds, index, change)
	if err != nil {
		return types.Address{}, err
	}
	defer signer.Zero()
	return crypto.AddressFromPubKey(signer.PublicKey()), nil
}
