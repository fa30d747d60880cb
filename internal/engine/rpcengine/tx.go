package rpcengine

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-hub/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

// Wire transaction layout. Mass is the length of the canonical signing
// serialization; the node prices fees per mass unit.
const (
	txVersion = 1

	txOverheadMass = 4 + 4 + 4 + 8 // version + inputCount + outputCount + locktime
	perInputMass   = 32 + 4        // prevout txid + index
	perOutputMass  = 8 + 20        // value + P2PKH address
	payloadLenMass = 4
)

// transaction is the wire form of a klingnet payment.
type transaction struct {
	Version  uint32     `json:"version"`
	Inputs   []txInput  `json:"inputs"`
	Outputs  []txOutput `json:"outputs"`
	Payload  []byte     `json:"payload,omitempty"`
	LockTime uint64     `json:"locktime"`
}

// txInput references a UTXO being spent.
type txInput struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature,omitempty"`
	PubKey    []byte         `json:"pubkey,omitempty"`
}

// txOutput creates a new P2PKH UTXO.
type txOutput struct {
	Value   uint64        `json:"value"`
	Address types.Address `json:"address"`
}

// inputJSONWire carries hex-encoded byte fields on the wire.
type inputJSONWire struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature string         `json:"signature,omitempty"`
	PubKey    string         `json:"pubkey,omitempty"`
}

func (in txInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSONWire{
		PrevOut:   in.PrevOut,
		Signature: hex.EncodeToString(in.Signature),
		PubKey:    hex.EncodeToString(in.PubKey),
	})
}

func (in *txInput) UnmarshalJSON(data []byte) error {
	var j inputJSONWire
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	var err error
	if j.Signature != "" {
		if in.Signature, err = hex.DecodeString(j.Signature); err != nil {
			return err
		}
	}
	if j.PubKey != "" {
		if in.PubKey, err = hex.DecodeString(j.PubKey); err != nil {
			return err
		}
	}
	return nil
}

// signingBytes returns the canonical serialization used for signing and
// for the transaction id. Signatures are excluded to avoid the circular
// dependency during signing.
// Format: version(4) | input_count(4) | [prevout(36)]... |
// output_count(4) | [value(8) + address(20)]... | payload_len(4) + payload | locktime(8)
func (t *transaction) signingBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, out.Address[:]...)
	}

	if len(t.Payload) > 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Payload)))
		buf = append(buf, t.Payload...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)

	return buf
}

// id computes the transaction id: BLAKE3 of the signing serialization.
func (t *transaction) id() types.Hash {
	return crypto.Hash(t.signingBytes())
}

// mass returns the fee-relevant size of the transaction.
func (t *transaction) mass() uint64 {
	return uint64(len(t.signingBytes()))
}

// estimateMass predicts the mass of a transaction before it is built.
func estimateMass(numInputs, numOutputs, payloadLen int) uint64 {
	size := txOverheadMass + perInputMass*numInputs + perOutputMass*numOutputs
	if payloadLen > 0 {
		size += payloadLenMass + payloadLen
	}
	return uint64(size)
}

// sign signs every input with the key owning its spent output. addrKeys
// maps the owning address of each input to its signer. All inputs sign
// the same id hash; signatures per key are computed once.
func (t *transaction) sign(inputAddrs []types.Address, addrKeys map[types.Address]*crypto.PrivateKey) error {
	if len(inputAddrs) != len(t.Inputs) {
		return fmt.Errorf("have %d input addresses for %d inputs", len(inputAddrs), len(t.Inputs))
	}

	hash := t.id()

	type sigPub struct {
		sig    []byte
		pubKey []byte
	}
	cache := make(map[types.Address]*sigPub)

	for i := range t.Inputs {
		addr := inputAddrs[i]
		sp, ok := cache[addr]
		if !ok {
			key, found := addrKeys[addr]
			if !found {
				return fmt.Errorf("no signer for address %s (input %d)", addr, i)
			}
			sig, err := key.Sign(hash[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			sp = &sigPub{sig: sig, pubKey: key.PublicKey()}
			cache[addr] = sp
		}
		t.Inputs[i].Signature = sp.sig
		t.Inputs[i].PubKey = sp.pubKey
	}
	return nil
}
