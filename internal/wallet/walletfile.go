package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
)

// credentialsFile is the JSON payload stored (encrypted) in a wallet file.
type credentialsFile struct {
	Mnemonic     string `json:"mnemonic,omitempty"`
	Passphrase   string `json:"passphrase,omitempty"`
	PrivateKey   string `json:"private_key,omitempty"`
	AccountIndex uint32 `json:"account_index,omitempty"`
}

// SaveEncrypted writes wallet credentials to path, encrypted with the given
// password (Argon2id + XChaCha20-Poly1305).
func SaveEncrypted(path string, creds engine.Credentials, password []byte) error {
	payload := credentialsFile{
		Mnemonic:     creds.Mnemonic,
		Passphrase:   creds.Passphrase,
		AccountIndex: creds.AccountIndex,
	}
	if len(creds.PrivateKey) > 0 {
		payload.PrivateKey = hex.EncodeToString(creds.PrivateKey)
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	encrypted, err := Encrypt(plain, password, DefaultParams())
	for i := range plain {
		plain[i] = 0
	}
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	return os.WriteFile(path, encrypted, 0600)
}

// LoadEncrypted reads and decrypts wallet credentials from path.
func LoadEncrypted(path string, password []byte) (engine.Credentials, error) {
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return engine.Credentials{}, fmt.Errorf("read wallet file: %w", err)
	}

	plain, err := Decrypt(encrypted, password)
	if err != nil {
		return engine.Credentials{}, fmt.Errorf("decrypt wallet file: %w", err)
	}

	var payload credentialsFile
	err = json.Unmarshal(plain, &payload)
	for i := range plain {
		plain[i] = 0
	}
	if err != nil {
		return engine.Credentials{}, fmt.Errorf("parse wallet file: %w", err)
	}

	creds := engine.Credentials{
		Mnemonic:     payload.Mnemonic,
		Passphrase:   payload.Passphrase,
		AccountIndex: payload.AccountIndex,
	}
	if payload.PrivateKey != "" {
		key, err := hex.DecodeString(payload.PrivateKey)
		if err != nil {
			return engine.Credentials{}, fmt.Errorf("wallet file private key: %w", err)
		}
		creds.PrivateKey = key
	}
	return creds, nil
}
