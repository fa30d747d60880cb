package wallet

import (
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
)

func TestWalletFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.dat")
	password := []byte("correct horse")

	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	creds := engine.Credentials{Mnemonic: mnemonic, Passphrase: "extra", AccountIndex: 2}

	if err := SaveEncrypted(path, creds, password); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	loaded, err := LoadEncrypted(path, password)
	if err != nil {
		t.Fatalf("LoadEncrypted: %v", err)
	}
	if loaded.Mnemonic != mnemonic || loaded.Passphrase != "extra" || loaded.AccountIndex != 2 {
		t.Errorf("loaded = %+v, want original credentials", loaded)
	}
}

func TestWalletFile_WrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.dat")

	creds := engine.Credentials{PrivateKey: make([]byte, 32)}
	if err := SaveEncrypted(path, creds, []byte("right")); err != nil {
		t.Fatalf("SaveEncrypted: %v", err)
	}

	if _, err := LoadEncrypted(path, []byte("wrong")); err == nil {
		t.Error("wrong password should fail to decrypt")
	}
}

func TestWalletFile_Missing(t *testing.T) {
	if _, err := LoadEncrypted(filepath.Join(t.TempDir(), "nope.dat"), []byte("pw")); err == nil {
		t.Error("missing file should error")
	}
}
