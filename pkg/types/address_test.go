package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAddress_IsZero(t *testing.T) {
	var zero Address
	if !zero.IsZero() {
		t.Error("zero-value Address should be zero")
	}

	nonZero := Address{0x01}
	if nonZero.IsZero() {
		t.Error("non-zero Address should not be zero")
	}
}

func TestAddress_StringRoundTrip(t *testing.T) {
	SetAddressHRP(MainnetHRP)
	defer SetAddressHRP(MainnetHRP)

	a := Address{0xab, 0xcd, 0xef, 0x01, 0x02}
	s := a.String()
	if !strings.HasPrefix(s, "kgx1") {
		t.Errorf("String() = %q, want kgx1 prefix", s)
	}

	parsed, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	if parsed != a {
		t.Errorf("round trip mismatch: got %s, want %s", parsed.Hex(), a.Hex())
	}
}

func TestAddress_HRPPerNetwork(t *testing.T) {
	defer SetAddressHRP(MainnetHRP)

	a := Address{0x11, 0x22}
	tests := []struct {
		hrp    string
		prefix string
	}{
		{MainnetHRP, "kgx1"},
		{TestnetHRP, "tkgx1"},
		{DevnetHRP, "dkgx1"},
		{SimnetHRP, "skgx1"},
	}
	for _, tt := range tests {
		SetAddressHRP(tt.hrp)
		if s := a.String(); !strings.HasPrefix(s, tt.prefix) {
			t.Errorf("HRP %q: String() = %q, want prefix %q", tt.hrp, s, tt.prefix)
		}
	}
}

func TestParseAddress_RawHex(t *testing.T) {
	a := Address{0xde, 0xad, 0xbe, 0xef}
	parsed, err := ParseAddress(a.Hex())
	if err != nil {
		t.Fatalf("ParseAddress raw hex: %v", err)
	}
	if parsed != a {
		t.Errorf("got %s, want %s", parsed.Hex(), a.Hex())
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"kgx1",           // Too short, no data.
		"notanaddress",   // Not hex, not bech32.
		"abcd",           // Hex but wrong length.
		"kgx1qqqqqqqqqb", // Bad checksum.
	}
	for _, s := range invalid {
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q) should fail", s)
		}
	}
}

func TestAddress_JSONRoundTrip(t *testing.T) {
	SetAddressHRP(MainnetHRP)
	a := Address{0x42, 0x43}

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Address
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != a {
		t.Errorf("JSON round trip mismatch: got %s, want %s", back.Hex(), a.Hex())
	}
}

func TestAddress_JSONEmptyString(t *testing.T) {
	var a Address
	if err := json.Unmarshal([]byte(`""`), &a); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
	if !a.IsZero() {
		t.Error("empty string should decode to zero address")
	}
}

func TestHexToAddress(t *testing.T) {
	if _, err := HexToAddress("zz"); err == nil {
		t.Error("HexToAddress should reject non-hex")
	}
	if _, err := HexToAddress("ab"); err == nil {
		t.Error("HexToAddress should reject short input")
	}

	a := Address{0x01, 0x02}
	parsed, err := HexToAddress(a.Hex())
	if err != nil {
		t.Fatalf("HexToAddress: %v", err)
	}
	if parsed != a {
		t.Errorf("got %s, want %s", parsed.Hex(), a.Hex())
	}
}
