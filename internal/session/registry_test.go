package session

import (
	"context"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine/enginetest"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	"github.com/Klingon-tech/klingnet-hub/internal/subscription"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", DefaultID},
		{"   ", DefaultID},
		{"default", DefaultID},
		{"  abc  ", "abc"},
		{"abc", "abc"},
		{"ABC", "ABC"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()

	a := r.GetOrCreate("  abc  ")
	b := r.GetOrCreate("abc")
	if a != b {
		t.Error("identifiers normalizing equal must resolve to the same session")
	}
	if a.ID != "abc" {
		t.Errorf("session ID = %q, want normalized %q", a.ID, "abc")
	}

	d := r.GetOrCreate("")
	if d.ID != DefaultID {
		t.Errorf("blank identifier session ID = %q, want %q", d.ID, DefaultID)
	}
	if r.GetOrCreate("   ") != d {
		t.Error("whitespace identifier should resolve to the default session")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	if r.Resolve("nope") != nil {
		t.Error("Resolve of unknown identifier should return nil")
	}
	s := r.GetOrCreate("abc")
	if r.Resolve(" abc ") != s {
		t.Error("Resolve should normalize the identifier")
	}
}

func TestRegistry_Teardown(t *testing.T) {
	r := NewRegistry()
	s := r.GetOrCreate("abc")

	if !r.Teardown(context.Background(), "abc") {
		t.Fatal("Teardown of live session should report removal")
	}
	if !s.Closed() {
		t.Error("session should be closed after teardown")
	}
	if r.Resolve("abc") != nil {
		t.Error("torn-down session should be removed from the registry")
	}
	if r.Teardown(context.Background(), "abc") {
		t.Error("Teardown of unknown session should be a no-op")
	}
}

// A fully populated session must tear down in order even when a step
// fails; here the subscription step fails because the connection is
// already closed, and Close still completes.
func TestSession_CloseSwallowsFailures(t *testing.T) {
	mock := enginetest.New()
	conn := ledger.New(config.Simnet, "http://127.0.0.1:8548", mock)
	wal, err := wallet.NewFromMnemonic(config.Simnet, testMnemonic, "")
	if err != nil {
		t.Fatalf("NewFromMnemonic: %v", err)
	}
	subs := subscription.New(conn, wal)
	if err := subs.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s := &Session{ID: "abc", Conn: conn, Wallet: wal, Subs: subs}
	s.Close(context.Background())

	if !s.Closed() {
		t.Error("session should report closed")
	}
	if s.Conn != nil || s.Wallet != nil || s.Subs != nil {
		t.Error("teardown should clear all resources")
	}
	if _, err := wal.Credentials(); !errors.Is(err, wallet.ErrClosed) {
		t.Errorf("wallet credentials after teardown = %v, want ErrClosed", err)
	}
	if conn.Connected() {
		t.Error("connection should be closed")
	}

	// Closing twice is a no-op.
	s.Close(context.Background())
}

func TestRegistry_ShutdownAndList(t *testing.T) {
	r := NewRegistry()
	r.GetOrCreate("b")
	r.GetOrCreate("a")
	r.GetOrCreate("")

	got := r.List()
	want := []string{"a", "b", DefaultID}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List() = %v, want %v", got, want)
		}
	}

	r.Shutdown(context.Background())
	if len(r.List()) != 0 {
		t.Error("registry should be empty after shutdown")
	}
}
