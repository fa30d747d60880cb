package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/engine/enginetest"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testSetup(t *testing.T) (*Engine, *ledger.Connection, *enginetest.Mock) {
	t.Helper()
	mock := enginetest.New()
	conn := ledger.New(config.Simnet, "http://127.0.0.1:8548", mock)
	t.Cleanup(func() { conn.Close() })
	wal, err := wallet.NewFromMnemonic(config.Simnet, testMnemonic, "")
	if err != nil {
		t.Fatalf("NewFromMnemonic: %v", err)
	}
	return New(conn, wal), conn, mock
}

// receiveAddr mirrors the mock's deterministic derivation for receive
// addresses.
func receiveAddr(index uint32) types.Address {
	var a types.Address
	a[0] = byte(index + 1)
	return a
}

func waitNotification(t *testing.T, e *Engine) Notification {
	t.Helper()
	select {
	case n := <-e.Feed():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
		return Notification{}
	}
}

func expectNoNotification(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case n := <-e.Feed():
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_DefaultAddresses(t *testing.T) {
	e, _, mock := testSetup(t)

	if err := e.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !e.Active() {
		t.Error("engine should be active after subscribe")
	}
	if len(mock.Subscribed) != 1 || len(mock.Subscribed[0]) != DefaultAddressCount {
		t.Fatalf("subscribed args = %+v, want one call with %d addresses", mock.Subscribed, DefaultAddressCount)
	}
	got := e.Monitored()
	if len(got) != DefaultAddressCount {
		t.Fatalf("monitored = %d addresses, want %d", len(got), DefaultAddressCount)
	}
	want := make(map[types.Address]bool)
	for i := uint32(0); i < DefaultAddressCount; i++ {
		want[receiveAddr(i)] = true
	}
	for _, addr := range got {
		if !want[addr] {
			t.Errorf("unexpected monitored address %s", addr)
		}
	}
}

func TestSubscribe_DerivationFailureStopsEarly(t *testing.T) {
	e, _, mock := testSetup(t)
	mock.DeriveAddressFn = func(creds engine.Credentials, index uint32, change bool) (types.Address, error) {
		if index >= 3 {
			return types.Address{}, errors.New("derivation failed")
		}
		return receiveAddr(index), nil
	}

	if err := e.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := len(e.Monitored()); got != 3 {
		t.Errorf("monitored = %d addresses, want 3", got)
	}
}

func TestSubscribe_SnapshotFailureDefaultsToZero(t *testing.T) {
	e, _, mock := testSetup(t)
	bad := receiveAddr(1)
	mock.BalanceFn = func(ctx context.Context, addr types.Address) (uint64, error) {
		if addr == bad {
			return 0, errors.New("node unavailable")
		}
		return 700, nil
	}

	if err := e.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	statuses, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, st := range statuses {
		want := uint64(700)
		if st.Address == bad {
			want = 0
		}
		if st.Last != want {
			t.Errorf("address %s: last balance = %d, want %d", st.Address, st.Last, want)
		}
	}
}

func TestNotifications_FilteredByMonitoredSet(t *testing.T) {
	e, _, mock := testSetup(t)
	watched := receiveAddr(0)
	stranger := types.Address{0xee}

	if err := e.Subscribe(context.Background(), []types.Address{watched}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mock.Emit(engine.Event{Kind: engine.EventTxIncoming, Address: stranger, Amount: 99})
	expectNoNotification(t, e)

	mock.Emit(engine.Event{Kind: engine.EventTxIncoming, Address: watched, Amount: 42})
	n := waitNotification(t, e)
	if n.Kind != engine.EventTxIncoming || n.Address != watched || n.Amount != 42 {
		t.Errorf("notification = %+v", n)
	}
	if n.TxID != nil {
		t.Error("txid should be omitted when includeTransactions is false")
	}
}

func TestNotifications_NonAddressScopedIgnored(t *testing.T) {
	e, _, mock := testSetup(t)
	if err := e.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mock.Emit(engine.Event{Kind: engine.EventBlockAdded})
	expectNoNotification(t, e)
}

func TestNotifications_IncludeTransactions(t *testing.T) {
	e, _, mock := testSetup(t)
	watched := receiveAddr(0)
	txid, err := types.HexToHash("aa00000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("HexToHash: %v", err)
	}

	if err := e.Subscribe(context.Background(), []types.Address{watched}, true); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	mock.Emit(engine.Event{Kind: engine.EventTxSpent, Address: watched, TxID: &txid, Amount: 10})
	n := waitNotification(t, e)
	if n.TxID == nil || *n.TxID != txid {
		t.Errorf("txid = %v, want %s", n.TxID, txid)
	}
}

func TestUnsubscribe_Subset(t *testing.T) {
	e, conn, mock := testSetup(t)
	keep, drop := receiveAddr(0), receiveAddr(1)

	if err := e.Subscribe(context.Background(), []types.Address{keep, drop}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := e.Unsubscribe(context.Background(), []types.Address{drop}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	if len(mock.Unsubscribed) != 1 || len(mock.Unsubscribed[0]) != 1 || mock.Unsubscribed[0][0] != drop {
		t.Errorf("engine unsubscribe args = %+v, want exactly [%s]", mock.Unsubscribed, drop)
	}
	if !e.Active() {
		t.Error("engine should stay active while addresses remain")
	}
	if conn.HandlerCount() != 1 {
		t.Errorf("handler count = %d, want 1", conn.HandlerCount())
	}

	// Events for the dropped address no longer notify.
	mock.Emit(engine.Event{Kind: engine.EventTxIncoming, Address: drop, Amount: 5})
	expectNoNotification(t, e)

	mock.Emit(engine.Event{Kind: engine.EventTxIncoming, Address: keep, Amount: 5})
	waitNotification(t, e)
}

func TestUnsubscribe_UnknownAddressIgnored(t *testing.T) {
	e, _, mock := testSetup(t)
	watched := receiveAddr(0)

	if err := e.Subscribe(context.Background(), []types.Address{watched}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := e.Unsubscribe(context.Background(), []types.Address{{0xee}}); err != nil {
		t.Fatalf("Unsubscribe of unknown address: %v", err)
	}
	if len(mock.Unsubscribed) != 0 {
		t.Errorf("engine unsubscribe called for unknown address: %+v", mock.Unsubscribed)
	}
	if len(e.Monitored()) != 1 {
		t.Error("monitored set should be unchanged")
	}
}

func TestUnsubscribe_AllRemovesHandler(t *testing.T) {
	e, conn, mock := testSetup(t)

	if err := e.Subscribe(context.Background(), nil, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := e.Unsubscribe(context.Background(), nil); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	if e.Active() {
		t.Error("engine should be inactive after full unsubscribe")
	}
	if conn.HandlerCount() != 0 {
		t.Errorf("handler count = %d, want 0", conn.HandlerCount())
	}
	if len(e.Monitored()) != 0 {
		t.Error("monitored set should be empty")
	}

	// Second full unsubscribe is a no-op and touches nothing.
	calls := mock.CallCount()
	if err := e.Unsubscribe(context.Background(), nil); err != nil {
		t.Fatalf("repeat Unsubscribe: %v", err)
	}
	if mock.CallCount() != calls {
		t.Error("repeat unsubscribe should not call the engine")
	}
}

func TestStatus_PerAddressErrors(t *testing.T) {
	e, _, mock := testSetup(t)
	good, bad := receiveAddr(0), receiveAddr(1)
	first := true
	mock.BalanceFn = func(ctx context.Context, addr types.Address) (uint64, error) {
		if first {
			// Subscription snapshot pass.
			return 100, nil
		}
		if addr == bad {
			return 0, errors.New("node unavailable")
		}
		return 250, nil
	}

	if err := e.Subscribe(context.Background(), []types.Address{good, bad}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	first = false

	statuses, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	for _, st := range statuses {
		switch st.Address {
		case good:
			if st.Error != "" {
				t.Errorf("good address has error %q", st.Error)
			}
			if st.Balance != 250 || st.Last != 100 || st.Delta != 150 {
				t.Errorf("good address status = %+v", st)
			}
		case bad:
			if st.Error == "" {
				t.Error("bad address should carry an error marker")
			}
			if st.Last != 100 {
				t.Errorf("bad address last = %d, want 100", st.Last)
			}
		default:
			t.Errorf("unexpected address %s", st.Address)
		}
	}
}

func TestDrain(t *testing.T) {
	e, _, mock := testSetup(t)
	watched := receiveAddr(0)

	if err := e.Subscribe(context.Background(), []types.Address{watched}, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		mock.Emit(engine.Event{Kind: engine.EventBalanceChanged, Address: watched, Amount: uint64(i + 1)})
	}
	// Wait for all three to land before draining.
	deadline := time.Now().Add(2 * time.Second)
	for len(e.Feed()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d notifications buffered", len(e.Feed()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := e.Drain(2)
	if len(got) != 2 {
		t.Fatalf("Drain(2) = %d notifications", len(got))
	}
	rest := e.Drain(0)
	if len(rest) != 1 {
		t.Fatalf("Drain(0) = %d notifications, want 1", len(rest))
	}
	if e.Drain(0) != nil {
		t.Error("empty feed should drain to nil")
	}
}
