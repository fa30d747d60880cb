package rpcengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/crypto"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// massLimit is the node's per-transaction mass ceiling.
	massLimit = 100_000

	// pollWindow is the long-poll duration requested from the node. The
	// poll client's HTTP timeout must exceed it.
	pollWindow  = 25 * time.Second
	pollTimeout = 30 * time.Second

	// pollBackoff delays the next poll after a failed one.
	pollBackoff = time.Second

	eventBuffer = 64
)

// Engine implements engine.Engine against a klingnet node's JSON-RPC
// interface. Derivation and signing happen locally; the node is only
// consulted for UTXO state, fee rates, submission, and notifications.
type Engine struct {
	network config.Network
	rpc     *client
	poller  *client

	events    chan engine.Event
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	logger zerolog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Dial connects to a klingnet node and verifies it answers before
// returning. The notification poll loop starts immediately.
func Dial(network config.Network, endpoint string) (*Engine, error) {
	e := &Engine{
		network: network,
		rpc:     newClient(endpoint, defaultTimeout),
		poller:  newClient(endpoint, pollTimeout),
		events:  make(chan engine.Event, eventBuffer),
		logger:  klog.Engine,
	}

	// Handshake: a node that cannot report a feerate is not usable.
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if _, err := e.FeerateEstimate(ctx); err != nil {
		return nil, fmt.Errorf("%w: node %s unreachable: %s", engine.ErrNotConnected, endpoint, err)
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())
	e.cancel = pollCancel
	e.wg.Add(1)
	go e.pollLoop(pollCtx)

	e.logger.Info().Str("endpoint", endpoint).Str("network", string(network)).Msg("engine connected")
	return e, nil
}

// Wire shapes for the node RPC.

type utxoWire struct {
	Outpoint   types.Outpoint `json:"outpoint"`
	Amount     uint64         `json:"amount"`
	Script     []byte         `json:"script,omitempty"`
	BlockScore uint64         `json:"block_score"`
	IsCoinbase bool           `json:"is_coinbase"`
}

type utxosByAddressResult struct {
	UTXOs []utxoWire `json:"utxos"`
}

type balanceResult struct {
	Balance uint64 `json:"balance"`
}

type feerateResult struct {
	Feerate float64 `json:"feerate"`
}

type submitResult struct {
	TxID string `json:"txid"`
}

type eventWire struct {
	Kind      string `json:"kind"`
	Address   string `json:"address,omitempty"`
	TxID      string `json:"txid,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type pollResult struct {
	Events []eventWire `json:"events"`
}

func addressStrings(addrs []types.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// UTXOs returns the spendable outputs of the given addresses.
func (e *Engine) UTXOs(ctx context.Context, addrs []types.Address) ([]engine.UTXOEntry, error) {
	var entries []engine.UTXOEntry
	for _, addr := range addrs {
		var res utxosByAddressResult
		params := map[string]string{"address": addr.String()}
		if err := e.rpc.Call(ctx, "utxo_getByAddress", params, &res); err != nil {
			return nil, fmt.Errorf("%w: utxo_getByAddress: %s", engine.ErrQueryFailed, err)
		}
		for _, u := range res.UTXOs {
			entries = append(entries, engine.UTXOEntry{
				Address:    addr,
				Outpoint:   u.Outpoint,
				Amount:     u.Amount,
				Script:     u.Script,
				BlockScore: u.BlockScore,
				IsCoinbase: u.IsCoinbase,
			})
		}
	}
	return entries, nil
}

// Balance returns the confirmed balance of one address.
func (e *Engine) Balance(ctx context.Context, addr types.Address) (uint64, error) {
	var res balanceResult
	params := map[string]string{"address": addr.String()}
	if err := e.rpc.Call(ctx, "utxo_getBalance", params, &res); err != nil {
		return 0, fmt.Errorf("%w: utxo_getBalance: %s", engine.ErrQueryFailed, err)
	}
	return res.Balance, nil
}

// FeerateEstimate returns the node's current feerate in smallest units per
// mass unit.
func (e *Engine) FeerateEstimate(ctx context.Context) (float64, error) {
	var res feerateResult
	if err := e.rpc.Call(ctx, "chain_getFeerate", nil, &res); err != nil {
		return 0, fmt.Errorf("%w: chain_getFeerate: %s", engine.ErrQueryFailed, err)
	}
	if res.Feerate <= 0 {
		res.Feerate = 1
	}
	return res.Feerate, nil
}

// DeriveAddress derives the wallet address at (index, change) locally.
func (e *Engine) DeriveAddress(creds engine.Credentials, index uint32, change bool) (types.Address, error) {
	return deriveAddress(creds, index, change)
}

// plan is the shared result of the selection performed by both Estimate
// and BuildAndSign.
type plan struct {
	feerate   float64
	selection *wallet.Selection
	fromAddr  types.Address
	outSum    uint64
	totalMass uint64
}

// planSpend derives the sender address, fetches its UTXOs, and runs coin
// selection. extraFee widens the target beyond the outputs and base fee;
// BuildAndSign passes the priority fee here so the selection covers it.
func (e *Engine) planSpend(ctx context.Context, req engine.BuildRequest, extraFee uint64) (*plan, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrBuildFailed, err)
	}

	fromAddr, err := deriveAddress(req.Creds, req.FromIndex, req.FromChange)
	if err != nil {
		return nil, fmt.Errorf("%w: derive sender: %s", engine.ErrBuildFailed, err)
	}

	feerate, err := e.FeerateEstimate(ctx)
	if err != nil {
		return nil, err
	}

	available, err := e.UTXOs(ctx, []types.Address{fromAddr})
	if err != nil {
		return nil, err
	}

	var outSum uint64
	for _, out := range req.Outputs {
		outSum += out.Amount
	}

	// The target carries the fee share of everything except the inputs;
	// each consumed input adds its own allowance inside the selector. A
	// change output is always assumed so selection never undershoots.
	baseMass := estimateMass(0, len(req.Outputs)+1, len(req.Payload))
	target := outSum + engine.BaseFeeFor(feerate, baseMass) + extraFee
	allowance := engine.BaseFeeFor(feerate, perInputMass)

	sel, err := wallet.SelectUTXOs(available, target, allowance)
	if err != nil {
		return nil, err
	}

	return &plan{
		feerate:   feerate,
		selection: sel,
		fromAddr:  fromAddr,
		outSum:    outSum,
		totalMass: estimateMass(len(sel.Inputs), len(req.Outputs)+1, len(req.Payload)),
	}, nil
}

// Estimate runs a provisional selection and prices the resulting
// transaction without building it.
func (e *Engine) Estimate(ctx context.Context, req engine.BuildRequest) (engine.FeeEstimate, error) {
	p, err := e.planSpend(ctx, req, 0)
	if err != nil {
		return engine.FeeEstimate{}, err
	}
	baseFee := engine.BaseFeeFor(p.feerate, p.totalMass)
	return engine.FeeEstimate{
		BaseFee:       baseFee,
		EstimatedMass: p.totalMass,
		MassLimit:     massLimit,
		TotalFee:      baseFee + req.PriorityFee,
	}, nil
}

// BuildAndSign selects inputs, builds the wire transaction, and signs
// every input with the sender's key.
func (e *Engine) BuildAndSign(ctx context.Context, req engine.BuildRequest) ([]*engine.SignedTransaction, error) {
	p, err := e.planSpend(ctx, req, req.PriorityFee)
	if err != nil {
		return nil, err
	}

	if p.totalMass > massLimit {
		return nil, fmt.Errorf("%w: transaction mass %d exceeds limit %d", engine.ErrBuildFailed, p.totalMass, massLimit)
	}

	t := &transaction{Version: txVersion, Payload: req.Payload}
	inputAddrs := make([]types.Address, 0, len(p.selection.Inputs))
	for _, in := range p.selection.Inputs {
		t.Inputs = append(t.Inputs, txInput{PrevOut: in.Outpoint})
		inputAddrs = append(inputAddrs, in.Address)
	}
	for _, out := range req.Outputs {
		t.Outputs = append(t.Outputs, txOutput{Value: out.Amount, Address: out.Address})
	}
	if p.selection.Change > 0 {
		changeAddr := req.ChangeAddress
		if changeAddr.IsZero() {
			changeAddr = p.fromAddr
		}
		t.Outputs = append(t.Outputs, txOutput{Value: p.selection.Change, Address: changeAddr})
	}

	key, err := signerFor(req.Creds, req.FromIndex, req.FromChange)
	if err != nil {
		return nil, fmt.Errorf("%w: signer: %s", engine.ErrBuildFailed, err)
	}
	defer key.Zero()

	if err := t.sign(inputAddrs, map[types.Address]*crypto.PrivateKey{p.fromAddr: key}); err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrBuildFailed, err)
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %s", engine.ErrBuildFailed, err)
	}

	outputs := make([]engine.Output, 0, len(t.Outputs))
	for _, out := range t.Outputs {
		outputs = append(outputs, engine.Output{Address: out.Address, Amount: out.Value})
	}

	signed := &engine.SignedTransaction{
		ID:      t.id(),
		Mass:    t.mass(),
		Inputs:  p.selection.Inputs,
		Outputs: outputs,
		Raw:     raw,
	}
	return []*engine.SignedTransaction{signed}, nil
}

// Submit broadcasts a signed transaction and returns the id the node
// accepted it under.
func (e *Engine) Submit(ctx context.Context, tx *engine.SignedTransaction) (types.Hash, error) {
	params := map[string]interface{}{"tx": json.RawMessage(tx.Raw)}
	var res submitResult
	if err := e.rpc.Call(ctx, "tx_submit", params, &res); err != nil {
		return types.Hash{}, fmt.Errorf("%w: tx_submit: %s", engine.ErrSubmitFailed, err)
	}
	if res.TxID != "" {
		id, err := types.HexToHash(res.TxID)
		if err == nil {
			return id, nil
		}
		e.logger.Warn().Str("txid", res.TxID).Msg("node returned unparsable txid, using local id")
	}
	return tx.ID, nil
}

// SubscribeAddresses registers server-side interest in the addresses.
func (e *Engine) SubscribeAddresses(ctx context.Context, addrs []types.Address) error {
	params := map[string][]string{"addresses": addressStrings(addrs)}
	if err := e.rpc.Call(ctx, "notify_subscribe", params, nil); err != nil {
		return fmt.Errorf("%w: notify_subscribe: %s", engine.ErrQueryFailed, err)
	}
	return nil
}

// UnsubscribeAddresses drops server-side interest for exactly the given
// addresses.
func (e *Engine) UnsubscribeAddresses(ctx context.Context, addrs []types.Address) error {
	params := map[string][]string{"addresses": addressStrings(addrs)}
	if err := e.rpc.Call(ctx, "notify_unsubscribe", params, nil); err != nil {
		return fmt.Errorf("%w: notify_unsubscribe: %s", engine.ErrQueryFailed, err)
	}
	return nil
}

// Events returns the raw event stream. Closed by Close.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

// pollLoop long-polls the node for notifications and converts them into
// engine events until the context is canceled.
func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		params := map[string]int64{"timeout_ms": pollWindow.Milliseconds()}
		var res pollResult
		if err := e.poller.Call(ctx, "notify_poll", params, &res); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn().Err(err).Msg("notification poll failed")
			select {
			case <-time.After(pollBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, w := range res.Events {
			ev, err := eventFromWire(w)
			if err != nil {
				e.logger.Warn().Err(err).Str("kind", w.Kind).Msg("dropping malformed notification")
				continue
			}
			select {
			case e.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func eventFromWire(w eventWire) (engine.Event, error) {
	kind := engine.EventKindFromString(w.Kind)
	if kind == 0 {
		return engine.Event{}, fmt.Errorf("unknown event kind %q", w.Kind)
	}
	ev := engine.Event{
		Kind:      kind,
		Amount:    w.Amount,
		Timestamp: time.Unix(w.Timestamp, 0).UTC(),
	}
	if w.Address != "" {
		addr, err := types.ParseAddress(w.Address)
		if err != nil {
			return engine.Event{}, fmt.Errorf("parse event address: %w", err)
		}
		ev.Address = addr
	}
	if w.TxID != "" {
		id, err := types.HexToHash(w.TxID)
		if err != nil {
			return engine.Event{}, fmt.Errorf("parse event txid: %w", err)
		}
		ev.TxID = &id
	}
	return ev, nil
}

// Close stops the poll loop and closes the event stream. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		close(e.events)
		e.logger.Debug().Msg("engine closed")
	})
	return nil
}
