// Package spend composes coin selection, fee-tier policy, and the engine's
// build/submit primitives into a single send operation. The engine only
// accepts an additive priority fee on top of its own base fee, so requested
// total fees are back-solved into a priority fee before building.
package spend

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	"github.com/Klingon-tech/klingnet-hub/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/Klingon-tech/klingnet-hub/internal/wallet"
	"github.com/Klingon-tech/klingnet-hub/pkg/types"
	"github.com/rs/zerolog"
)

// Send errors.
var (
	ErrInvalidAmount    = errors.New("amount must be a positive integer")
	ErrInvalidRecipient = errors.New("recipient address is required")
	ErrUnknownAddress   = errors.New("sender address not owned by wallet")
	ErrInvalidFeeSpec   = errors.New("invalid fee specification")
)

// buildError classifies an estimate or build failure. Coin selection runs
// inside the engine, so its wallet sentinels pass through unwrapped; any
// other failure is the engine's.
func buildError(err error) error {
	if errors.Is(err, wallet.ErrInsufficientFunds) || errors.Is(err, wallet.ErrNoUTXOs) {
		return err
	}
	return fmt.Errorf("%w: %s", engine.ErrBuildFailed, err)
}

// Tier is a named fee priority tier.
type Tier string

const (
	TierLow    Tier = "low"
	TierNormal Tier = "normal"
	TierHigh   Tier = "high"
)

// Multiplier returns the base-fee multiplier for the tier.
func (t Tier) Multiplier() (float64, bool) {
	switch t {
	case TierLow:
		return 0.5, true
	case TierNormal:
		return 1.0, true
	case TierHigh:
		return 2.0, true
	}
	return 0, false
}

// FeeSpec selects how the transaction fee is determined. Exactly one of
// Tier, CustomFee, or PriorityFee may be set; an empty spec means the
// normal tier. CustomFee is a requested *total* fee; PriorityFee is the
// legacy additive fee retained for backward compatibility.
type FeeSpec struct {
	Tier        Tier
	CustomFee   *uint64
	PriorityFee *uint64
}

// Validate checks that at most one fee mechanism is selected.
func (f FeeSpec) Validate() error {
	set := 0
	if f.Tier != "" {
		if _, ok := f.Tier.Multiplier(); !ok {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidFeeSpec, f.Tier)
		}
		set++
	}
	if f.CustomFee != nil {
		set++
	}
	if f.PriorityFee != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("%w: tier, custom fee, and priority fee are mutually exclusive", ErrInvalidFeeSpec)
	}
	return nil
}

// resolve converts the spec and a base fee estimate into the target total
// fee and the additive priority fee to pass to the engine's generator.
// The back-solve is one-shot: the final transaction's base fee can differ
// from the provisional estimate once a change output alters the mass, and
// no convergence loop is attempted.
func (f FeeSpec) resolve(baseFee uint64) (targetFee, priorityFee uint64) {
	switch {
	case f.CustomFee != nil:
		targetFee = *f.CustomFee
	case f.PriorityFee != nil:
		return baseFee + *f.PriorityFee, *f.PriorityFee
	default:
		tier := f.Tier
		if tier == "" {
			tier = TierNormal
		}
		mult, _ := tier.Multiplier()
		targetFee = uint64(math.Ceil(float64(baseFee) * mult))
	}
	if targetFee > baseFee {
		priorityFee = targetFee - baseFee
	}
	return targetFee, priorityFee
}

// Request describes one send operation.
type Request struct {
	From    string // Optional sender address; empty means derivation index 0.
	To      types.Address
	Amount  int64 // Smallest units; validated before any engine call.
	Fee     FeeSpec
	Payload []byte
}

// Result reports the submitted transaction. FeePaid is recomputed from the
// signed transaction's actual input and output totals; TargetFee is the
// request, not a guarantee, and the two may legitimately differ.
type Result struct {
	TxID      types.Hash `json:"txid"`
	FeePaid   uint64     `json:"fee_paid"`
	TargetFee uint64     `json:"target_fee"`
	Mass      uint64     `json:"mass"`
	Change    uint64     `json:"change,omitempty"`
	TxCount   int        `json:"tx_count"`
}

// Orchestrator performs fee-aware sends. Stateless apart from its
// configuration; one instance serves all sessions.
type Orchestrator struct {
	probeRange uint32
	logger     zerolog.Logger
}

// NewOrchestrator returns an orchestrator with the default sender probe
// range.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		probeRange: wallet.DefaultProbeRange,
		logger:     klog.Spend,
	}
}

// Send validates the request, reconciles the fee, builds and signs via the
// engine, and submits the first resulting transaction.
func (o *Orchestrator) Send(ctx context.Context, conn *ledger.Connection, w *wallet.Handle, req Request) (*Result, error) {
	// Input validation happens before any network call.
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, req.Amount)
	}
	if req.To.IsZero() {
		return nil, ErrInvalidRecipient
	}
	if err := req.Fee.Validate(); err != nil {
		return nil, err
	}

	eng, err := conn.Engine()
	if err != nil {
		return nil, err
	}

	fromIndex, err := o.resolveSender(eng, w, req.From)
	if err != nil {
		return nil, err
	}

	creds, err := w.Credentials()
	if err != nil {
		return nil, err
	}

	changeAddr, err := eng.DeriveAddress(creds, fromIndex, !creds.SingleKey())
	if err != nil {
		return nil, fmt.Errorf("derive change address: %w", err)
	}

	build := engine.BuildRequest{
		Creds:         creds,
		FromIndex:     fromIndex,
		Outputs:       []engine.Output{{Address: req.To, Amount: uint64(req.Amount)}},
		ChangeAddress: changeAddr,
		Payload:       req.Payload,
	}

	// Provisional estimate round-trip for the base fee.
	est, err := eng.Estimate(ctx, build)
	if err != nil {
		return nil, buildError(err)
	}

	targetFee, priorityFee := req.Fee.resolve(est.BaseFee)
	build.PriorityFee = priorityFee

	txs, err := eng.BuildAndSign(ctx, build)
	if err != nil {
		return nil, buildError(err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: engine returned no transactions", engine.ErrBuildFailed)
	}

	first := txs[0]
	txid, err := eng.Submit(ctx, first)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrSubmitFailed, err)
	}

	var change uint64
	for _, out := range first.Outputs {
		if out.Address == changeAddr && out.Address != req.To {
			change += out.Amount
		}
	}

	res := &Result{
		TxID:      txid,
		FeePaid:   first.Fee(),
		TargetFee: targetFee,
		Mass:      first.Mass,
		Change:    change,
		TxCount:   len(txs),
	}

	o.logger.Info().
		Str("txid", txid.String()).
		Uint64("amount", uint64(req.Amount)).
		Uint64("target_fee", targetFee).
		Uint64("fee_paid", res.FeePaid).
		Int("tx_count", len(txs)).
		Msg("transaction submitted")

	return res, nil
}

// Estimate performs the provisional fee estimate for a candidate send
// without building the final transaction.
func (o *Orchestrator) Estimate(ctx context.Context, conn *ledger.Connection, w *wallet.Handle, req Request) (engine.FeeEstimate, error) {
	if req.Amount <= 0 {
		return engine.FeeEstimate{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, req.Amount)
	}

	eng, err := conn.Engine()
	if err != nil {
		return engine.FeeEstimate{}, err
	}

	fromIndex, err := o.resolveSender(eng, w, req.From)
	if err != nil {
		return engine.FeeEstimate{}, err
	}

	creds, err := w.Credentials()
	if err != nil {
		return engine.FeeEstimate{}, err
	}

	changeAddr, err := eng.DeriveAddress(creds, fromIndex, !creds.SingleKey())
	if err != nil {
		return engine.FeeEstimate{}, fmt.Errorf("derive change address: %w", err)
	}

	est, err := eng.Estimate(ctx, engine.BuildRequest{
		Creds:         creds,
		FromIndex:     fromIndex,
		Outputs:       []engine.Output{{Address: req.To, Amount: uint64(req.Amount)}},
		ChangeAddress: changeAddr,
		Payload:       req.Payload,
	})
	if err != nil {
		return engine.FeeEstimate{}, buildError(err)
	}
	return est, nil
}

// resolveSender maps an optional explicit sender address to a derivation
// index by bounded probe. An empty sender defaults to index 0.
func (o *Orchestrator) resolveSender(d wallet.Deriver, w *wallet.Handle, from string) (uint32, error) {
	if from == "" {
		return 0, nil
	}
	addr, err := types.ParseAddress(from)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAddress, err)
	}
	index, found, err := w.FindAddress(d, addr, o.probeRange)
	if err != nil {
		return 0, fmt.Errorf("probe sender address: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("%w: %s not within first %d derived addresses", ErrUnknownAddress, from, o.probeRange)
	}
	return index, nil
}
