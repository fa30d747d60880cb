package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-hub/internal/engine"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no UTXOs available")
)

// Selection holds the result of coin selection.
type Selection struct {
	Inputs []engine.UTXOEntry // Selected UTXOs to spend.
	Total  uint64             // Sum of selected input values.
	Change uint64             // Total - target - fee allowance for the selected inputs.
}

// SelectUTXOs chooses UTXOs to fund a payment of the given target amount.
//
// Policy: largest-first greedy accumulation. Every consumed entry adds
// perEntryFeeAllowance to the required total, since more inputs mean more
// transaction mass and therefore a higher fee. Accumulation stops as soon
// as the running total covers target plus the cumulative allowance.
//
// This is intentionally a simple heuristic, not minimal-fee-optimal: it
// favors few iterations and predictable behavior.
func SelectUTXOs(available []engine.UTXOEntry, target, perEntryFeeAllowance uint64) (*Selection, error) {
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	// Filter out zero-value entries.
	candidates := make([]engine.UTXOEntry, 0, len(available))
	for _, u := range available {
		if u.Amount > 0 {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Amount > candidates[j].Amount
	})

	var (
		selected []engine.UTXOEntry
		total    uint64
		required = target
	)
	for _, u := range candidates {
		selected = append(selected, u)
		total += u.Amount
		required += perEntryFeeAllowance
		if total >= required {
			return &Selection{
				Inputs: selected,
				Total:  total,
				Change: total - required,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, required)
}
