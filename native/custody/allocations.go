package custody

import (
	"fmt"
	"math/big"
)

var allocationsAppliedKey = []byte("custody/allocations/applied")

// Allocation is an opening balance credited to an account.
type Allocation struct {
	Owner  [20]byte
	Source string
	Amount *big.Int
}

// ApplyAllocations credits every allocation exactly once per state. Later
// calls observe the applied marker and return false without touching
// balances.
func (v *Vault) ApplyAllocations(st Store, allocations []Allocation) (bool, error) {
	var applied bool
	if _, err := st.KVGet(allocationsAppliedKey, &applied); err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	for i, alloc := range allocations {
		if alloc.Owner == ([20]byte{}) {
			return false, fmt.Errorf("custody: allocation %d: owner required", i)
		}
		if err := v.Credit(st, alloc.Owner, alloc.Source, alloc.Amount); err != nil {
			return false, fmt.Errorf("custody: allocation %d: %w", i, err)
		}
	}
	if err := st.KVPut(allocationsAppliedKey, true); err != nil {
		return false, err
	}
	return true, nil
}
