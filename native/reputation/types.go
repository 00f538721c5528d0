package reputation

import (
	"errors"
	"math/big"
)

// MerchantReputation accumulates the outcome statistics of every escrow
// transaction paid to a merchant. All counters only ever grow.
type MerchantReputation struct {
	Merchant                 [20]byte
	TotalTransactions        uint64
	TotalAmount              *big.Int
	SuccessfulTransactions   uint64
	SuccessfulAmount         *big.Int
	DisputedTransactions     uint64
	DisputedAmount           *big.Int
	ChargebackedTransactions uint64
	ChargebackedAmount       *big.Int
	CreationTimestamp        int64
	LastUpdateTimestamp      int64
}

// NewMerchantReputation returns an empty record for merchant created at now.
func NewMerchantReputation(merchant [20]byte, now int64) *MerchantReputation {
	return &MerchantReputation{
		Merchant:            merchant,
		TotalAmount:         big.NewInt(0),
		SuccessfulAmount:    big.NewInt(0),
		DisputedAmount:      big.NewInt(0),
		ChargebackedAmount:  big.NewInt(0),
		CreationTimestamp:   now,
		LastUpdateTimestamp: now,
	}
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored instance.
func (r *MerchantReputation) Clone() *MerchantReputation {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalAmount = cloneAmount(r.TotalAmount)
	clone.SuccessfulAmount = cloneAmount(r.SuccessfulAmount)
	clone.DisputedAmount = cloneAmount(r.DisputedAmount)
	clone.ChargebackedAmount = cloneAmount(r.ChargebackedAmount)
	return &clone
}

// Validate checks the structural invariants of the record.
func (r *MerchantReputation) Validate() error {
	if r == nil {
		return errors.New("reputation: record nil")
	}
	if r.Merchant == ([20]byte{}) {
		return errors.New("reputation: merchant required")
	}
	for _, amt := range []*big.Int{r.TotalAmount, r.SuccessfulAmount, r.DisputedAmount, r.ChargebackedAmount} {
		if amt == nil || amt.Sign() < 0 {
			return errors.New("reputation: amounts must be non-negative")
		}
	}
	if r.TotalAmount.Cmp(r.SuccessfulAmount) < 0 {
		return errors.New("reputation: successful amount exceeds total amount")
	}
	if r.TotalTransactions > 0 && r.TotalAmount.Sign() == 0 {
		return errors.New("reputation: transactions recorded without amount")
	}
	if r.CreationTimestamp < 0 || r.LastUpdateTimestamp < r.CreationTimestamp {
		return errors.New("reputation: invalid timestamps")
	}
	return nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// storedMerchantReputation is the RLP representation; RLP has no signed
// integers so timestamps are persisted as uint64.
type storedMerchantReputation struct {
	Merchant                 [20]byte
	TotalTransactions        uint64
	TotalAmount              *big.Int
	SuccessfulTransactions   uint64
	SuccessfulAmount         *big.Int
	DisputedTransactions     uint64
	DisputedAmount           *big.Int
	ChargebackedTransactions uint64
	ChargebackedAmount       *big.Int
	CreationTimestamp        uint64
	LastUpdateTimestamp      uint64
}

func toStored(r *MerchantReputation) *storedMerchantReputation {
	return &storedMerchantReputation{
		Merchant:                 r.Merchant,
		TotalTransactions:        r.TotalTransactions,
		TotalAmount:              cloneAmount(r.TotalAmount),
		SuccessfulTransactions:   r.SuccessfulTransactions,
		SuccessfulAmount:         cloneAmount(r.SuccessfulAmount),
		DisputedTransactions:     r.DisputedTransactions,
		DisputedAmount:           cloneAmount(r.DisputedAmount),
		ChargebackedTransactions: r.ChargebackedTransactions,
		ChargebackedAmount:       cloneAmount(r.ChargebackedAmount),
		CreationTimestamp:        uint64(r.CreationTimestamp),
		LastUpdateTimestamp:      uint64(r.LastUpdateTimestamp),
	}
}

func (s *storedMerchantReputation) toReputation() *MerchantReputation {
	return &MerchantReputation{
		Merchant:                 s.Merchant,
		TotalTransactions:        s.TotalTransactions,
		TotalAmount:              cloneAmount(s.TotalAmount),
		SuccessfulTransactions:   s.SuccessfulTransactions,
		SuccessfulAmount:         cloneAmount(s.SuccessfulAmount),
		DisputedTransactions:     s.DisputedTransactions,
		DisputedAmount:           cloneAmount(s.DisputedAmount),
		ChargebackedTransactions: s.ChargebackedTransactions,
		ChargebackedAmount:       cloneAmount(s.ChargebackedAmount),
		CreationTimestamp:        int64(s.CreationTimestamp),
		LastUpdateTimestamp:      int64(s.LastUpdateTimestamp),
	}
}
