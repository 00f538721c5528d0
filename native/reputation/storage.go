package reputation

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var merchantReputationPrefix = []byte("reputation/merchant/")

func merchantReputationKey(merchant [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", merchantReputationPrefix, merchant))
}

var (
	// ErrMerchantRequired marks operations addressed to the zero account.
	ErrMerchantRequired = errors.New("reputation: merchant required")
	// ErrInvalidAmount marks nil, negative or zero outcome amounts.
	ErrInvalidAmount = errors.New("reputation: amount must be positive")
	// ErrNotTracked is returned when an outcome is recorded for a merchant
	// that never received a deposit.
	ErrNotTracked = errors.New("reputation: merchant not tracked")
)

// Ledger persists one MerchantReputation per merchant. Records are created on
// the first deposit and are never removed.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) ready() error {
	if l == nil {
		return errors.New("reputation: ledger not initialised")
	}
	if l.store == nil {
		return errors.New("reputation: storage unavailable")
	}
	return nil
}

// Get returns the merchant's record. ok is false when the merchant has never
// received a deposit.
func (l *Ledger) Get(merchant [20]byte) (*MerchantReputation, bool, error) {
	if err := l.ready(); err != nil {
		return nil, false, err
	}
	var stored storedMerchantReputation
	ok, err := l.store.KVGet(merchantReputationKey(merchant), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return stored.toReputation(), true, nil
}

// Put validates and stores the record, replacing any previous version.
func (l *Ledger) Put(rep *MerchantReputation) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := rep.Validate(); err != nil {
		return err
	}
	return l.store.KVPut(merchantReputationKey(rep.Merchant), toStored(rep))
}

// RecordDeposit counts a new escrow deposit for merchant, creating the record
// on first use with its creation timestamp pinned to now.
func (l *Ledger) RecordDeposit(merchant [20]byte, amount *big.Int, now int64) (*MerchantReputation, error) {
	if err := checkOutcome(merchant, amount); err != nil {
		return nil, err
	}
	rep, ok, err := l.Get(merchant)
	if err != nil {
		return nil, err
	}
	if !ok {
		if now < 0 {
			now = 0
		}
		rep = NewMerchantReputation(merchant, now)
	}
	if rep.TotalTransactions, err = increment(rep.TotalTransactions); err != nil {
		return nil, err
	}
	rep.TotalAmount = new(big.Int).Add(rep.TotalAmount, amount)
	return l.touch(rep, now)
}

// RecordSuccess counts a transaction finalised in the merchant's favour.
func (l *Ledger) RecordSuccess(merchant [20]byte, amount *big.Int, now int64) (*MerchantReputation, error) {
	return l.apply(merchant, amount, now, func(rep *MerchantReputation) (err error) {
		if rep.SuccessfulTransactions, err = increment(rep.SuccessfulTransactions); err != nil {
			return err
		}
		rep.SuccessfulAmount = new(big.Int).Add(rep.SuccessfulAmount, amount)
		return nil
	})
}

// RecordDispute counts a dispute raised against the merchant regardless of
// how it is later resolved.
func (l *Ledger) RecordDispute(merchant [20]byte, amount *big.Int, now int64) (*MerchantReputation, error) {
	return l.apply(merchant, amount, now, func(rep *MerchantReputation) (err error) {
		if rep.DisputedTransactions, err = increment(rep.DisputedTransactions); err != nil {
			return err
		}
		rep.DisputedAmount = new(big.Int).Add(rep.DisputedAmount, amount)
		return nil
	})
}

// RecordChargeback counts a dispute resolved in the buyer's favour.
func (l *Ledger) RecordChargeback(merchant [20]byte, amount *big.Int, now int64) (*MerchantReputation, error) {
	return l.apply(merchant, amount, now, func(rep *MerchantReputation) (err error) {
		if rep.ChargebackedTransactions, err = increment(rep.ChargebackedTransactions); err != nil {
			return err
		}
		rep.ChargebackedAmount = new(big.Int).Add(rep.ChargebackedAmount, amount)
		return nil
	})
}

func (l *Ledger) apply(merchant [20]byte, amount *big.Int, now int64, mutate func(*MerchantReputation) error) (*MerchantReputation, error) {
	if err := checkOutcome(merchant, amount); err != nil {
		return nil, err
	}
	rep, ok, err := l.Get(merchant)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotTracked, merchant)
	}
	if err := mutate(rep); err != nil {
		return nil, err
	}
	return l.touch(rep, now)
}

// touch stamps the update time and persists the record. The timestamp never
// moves backwards so a skewed clock cannot break the creation ordering.
func (l *Ledger) touch(rep *MerchantReputation, now int64) (*MerchantReputation, error) {
	if now > rep.LastUpdateTimestamp {
		rep.LastUpdateTimestamp = now
	}
	if err := l.Put(rep); err != nil {
		return nil, err
	}
	return rep.Clone(), nil
}

func checkOutcome(merchant [20]byte, amount *big.Int) error {
	if merchant == ([20]byte{}) {
		return ErrMerchantRequired
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func increment(v uint64) (uint64, error) {
	if v == math.MaxUint64 {
		return 0, fmt.Errorf("%w: counter overflow", ErrArithmeticFault)
	}
	return v + 1, nil
}
