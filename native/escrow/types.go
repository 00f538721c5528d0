package escrow

import (
	"fmt"
	"math/big"

	"trustescrow/native/custody"
)

// Status represents the lifecycle states of an escrow transaction.
type Status uint8

const (
	// StatusNotFound denotes the absence of a record. It is never stored.
	StatusNotFound Status = iota
	StatusNotProtected
	StatusProtected
	StatusDisputed
	StatusWithdrawn
	StatusChargebacked
)

var statusNames = map[Status]string{
	StatusNotFound:     "NotFound",
	StatusNotProtected: "NotProtected",
	StatusProtected:    "Protected",
	StatusDisputed:     "Disputed",
	StatusWithdrawn:    "Withdrawn",
	StatusChargebacked: "Chargebacked",
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusWithdrawn || s == StatusChargebacked
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Transaction captures the immutable terms and runtime status of a single
// buyer to merchant payment held in escrow.
type Transaction struct {
	ID          [32]byte
	Buyer       [20]byte
	Merchant    [20]byte
	Amount      *big.Int
	CreatedAt   int64
	Status      Status
	ValueSource string
}

// Clone returns a deep copy of the transaction so callers can safely mutate
// the copy without affecting the stored instance.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Amount = cloneBigInt(t.Amount)
	return &clone
}

// SanitizeTransaction validates the supplied record and returns a clone with a
// canonical value source.
func SanitizeTransaction(t *Transaction) (*Transaction, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidState)
	}
	clone := t.Clone()
	if clone.Buyer == ([20]byte{}) || clone.Merchant == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	if t.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	source, err := custody.NormalizeSource(clone.ValueSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	clone.ValueSource = source
	if clone.Status == StatusNotFound || !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: status %s cannot be stored", ErrInvalidState, clone.Status)
	}
	if clone.CreatedAt < 0 {
		return nil, fmt.Errorf("%w: negative creation time", ErrInvalidState)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

type storedTransaction struct {
	ID          [32]byte
	Buyer       [20]byte
	Merchant    [20]byte
	Amount      *big.Int
	CreatedAt   uint64
	Status      uint8
	ValueSource string
}

func newStoredTransaction(t *Transaction) *storedTransaction {
	return &storedTransaction{
		ID:          t.ID,
		Buyer:       t.Buyer,
		Merchant:    t.Merchant,
		Amount:      cloneBigInt(t.Amount),
		CreatedAt:   uint64(t.CreatedAt),
		Status:      uint8(t.Status),
		ValueSource: t.ValueSource,
	}
}

func (s *storedTransaction) toTransaction() *Transaction {
	return &Transaction{
		ID:          s.ID,
		Buyer:       s.Buyer,
		Merchant:    s.Merchant,
		Amount:      cloneBigInt(s.Amount),
		CreatedAt:   int64(s.CreatedAt),
		Status:      Status(s.Status),
		ValueSource: s.ValueSource,
	}
}
