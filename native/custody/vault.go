package custody

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const maxSourceLength = 32

var (
	// ErrInsufficientBalance is returned when the debited account cannot cover
	// the requested amount.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrInvalidAmount marks negative or nil transfer amounts.
	ErrInvalidAmount = errors.New("custody: invalid amount")
	// ErrInvalidSource marks an empty or malformed value source identifier.
	ErrInvalidSource = errors.New("custody: invalid value source")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("custody: balance overflow")
	// ErrSelfTransfer is returned when the vault is asked to pull from or
	// push to its own custodial account.
	ErrSelfTransfer = errors.New("custody: transfer within the custodial account")
)

// Store is the subset of state functionality the vault persists balances in.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Custodian moves value units between accounts on behalf of the escrow engine.
// Both operations are atomic from the caller's point of view: an error means
// nothing moved. The store argument is the state transaction of the calling
// operation; implementations backed by external systems may ignore it.
type Custodian interface {
	Pull(st Store, from [20]byte, source string, amount *big.Int) error
	Push(st Store, to [20]byte, source string, amount *big.Int) error
}

// NormalizeSource returns the canonical upper-case form of a value source
// identifier. Accepted characters are A-Z, 0-9, '.', '_' and '-'.
func NormalizeSource(source string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(source))
	if trimmed == "" || len(trimmed) > maxSourceLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
		}
	}
	return trimmed, nil
}

func balanceKey(owner [20]byte, source string) []byte {
	return []byte(fmt.Sprintf("custody/balance/%s/%x", source, owner))
}

// Vault is a state-backed Custodian. Escrowed value is held in the vault's own
// account until it is pushed back out.
type Vault struct {
	address [20]byte
}

// NewVault constructs a vault whose custodial account is address.
func NewVault(address [20]byte) *Vault {
	return &Vault{address: address}
}

// Address returns the vault's custodial account.
func (v *Vault) Address() [20]byte { return v.address }

// Balance returns the balance held by owner in the given source.
func (v *Vault) Balance(st Store, owner [20]byte, source string) (*big.Int, error) {
	normalized, err := NormalizeSource(source)
	if err != nil {
		return nil, err
	}
	bal, err := v.load(st, owner, normalized)
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// Credit adds externally supplied value to owner's balance. It is used for
// initial allocations and for bridging funds into custody.
func (v *Vault) Credit(st Store, owner [20]byte, source string, amount *big.Int) error {
	normalized, amt, err := v.prepare(source, amount)
	if err != nil {
		return err
	}
	return v.credit(st, owner, normalized, amt)
}

// Pull moves amount from the account into the vault.
func (v *Vault) Pull(st Store, from [20]byte, source string, amount *big.Int) error {
	return v.move(st, from, v.address, source, amount)
}

// Push moves amount from the vault to the account.
func (v *Vault) Push(st Store, to [20]byte, source string, amount *big.Int) error {
	return v.move(st, v.address, to, source, amount)
}

func (v *Vault) move(st Store, from, to [20]byte, source string, amount *big.Int) error {
	if st == nil {
		return errors.New("custody: state unavailable")
	}
	normalized, amt, err := v.prepare(source, amount)
	if err != nil {
		return err
	}
	if from == to {
		return ErrSelfTransfer
	}
	if amt.IsZero() {
		return nil
	}
	fromBal, err := v.load(st, from, normalized)
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientBalance, fromBal.ToBig().String(), amt.ToBig().String(), normalized)
	}
	toBal, err := v.load(st, to, normalized)
	if err != nil {
		return err
	}
	if _, overflow := new(uint256.Int).AddOverflow(toBal, amt); overflow {
		return ErrBalanceOverflow
	}
	if err := v.store(st, from, normalized, new(uint256.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return v.store(st, to, normalized, new(uint256.Int).Add(toBal, amt))
}

func (v *Vault) credit(st Store, owner [20]byte, source string, amt *uint256.Int) error {
	bal, err := v.load(st, owner, source)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	return v.store(st, owner, source, sum)
}

func (v *Vault) prepare(source string, amount *big.Int) (string, *uint256.Int, error) {
	normalized, err := NormalizeSource(source)
	if err != nil {
		return "", nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return "", nil, ErrInvalidAmount
	}
	amt, overflow := uint256.FromBig(amount)
	if overflow {
		return "", nil, ErrBalanceOverflow
	}
	return normalized, amt, nil
}

func (v *Vault) load(st Store, owner [20]byte, source string) (*uint256.Int, error) {
	stored := new(big.Int)
	ok, err := st.KVGet(balanceKey(owner, source), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	bal, overflow := uint256.FromBig(stored)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return bal, nil
}

func (v *Vault) store(st Store, owner [20]byte, source string, bal *uint256.Int) error {
	return st.KVPut(balanceKey(owner, source), bal.ToBig())
}
