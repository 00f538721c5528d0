package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	transactionPrefix = []byte("escrow/tx/")
	sequenceKey       = []byte("escrow/sequence")
	feePrefix         = []byte("escrow/fees/")
)

func transactionKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", transactionPrefix, id))
}

func feeKey(source string) []byte {
	return []byte(fmt.Sprintf("%s%s", feePrefix, source))
}

// txStore is the keyed transaction store. Records are created once, updated in
// place and never deleted.
type txStore struct {
	store store
}

func newTxStore(st store) *txStore {
	return &txStore{store: st}
}

func (s *txStore) create(t *Transaction) error {
	sanitized, err := SanitizeTransaction(t)
	if err != nil {
		return err
	}
	key := transactionKey(sanitized.ID)
	exists, err := s.store.KVGet(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrTransactionExists
	}
	return s.store.KVPut(key, newStoredTransaction(sanitized))
}

func (s *txStore) get(id [32]byte) (*Transaction, bool, error) {
	var stored storedTransaction
	ok, err := s.store.KVGet(transactionKey(id), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return stored.toTransaction(), true, nil
}

func (s *txStore) load(id [32]byte) (*Transaction, error) {
	txn, ok, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

// update overwrites an existing record. Terminal records are immutable and
// the immutable terms of a record can never change.
func (s *txStore) update(t *Transaction) error {
	sanitized, err := SanitizeTransaction(t)
	if err != nil {
		return err
	}
	current, err := s.load(sanitized.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: transaction already %s", ErrInvalidState, current.Status)
	}
	if current.Buyer != sanitized.Buyer || current.Merchant != sanitized.Merchant ||
		current.Amount.Cmp(sanitized.Amount) != 0 || current.CreatedAt != sanitized.CreatedAt ||
		current.ValueSource != sanitized.ValueSource {
		return errors.New("escrow: transaction terms are immutable")
	}
	return s.store.KVPut(transactionKey(sanitized.ID), newStoredTransaction(sanitized))
}

// nextSequence returns a strictly increasing deposit counter used to keep
// identifiers unique when every other input repeats.
func (s *txStore) nextSequence() (uint64, error) {
	var seq uint64
	if _, err := s.store.KVGet(sequenceKey, &seq); err != nil {
		return 0, err
	}
	if seq == math.MaxUint64 {
		return 0, errors.New("escrow: sequence exhausted")
	}
	seq++
	if err := s.store.KVPut(sequenceKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *txStore) fees(source string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := s.store.KVGet(feeKey(source), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (s *txStore) addFees(source string, amount *big.Int) error {
	current, err := s.fees(source)
	if err != nil {
		return err
	}
	return s.store.KVPut(feeKey(source), new(big.Int).Add(current, amount))
}

func (s *txStore) resetFees(source string) error {
	return s.store.KVPut(feeKey(source), big.NewInt(0))
}

// transactionID derives the identifier from the deposit terms and the deposit
// sequence number.
func transactionID(buyer, merchant [20]byte, amount *big.Int, createdAt int64, source string, seq uint64) [32]byte {
	var amountWord [32]byte
	amount.FillBytes(amountWord[:])
	var createdWord, seqWord [8]byte
	binary.BigEndian.PutUint64(createdWord[:], uint64(createdAt))
	binary.BigEndian.PutUint64(seqWord[:], seq)
	return ethcrypto.Keccak256Hash(
		buyer[:],
		merchant[:],
		amountWord[:],
		createdWord[:],
		[]byte(source),
		seqWord[:],
	)
}
