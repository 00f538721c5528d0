package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"trustescrow/storage"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("state: read-only transaction")

// Store is the key/value view handed to native modules while an operation is
// running. Values are RLP encoded.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Manager serialises access to the escrow state. Every Update runs to
// completion before the next one starts and its writes are buffered until the
// callback returns; a failing callback discards the whole write set.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Update executes fn inside a writable transaction. The buffered writes are
// committed atomically only when fn returns nil.
func (m *Manager) Update(fn func(Store) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	if fn == nil {
		return errors.New("state: update callback required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := newTx(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View executes fn against a read-only transaction.
func (m *Manager) View(fn func(Store) error) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	if fn == nil {
		return errors.New("state: view callback required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m.db, true))
}

// Tx is a single state transaction. Reads observe the transaction's own
// pending writes before falling back to the database.
type Tx struct {
	db       storage.Database
	readOnly bool
	writes   map[string][]byte
}

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{db: db, readOnly: readOnly, writes: make(map[string][]byte)}
}

// KVPut stores the RLP encoding of value under key.
func (t *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if t.readOnly {
		return ErrReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	t.writes[string(kvKey(key))] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (t *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, ok := t.writes[string(hashed)]
	if !ok {
		stored, err := t.db.Get(hashed)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		data = stored
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Pending reports the number of buffered writes.
func (t *Tx) Pending() int { return len(t.writes) }

func (t *Tx) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	for _, key := range storage.SortedKeys(t.writes) {
		batch.Put([]byte(key), t.writes[key])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	t.writes = make(map[string][]byte)
	return nil
}
