package margin

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store persists ledger balances and facility debts in Pebble so a node
// restart does not wipe user funds. All access is serialized by the owning
// Ledger/Facility mutex.
type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// keys: bal:<20-byte-addr>:<asset>, debt:<20-byte-addr>:<asset>
func balanceKey(user common.Address, asset string) []byte {
	k := append([]byte("bal:"), user.Bytes()...)
	return append(append(k, ':'), asset...)
}

func debtKey(user common.Address, asset string) []byte {
	k := append([]byte("debt:"), user.Bytes()...)
	return append(append(k, ':'), asset...)
}

func (s *Store) SaveBalance(user common.Address, asset string, b *balance) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	if err := s.db.Set(balanceKey(user, asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// LoadBalance returns nil if the user has no persisted balance for asset.
func (s *Store) LoadBalance(user common.Address, asset string) (*balance, error) {
	data, closer, err := s.db.Get(balanceKey(user, asset))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	defer closer.Close()

	var b balance
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal balance: %w", err)
	}
	return &b, nil
}

func (s *Store) SaveDebt(user common.Address, asset string, debt int64) error {
	data, err := json.Marshal(debt)
	if err != nil {
		return err
	}
	if err := s.db.Set(debtKey(user, asset), data, pebble.Sync); err != nil {
		return fmt.Errorf("save debt: %w", err)
	}
	return nil
}

// LoadDebt returns 0 if the user has no persisted debt for asset.
func (s *Store) LoadDebt(user common.Address, asset string) (int64, error) {
	data, closer, err := s.db.Get(debtKey(user, asset))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get debt: %w", err)
	}
	defer closer.Close()

	var debt int64
	if err := json.Unmarshal(data, &debt); err != nil {
		return 0, fmt.Errorf("unmarshal debt: %w", err)
	}
	return debt, nil
}
