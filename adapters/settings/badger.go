// Package settings provides a durable SettingsStore on BadgerDB.
package settings

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/voicegate/voicegate/domain/repositories"
)

// BadgerStore keeps small boolean flags in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

var _ repositories.SettingsStore = (*BadgerStore)(nil)

// Open opens (or creates) the settings database at dir.
func Open(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) SetBool(key string, value bool) error {
	v := []byte{0}
	if value {
		v[0] = 1
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), v)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetBool returns false with no error for keys that were never written.
func (s *BadgerStore) GetBool(key string) (bool, error) {
	var value bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = len(v) > 0 && v[0] == 1
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
