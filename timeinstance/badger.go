package timeinstance

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps instances in a badger key value store as JSON records.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a store in dir. An empty dir keeps the
// store in memory.
func OpenBadgerStore(dir string) (bs *BadgerStore, err error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	var db *badger.DB
	if db, err = badger.Open(opts); err != nil {
		return nil, fmt.Errorf("opening time instance store %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func instanceKey(i int) []byte { return []byte(fmt.Sprintf("instance/%06d", i)) }

func (bs *BadgerStore) Put(i int, inst Instance) error {
	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(instanceKey(i), val)
	})
}

func (bs *BadgerStore) Get(i int) (inst Instance, err error) {
	err = bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(instanceKey(i))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d not in the store", ErrNotSaved, i)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inst)
		})
	})
	return
}

func (bs *BadgerStore) Close() error { return bs.db.Close() }
