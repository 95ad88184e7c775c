package storage

import (
	"context"
	"errors"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

const checkpointPrefix = "checkpoint:"

type BadgerStore struct {
	dir string
	db  *badger.DB
}

func NewBadgerStore(dir string) *BadgerStore {
	return &BadgerStore{dir: dir}
}

func (s *BadgerStore) Init(_ context.Context) error {
	if s.dir == "" {
		return errors.New("badger directory is required")
	}
	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

func (s *BadgerStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	if s.db == nil {
		return errors.New("badger store is not initialized")
	}

	payload, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(checkpointPrefix+cp.ID), payload)
	})
}

func (s *BadgerStore) GetCheckpoint(_ context.Context, id string) (Checkpoint, bool, error) {
	if s.db == nil {
		return Checkpoint{}, false, errors.New("badger store is not initialized")
	}

	var cp Checkpoint
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(checkpointPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := DecodeCheckpoint(val)
			if err != nil {
				return err
			}
			cp = decoded
			found = true
			return nil
		})
	})
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, found, nil
}

func (s *BadgerStore) ListCheckpoints(_ context.Context) ([]Checkpoint, error) {
	if s.db == nil {
		return nil, errors.New("badger store is not initialized")
	}

	var list []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				cp, err := DecodeCheckpoint(val)
				if err != nil {
					return err
				}
				list = append(list, cp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (s *BadgerStore) DeleteCheckpoint(_ context.Context, id string) error {
	if s.db == nil {
		return errors.New("badger store is not initialized")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(checkpointPrefix + id))
	})
}
