// Package levelstore persists sale records and bank balances in a goleveldb
// database. Records use the on-chain account layout.
package levelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/syndtr/goleveldb/leveldb"

	"icosale/internal/bank"
	"icosale/internal/sales"
)

var keyPrefix = []byte("sale/")

// Store is a sales.Storage and bank.Journal backed by LevelDB.
type Store struct {
	db *leveldb.DB
	// mu makes the read-compare-write of Create, Update and Apply atomic.
	mu sync.Mutex
}

var (
	_ sales.Storage = (*Store)(nil)
	_ bank.Journal  = (*Store)(nil)
)

// Open creates or opens a LevelDB database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldb: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened database.
func New(db *leveldb.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(seed solana.PublicKey) []byte {
	return append(append([]byte(nil), keyPrefix...), seed[:]...)
}

func (s *Store) Create(_ context.Context, rec *sales.Record) error {
	if rec == nil || rec.Seed.IsZero() {
		return sales.ErrEmptySeed
	}
	data, err := sales.EncodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(rec.Seed)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("leveldb: has: %w", err)
	}
	if exists {
		return sales.ErrAlreadyInitialized
	}
	return s.db.Put(key, data, nil)
}

func (s *Store) Read(_ context.Context, seed solana.PublicKey) (*sales.Record, error) {
	data, err := s.db.Get(recordKey(seed), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, sales.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb: get: %w", err)
	}
	return sales.DecodeRecord(seed, data)
}

func (s *Store) Update(_ context.Context, prior, next *sales.Record) error {
	if prior == nil || next == nil || next.Seed.IsZero() {
		return sales.ErrEmptySeed
	}
	if prior.Seed != next.Seed {
		return sales.ErrStaleRecord
	}
	want, err := sales.EncodeRecord(prior)
	if err != nil {
		return err
	}
	data, err := sales.EncodeRecord(next)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(next.Seed)
	cur, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return sales.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("leveldb: get: %w", err)
	}
	if !bytes.Equal(cur, want) {
		return sales.ErrStaleRecord
	}
	return s.db.Put(key, data, nil)
}

// Apply checks every record write against the stored state and writes the
// records together with the balance changes in one batch. Nothing is written
// if any check fails.
func (s *Store) Apply(_ context.Context, writes []sales.RecordWrite, changes bank.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, w := range writes {
		if err := s.stageRecord(batch, w); err != nil {
			return err
		}
	}
	if err := putBalances(batch, changes); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: write batch: %w", err)
	}
	return nil
}

func (s *Store) stageRecord(batch *leveldb.Batch, w sales.RecordWrite) error {
	if w.Next == nil || w.Next.Seed.IsZero() {
		return sales.ErrEmptySeed
	}
	key := recordKey(w.Next.Seed)
	cur, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		if w.Prior != nil {
			return sales.ErrNotFound
		}
	case err != nil:
		return fmt.Errorf("leveldb: get: %w", err)
	case w.Prior == nil:
		return sales.ErrAlreadyInitialized
	default:
		want, err := sales.EncodeRecord(w.Prior)
		if err != nil {
			return err
		}
		if w.Prior.Seed != w.Next.Seed || !bytes.Equal(cur, want) {
			return sales.ErrStaleRecord
		}
	}
	data, err := sales.EncodeRecord(w.Next)
	if err != nil {
		return err
	}
	batch.Put(key, data)
	return nil
}
