package sales

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ErrNotFound is returned when no record exists for the given seed.
var ErrNotFound = errors.New("sale: record not found")

// ErrEmptySeed is returned when trying to store a record with a zero seed.
var ErrEmptySeed = errors.New("sale: empty record seed")

// Storage persists sale records keyed by campaign seed.
type Storage interface {
	// Create stores a new record. Returns ErrAlreadyInitialized if one exists.
	Create(ctx context.Context, rec *Record) error
	// Read returns the record for seed or ErrNotFound.
	Read(ctx context.Context, seed solana.PublicKey) (*Record, error)
	// Update replaces prior with next. Returns ErrStaleRecord if the stored
	// record is not prior.
	Update(ctx context.Context, prior, next *Record) error
}

// LocalStorage provides an in-memory implementation for storing records.
type LocalStorage struct {
	mu sync.RWMutex
	m  map[solana.PublicKey]*Record
}

// NewLocalStorage instantiates a new LocalStorage with an empty map.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m: map[solana.PublicKey]*Record{},
	}
}

func (l *LocalStorage) Create(_ context.Context, rec *Record) error {
	if rec == nil || rec.Seed.IsZero() {
		return ErrEmptySeed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[rec.Seed]; ok {
		return ErrAlreadyInitialized
	}
	l.m[rec.Seed] = rec.Clone()
	return nil
}

// Read retrieves a record from the local storage by seed.
// Returns ErrNotFound if the record is not found.
func (l *LocalStorage) Read(_ context.Context, seed solana.PublicKey) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.m[seed]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (l *LocalStorage) Update(_ context.Context, prior, next *Record) error {
	if prior == nil || next == nil || next.Seed.IsZero() {
		return ErrEmptySeed
	}
	if prior.Seed != next.Seed {
		return ErrStaleRecord
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.m[next.Seed]
	if !ok {
		return ErrNotFound
	}
	if *cur != *prior {
		return ErrStaleRecord
	}
	l.m[next.Seed] = next.Clone()
	return nil
}
