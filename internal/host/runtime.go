// Package host runs sale operations as atomic invocations over a bank and
// a record store.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"icosale/internal/bank"
	"icosale/internal/sales"
)

// Runtime implements sales.Host.
type Runtime struct {
	bank   *bank.Bank
	store  sales.Storage
	logger *zap.Logger

	mu    sync.Mutex
	locks map[solana.PublicKey]*seedLock
}

type seedLock struct {
	mu   sync.Mutex
	refs int
}

var _ sales.Host = (*Runtime)(nil)

// Durable is a record store that also holds bank balances. Apply writes the
// record writes and balance changes of one invocation together or not at all.
type Durable interface {
	sales.Storage
	Apply(ctx context.Context, writes []sales.RecordWrite, changes bank.Changes) error
}

// New creates a runtime over b and store.
func New(b *bank.Bank, store sales.Storage, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		bank:   b,
		store:  store,
		logger: logger,
		locks:  make(map[solana.PublicKey]*seedLock),
	}
}

// Atomic admits fn once ctx is live and no other invocation holds seed.
// Once admitted fn runs to completion; record writes and transfers are
// applied only if it returns nil.
func (r *Runtime) Atomic(ctx context.Context, seed solana.PublicKey, fn func(sales.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.lock(seed)
	defer unlock()

	tx := r.bank.Begin()
	defer tx.Rollback()

	sess := &session{tx: tx, records: newStagedRecords(r.store)}
	if err := fn(sess); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	if d, ok := r.store.(Durable); ok {
		err := tx.CommitWith(func(c bank.Changes) error {
			return d.Apply(ctx, sess.records.writes(), c)
		})
		if err != nil {
			r.logger.Error("commit failed", zap.Stringer("seed", seed), zap.Error(err))
			return fmt.Errorf("host: commit: %w", err)
		}
		return nil
	}
	if err := sess.records.flush(ctx); err != nil {
		r.logger.Error("record commit failed", zap.Stringer("seed", seed), zap.Error(err))
		return fmt.Errorf("host: commit records: %w", err)
	}
	return tx.Commit()
}

// Records returns the committed record store.
func (r *Runtime) Records() sales.Storage { return r.store }

func (r *Runtime) lock(seed solana.PublicKey) func() {
	r.mu.Lock()
	l, ok := r.locks[seed]
	if !ok {
		l = &seedLock{}
		r.locks[seed] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, seed)
		}
		r.mu.Unlock()
	}
}

type session struct {
	tx      *bank.Tx
	records *stagedRecords
}

func (s *session) Records() sales.Storage          { return s.records }
func (s *session) Tokens() sales.ValueTransferPort { return s.tx.Tokens() }
func (s *session) Payments() sales.PaymentPort     { return s.tx.Payments() }

type stagedWrite struct {
	prior *sales.Record // nil for a create
	next  *sales.Record
}

// stagedRecords buffers writes over a store until flush.
type stagedRecords struct {
	base    sales.Storage
	pending map[solana.PublicKey]stagedWrite
	order   []solana.PublicKey
}

func newStagedRecords(base sales.Storage) *stagedRecords {
	return &stagedRecords{base: base, pending: make(map[solana.PublicKey]stagedWrite)}
}

func (s *stagedRecords) Read(ctx context.Context, seed solana.PublicKey) (*sales.Record, error) {
	if w, ok := s.pending[seed]; ok {
		return w.next.Clone(), nil
	}
	return s.base.Read(ctx, seed)
}

func (s *stagedRecords) Create(ctx context.Context, rec *sales.Record) error {
	if rec == nil || rec.Seed.IsZero() {
		return sales.ErrEmptySeed
	}
	if _, err := s.Read(ctx, rec.Seed); err == nil {
		return sales.ErrAlreadyInitialized
	}
	s.stage(rec.Seed, stagedWrite{next: rec.Clone()})
	return nil
}

func (s *stagedRecords) Update(ctx context.Context, prior, next *sales.Record) error {
	if prior == nil || next == nil || prior.Seed != next.Seed {
		return sales.ErrStaleRecord
	}
	cur, err := s.Read(ctx, next.Seed)
	if err != nil {
		return err
	}
	if *cur != *prior {
		return sales.ErrStaleRecord
	}
	w, ok := s.pending[next.Seed]
	if !ok {
		w = stagedWrite{prior: cur}
	}
	w.next = next.Clone()
	s.stage(next.Seed, w)
	return nil
}

func (s *stagedRecords) stage(seed solana.PublicKey, w stagedWrite) {
	if _, ok := s.pending[seed]; !ok {
		s.order = append(s.order, seed)
	}
	s.pending[seed] = w
}

func (s *stagedRecords) writes() []sales.RecordWrite {
	out := make([]sales.RecordWrite, 0, len(s.order))
	for _, seed := range s.order {
		w := s.pending[seed]
		out = append(out, sales.RecordWrite{Prior: w.prior, Next: w.next})
	}
	return out
}

func (s *stagedRecords) flush(ctx context.Context) error {
	for _, seed := range s.order {
		w := s.pending[seed]
		var err error
		if w.prior == nil {
			err = s.base.Create(ctx, w.next)
		} else {
			err = s.base.Update(ctx, w.prior, w.next)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
