package sales

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"icosale/internal/authority"
)

type transfer struct {
	kind     string
	from, to solana.PublicKey
	grant    authority.Grant
	amount   uint64
}

// fakeHost applies transfers only when the invocation succeeds.
type fakeHost struct {
	store      *LocalStorage
	committed  []transfer
	tokenErr   error
	paymentErr error
}

type fakeSession struct {
	h       *fakeHost
	pending []transfer
}

type fakeTokens struct{ s *fakeSession }

type fakePayments struct{ s *fakeSession }

func newFakeHost() *fakeHost {
	return &fakeHost{store: NewLocalStorage()}
}

func (h *fakeHost) Atomic(_ context.Context, _ solana.PublicKey, fn func(Session) error) error {
	sess := &fakeSession{h: h}
	if err := fn(sess); err != nil {
		return err
	}
	h.committed = append(h.committed, sess.pending...)
	return nil
}

func (h *fakeHost) Records() Storage { return h.store }

func (s *fakeSession) Records() Storage          { return s.h.store }
func (s *fakeSession) Tokens() ValueTransferPort { return fakeTokens{s} }
func (s *fakeSession) Payments() PaymentPort     { return fakePayments{s} }

func (t fakeTokens) Transfer(_ context.Context, from, to solana.PublicKey, grant authority.Grant, amount uint64) error {
	if t.s.h.tokenErr != nil {
		return t.s.h.tokenErr
	}
	t.s.pending = append(t.s.pending, transfer{kind: "token", from: from, to: to, grant: grant, amount: amount})
	return nil
}

func (p fakePayments) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	if p.s.h.paymentErr != nil {
		return p.s.h.paymentErr
	}
	p.s.pending = append(p.s.pending, transfer{kind: "payment", from: from, to: to, amount: amount})
	return nil
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }

type fixture struct {
	host    *fakeHost
	svc     *Service
	emitter *recordingEmitter
	program solana.PublicKey
	mint    solana.PublicKey
	admin   solana.PublicKey
	source  solana.PublicKey
}

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func newFixture(t *testing.T, pricing Pricing) *fixture {
	t.Helper()
	f := &fixture{
		host:    newFakeHost(),
		emitter: &recordingEmitter{},
		program: newKey(t),
		mint:    newKey(t),
		admin:   newKey(t),
		source:  newKey(t),
	}
	svc, err := NewService(f.host, Config{ProgramID: f.program, Mint: f.mint, Pricing: pricing}, zaptest.NewLogger(t))
	require.NoError(t, err)
	svc.SetEmitter(f.emitter)
	f.svc = svc
	return f
}

func (f *fixture) initialize(t *testing.T, units uint64) *Record {
	t.Helper()
	rec, err := f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: units, Source: f.source})
	require.NoError(t, err)
	return rec
}
