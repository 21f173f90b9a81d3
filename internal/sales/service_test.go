package sales

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icosale/internal/authority"
)

func TestNewService(t *testing.T) {
	f := newFixture(t, DefaultPricing())

	holding, _, err := authority.HoldingAccount(f.program, f.mint)
	require.NoError(t, err)
	assert.Equal(t, holding, f.svc.Holding())

	_, err = NewService(nil, Config{ProgramID: f.program, Mint: f.mint, Pricing: DefaultPricing()}, nil)
	assert.Error(t, err)
	_, err = NewService(f.host, Config{ProgramID: f.program, Mint: f.mint}, nil)
	assert.Error(t, err, "zero pricing")
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 1000)

	seed, err := f.svc.RecordAddress(f.admin)
	require.NoError(t, err)
	assert.Equal(t, &Record{Seed: seed, Admin: f.admin, TotalUnits: 1000, UnitsSold: 0}, rec)

	stored, err := f.svc.Get(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	require.Len(t, f.host.committed, 1)
	tr := f.host.committed[0]
	assert.Equal(t, "token", tr.kind)
	assert.Equal(t, f.source, tr.from)
	assert.Equal(t, f.svc.Holding(), tr.to)
	assert.Equal(t, authority.Signer(f.admin), tr.grant)
	assert.Equal(t, uint64(1000*1_000_000_000), tr.amount)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, EventTypeInitialized, f.emitter.events[0].Type)
	assert.Equal(t, uint64(1000), f.emitter.events[0].Units)
	assert.NotEmpty(t, f.emitter.events[0].ID)
}

func TestInitializeTwice(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	first := f.initialize(t, 1000)

	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: 5, Source: f.source})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	stored, err := f.svc.Get(context.Background(), first.Seed)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
	assert.Len(t, f.host.committed, 1)
	assert.Len(t, f.emitter.events, 1)
}

func TestOverflowPerformsNoTransfers(t *testing.T) {
	tooMany := math.MaxUint64/DefaultDenominationFactor + 1

	f := newFixture(t, DefaultPricing())
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: tooMany, Source: f.source})
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Empty(t, f.host.committed)

	seed, err := f.svc.RecordAddress(f.admin)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), seed)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := f.initialize(t, 10)
	_, err = f.svc.TopUp(context.Background(), TopUpRequest{Seed: rec.Seed, Admin: f.admin, Units: tooMany, Source: f.source})
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: tooMany})
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Len(t, f.host.committed, 1, "only the successful initialize transferred")
}

func TestInitializeTransferRejected(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	f.host.tokenErr = errors.New("insufficient funds")

	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: 1000, Source: f.source})
	assert.ErrorIs(t, err, ErrTransferRejected)
	assert.Equal(t, KindTransferRejected, Kind(err))

	seed, err := f.svc.RecordAddress(f.admin)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), seed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.emitter.events)
}

func TestInitializeRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, DefaultPricing())

	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: 0, Source: f.source})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: 1, Source: f.source, Holding: newKey(t)})
	assert.ErrorIs(t, err, ErrInvalidAccount)
	assert.Empty(t, f.host.committed)
}

func TestTopUp(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 1000)

	next, err := f.svc.TopUp(context.Background(), TopUpRequest{Seed: rec.Seed, Admin: f.admin, Units: 500, Source: f.source})
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), next.TotalUnits)
	assert.Equal(t, uint64(0), next.UnitsSold)

	require.Len(t, f.host.committed, 2)
	assert.Equal(t, uint64(500*1_000_000_000), f.host.committed[1].amount)
	assert.Equal(t, EventTypeToppedUp, f.emitter.events[1].Type)
}

func TestTopUpInvalidAdmin(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 1000)
	before, err := EncodeRecord(rec)
	require.NoError(t, err)

	_, err = f.svc.TopUp(context.Background(), TopUpRequest{Seed: rec.Seed, Admin: newKey(t), Units: 500, Source: f.source})
	assert.ErrorIs(t, err, ErrInvalidAdmin)

	stored, err := f.svc.Get(context.Background(), rec.Seed)
	require.NoError(t, err)
	after, err := EncodeRecord(stored)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.host.committed, 1)
}

func TestTopUpTotalOverflowChecksBeforeTransfer(t *testing.T) {
	f := newFixture(t, Pricing{DenominationFactor: 1, PricePerUnit: 1})
	rec := f.initialize(t, math.MaxUint64)

	_, err := f.svc.TopUp(context.Background(), TopUpRequest{Seed: rec.Seed, Admin: f.admin, Units: 1, Source: f.source})
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Len(t, f.host.committed, 1)
}

func TestTopUpUnknownRecord(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	_, err := f.svc.TopUp(context.Background(), TopUpRequest{Seed: newKey(t), Admin: f.admin, Units: 1, Source: f.source})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, Kind(err))
}

func TestPurchase(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 1000)
	buyer := newKey(t)

	next, err := f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: buyer, Payee: f.admin, Units: 10})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), next.TotalUnits)
	assert.Equal(t, uint64(10), next.UnitsSold)

	require.Len(t, f.host.committed, 3)
	pay, tok := f.host.committed[1], f.host.committed[2]
	assert.Equal(t, transfer{kind: "payment", from: buyer, to: f.admin, amount: 10 * 1_000_000}, pay)

	ata, err := f.svc.TokenAccount(buyer)
	require.NoError(t, err)
	assert.Equal(t, "token", tok.kind)
	assert.Equal(t, f.svc.Holding(), tok.from)
	assert.Equal(t, ata, tok.to)
	assert.Equal(t, uint64(10*1_000_000_000), tok.amount)
	require.NotNil(t, tok.grant.Proof)
	assert.NoError(t, tok.grant.Authorizes(f.program, f.svc.Holding()))

	evt := f.emitter.events[1]
	assert.Equal(t, EventTypePurchased, evt.Type)
	assert.Equal(t, uint64(10*1_000_000), evt.Payment)
}

func TestPurchaseAccumulates(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 1000)

	for _, units := range []uint64{3, 7} {
		_, err := f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: units})
		require.NoError(t, err)
	}
	stored, err := f.svc.Get(context.Background(), rec.Seed)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stored.UnitsSold)
}

func TestPurchaseRejectsOversell(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 10)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: 11})
	assert.ErrorIs(t, err, ErrInsufficientSupply)
	assert.Len(t, f.host.committed, 1)

	_, err = f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: 10})
	assert.NoError(t, err, "exactly the remaining supply")
}

func TestPurchaseChecksBeforeTransfer(t *testing.T) {
	f := newFixture(t, Pricing{DenominationFactor: 1, PricePerUnit: math.MaxUint64})
	rec := f.initialize(t, 10)
	buyer := newKey(t)

	cases := []struct {
		name string
		req  PurchaseRequest
		want error
	}{
		{"wrong payee", PurchaseRequest{Seed: rec.Seed, Buyer: buyer, Payee: buyer, Units: 1}, ErrInvalidAdmin},
		{"wrong holding", PurchaseRequest{Seed: rec.Seed, Buyer: buyer, Payee: f.admin, Units: 1, Holding: newKey(t)}, ErrInvalidAccount},
		{"payment overflow", PurchaseRequest{Seed: rec.Seed, Buyer: buyer, Payee: f.admin, Units: 2}, ErrOverflow},
		{"zero", PurchaseRequest{Seed: rec.Seed, Buyer: buyer, Payee: f.admin}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Purchase(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Len(t, f.host.committed, 1)
		})
	}
}

func TestPurchaseTransferRejectedLeavesRecord(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	rec := f.initialize(t, 100)
	f.host.paymentErr = errors.New("buyer broke")

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: 1})
	assert.ErrorIs(t, err, ErrTransferRejected)

	stored, err := f.svc.Get(context.Background(), rec.Seed)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

type countingObserver map[string]int

func (c countingObserver) ObserveOperation(op string, err error) {
	c[op+":"+string(Kind(err))]++
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	f := newFixture(t, DefaultPricing())
	obs := countingObserver{}
	f.svc.SetObserver(obs)

	rec := f.initialize(t, 1)
	_, _ = f.svc.Initialize(context.Background(), InitializeRequest{Admin: f.admin, Units: 1, Source: f.source})
	_, _ = f.svc.Purchase(context.Background(), PurchaseRequest{Seed: rec.Seed, Buyer: newKey(t), Payee: f.admin, Units: 2})

	assert.Equal(t, 1, obs["initialize:"])
	assert.Equal(t, 1, obs["initialize:already_initialized"])
	assert.Equal(t, 1, obs["purchase:insufficient_supply"])
}
