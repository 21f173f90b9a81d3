package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icosale/internal/authority"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

type setup struct {
	bank    *Bank
	program solana.PublicKey
	mint    solana.PublicKey
	alice   solana.PublicKey
	aliceTA solana.PublicKey
	bobTA   solana.PublicKey
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	s := &setup{program: newKey(t), mint: newKey(t), alice: newKey(t), aliceTA: newKey(t), bobTA: newKey(t)}
	s.bank = New(s.program)
	require.NoError(t, s.bank.OpenTokenAccount(s.aliceTA, s.mint, s.alice))
	require.NoError(t, s.bank.OpenTokenAccount(s.bobTA, s.mint, newKey(t)))
	require.NoError(t, s.bank.MintTo(s.aliceTA, 100))
	return s
}

func (s *setup) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	acc, err := s.bank.TokenAccount(addr)
	require.NoError(t, err)
	return acc.Amount
}

func TestOpenTokenAccountTwice(t *testing.T) {
	s := newSetup(t)
	assert.ErrorIs(t, s.bank.OpenTokenAccount(s.aliceTA, s.mint, s.alice), ErrAccountExists)
	assert.ErrorIs(t, s.bank.MintTo(newKey(t), 1), ErrAccountNotFound)
}

func TestTransferTokensCommit(t *testing.T) {
	s := newSetup(t)
	tx := s.bank.Begin()
	require.NoError(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 40))
	assert.Equal(t, uint64(100), s.balance(t, s.aliceTA), "staged until commit")
	require.NoError(t, tx.Commit())

	assert.Equal(t, uint64(60), s.balance(t, s.aliceTA))
	assert.Equal(t, uint64(40), s.balance(t, s.bobTA))
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestTransferTokensRollback(t *testing.T) {
	s := newSetup(t)
	tx := s.bank.Begin()
	require.NoError(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 40))
	require.NoError(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 60))
	assert.ErrorIs(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 1), ErrInsufficientFunds)
	tx.Rollback()
	tx.Rollback()

	assert.Equal(t, uint64(100), s.balance(t, s.aliceTA))
	assert.Equal(t, uint64(0), s.balance(t, s.bobTA))
}

func TestTransferTokensChecks(t *testing.T) {
	s := newSetup(t)
	other := newKey(t)
	require.NoError(t, s.bank.OpenTokenAccount(other, newKey(t), s.alice))

	tx := s.bank.Begin()
	defer tx.Rollback()
	assert.ErrorIs(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(newKey(t)), 1), ErrUnauthorized)
	assert.ErrorIs(t, tx.TransferTokens(s.aliceTA, other, authority.Signer(s.alice), 1), ErrMintMismatch)
	assert.ErrorIs(t, tx.TransferTokens(s.aliceTA, newKey(t), authority.Signer(s.alice), 1), ErrAccountNotFound)
	assert.ErrorIs(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 101), ErrInsufficientFunds)
}

func TestDerivedAuthority(t *testing.T) {
	s := newSetup(t)
	holding, proof, err := authority.HoldingAccount(s.program, s.mint)
	require.NoError(t, err)
	require.NoError(t, s.bank.OpenTokenAccount(holding, s.mint, holding))
	require.NoError(t, s.bank.MintTo(holding, 50))

	tx := s.bank.Begin()
	assert.ErrorIs(t, tx.TransferTokens(holding, s.bobTA, authority.Signer(holding), 10), ErrUnauthorized)
	bad := proof
	bad.Seeds = [][]byte{newKey(t).Bytes()}
	assert.ErrorIs(t, tx.TransferTokens(holding, s.bobTA, authority.Derived(holding, bad), 10), ErrUnauthorized)
	require.NoError(t, tx.TransferTokens(holding, s.bobTA, authority.Derived(holding, proof), 10))
	require.NoError(t, tx.Commit())
	assert.Equal(t, uint64(30), s.balance(t, holding))
}

func TestNativeRail(t *testing.T) {
	s := newSetup(t)
	bob := newKey(t)
	require.NoError(t, s.bank.Deposit(s.alice, 1_000))

	tx := s.bank.Begin()
	rail := tx.Payments()
	require.NoError(t, rail.Transfer(context.Background(), s.alice, bob, 600))
	assert.ErrorIs(t, rail.Transfer(context.Background(), s.alice, bob, 600), ErrInsufficientFunds)
	require.NoError(t, tx.Commit())

	assert.Equal(t, uint64(400), s.bank.NativeBalance(s.alice))
	assert.Equal(t, uint64(600), s.bank.NativeBalance(bob))
}

type memJournal struct {
	saved []Changes
	err   error
}

func (j *memJournal) SaveBalances(c Changes) error {
	if j.err != nil {
		return j.err
	}
	j.saved = append(j.saved, c)
	return nil
}

func TestJournalRecordsCommittedChanges(t *testing.T) {
	s := newSetup(t)
	j := &memJournal{}
	s.bank.SetJournal(j)

	tx := s.bank.Begin()
	require.NoError(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 25))
	require.NoError(t, tx.Deposit(s.alice, 7))
	require.NoError(t, tx.Commit())

	require.Len(t, j.saved, 1)
	c := j.saved[0]
	require.Len(t, c.Tokens, 2)
	assert.Equal(t, s.aliceTA, c.Tokens[0].Address)
	assert.Equal(t, uint64(75), c.Tokens[0].Amount)
	assert.Equal(t, uint64(25), c.Tokens[1].Amount)
	assert.Equal(t, map[solana.PublicKey]uint64{s.alice: 7}, c.Lamports)

	s.bank.Begin().Rollback()
	require.NoError(t, s.bank.Begin().Commit())
	assert.Len(t, j.saved, 1, "empty and rolled back transactions are not journaled")
}

func TestJournalFailureAppliesNothing(t *testing.T) {
	s := newSetup(t)
	s.bank.SetJournal(&memJournal{err: errors.New("disk full")})

	assert.Error(t, s.bank.MintTo(s.aliceTA, 10))
	assert.Error(t, s.bank.OpenTokenAccount(newKey(t), s.mint, s.alice))

	tx := s.bank.Begin()
	require.NoError(t, tx.TransferTokens(s.aliceTA, s.bobTA, authority.Signer(s.alice), 10))
	assert.Error(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)

	assert.Equal(t, uint64(100), s.balance(t, s.aliceTA))
	assert.Equal(t, uint64(0), s.balance(t, s.bobTA))
}

func TestRestore(t *testing.T) {
	s := newSetup(t)
	j := &memJournal{}
	restored := New(s.program)
	restored.SetJournal(j)

	holder := newKey(t)
	restored.Restore(Changes{
		Tokens:   []TokenAccount{{Address: s.aliceTA, Mint: s.mint, Owner: s.alice, Amount: 90}},
		Lamports: map[solana.PublicKey]uint64{holder: 5},
	})
	assert.Empty(t, j.saved, "restoring does not journal")

	acc, err := restored.TokenAccount(s.aliceTA)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), acc.Amount)
	assert.Equal(t, uint64(5), restored.NativeBalance(holder))
	assert.ErrorIs(t, restored.OpenTokenAccount(s.aliceTA, s.mint, s.alice), ErrAccountExists)
}
