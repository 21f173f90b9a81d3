// Package bank is an in-process token ledger and native-currency rail.
// Balances change only through a Tx, which is applied or discarded whole.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/gagliardetto/solana-go"

	"icosale/internal/authority"
)

var (
	ErrAccountNotFound   = errors.New("bank: account not found")
	ErrAccountExists     = errors.New("bank: account already exists")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrUnauthorized      = errors.New("bank: unauthorized")
	ErrMintMismatch      = errors.New("bank: mint mismatch")
	ErrOverflow          = errors.New("bank: balance overflow")
	ErrTxClosed          = errors.New("bank: transaction closed")
)

// TokenAccount holds units of a single mint on behalf of its owner.
type TokenAccount struct {
	Address solana.PublicKey `json:"address"`
	Mint    solana.PublicKey `json:"mint"`
	Owner   solana.PublicKey `json:"owner"`
	Amount  uint64           `json:"amount"`
}

// Bank keeps token accounts and native balances.
type Bank struct {
	program solana.PublicKey

	// txMu serializes transactions; mu guards the maps.
	txMu     sync.Mutex
	mu       sync.RWMutex
	tokens   map[solana.PublicKey]*TokenAccount
	lamports map[solana.PublicKey]uint64
	journal  Journal
}

// New returns an empty bank. programID is the program whose derived
// addresses may sign for accounts they own.
func New(programID solana.PublicKey) *Bank {
	return &Bank{
		program:  programID,
		tokens:   make(map[solana.PublicKey]*TokenAccount),
		lamports: make(map[solana.PublicKey]uint64),
	}
}

// Changes are the account states a transaction leaves behind.
type Changes struct {
	Tokens   []TokenAccount
	Lamports map[solana.PublicKey]uint64
}

// Empty reports whether there is nothing to apply.
func (c Changes) Empty() bool {
	return len(c.Tokens) == 0 && len(c.Lamports) == 0
}

// Journal durably records changes before the bank applies them.
type Journal interface {
	SaveBalances(Changes) error
}

// SetJournal configures where committed changes are recorded. Passing nil
// keeps the bank in memory only.
func (b *Bank) SetJournal(j Journal) {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	b.journal = j
}

// Restore loads previously journaled state. It must be called before any
// transaction is opened.
func (b *Bank) Restore(state Changes) {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	b.apply(state)
}

func (b *Bank) apply(c Changes) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, acc := range c.Tokens {
		b.tokens[acc.Address] = &acc
	}
	for addr, amt := range c.Lamports {
		b.lamports[addr] = amt
	}
}

// OpenTokenAccount creates an empty token account.
func (b *Bank) OpenTokenAccount(address, mint, owner solana.PublicKey) error {
	tx := b.Begin()
	defer tx.Rollback()
	if err := tx.OpenTokenAccount(address, mint, owner); err != nil {
		return err
	}
	return tx.Commit()
}

// MintTo credits raw units to an existing token account.
func (b *Bank) MintTo(address solana.PublicKey, amount uint64) error {
	tx := b.Begin()
	defer tx.Rollback()
	if err := tx.MintTo(address, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// Deposit credits native currency to address.
func (b *Bank) Deposit(address solana.PublicKey, lamports uint64) error {
	tx := b.Begin()
	defer tx.Rollback()
	if err := tx.Deposit(address, lamports); err != nil {
		return err
	}
	return tx.Commit()
}

// TokenAccount returns a copy of the token account at address.
func (b *Bank) TokenAccount(address solana.PublicKey) (TokenAccount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.tokens[address]
	if !ok {
		return TokenAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return *acc, nil
}

// NativeBalance returns the native balance of address.
func (b *Bank) NativeBalance(address solana.PublicKey) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lamports[address]
}

// Begin opens a transaction. Only one transaction is open at a time; Begin
// blocks until the previous one is committed or rolled back.
func (b *Bank) Begin() *Tx {
	b.txMu.Lock()
	return &Tx{
		bank:     b,
		tokens:   make(map[solana.PublicKey]TokenAccount),
		lamports: make(map[solana.PublicKey]uint64),
	}
}

// Tx stages balance changes on top of the bank.
type Tx struct {
	bank     *Bank
	tokens   map[solana.PublicKey]TokenAccount
	order    []solana.PublicKey
	lamports map[solana.PublicKey]uint64
	closed   bool
}

func (tx *Tx) tokenAccount(address solana.PublicKey) (TokenAccount, error) {
	if acc, ok := tx.tokens[address]; ok {
		return acc, nil
	}
	return tx.bank.TokenAccount(address)
}

func (tx *Tx) stageToken(acc TokenAccount) {
	if _, ok := tx.tokens[acc.Address]; !ok {
		tx.order = append(tx.order, acc.Address)
	}
	tx.tokens[acc.Address] = acc
}

func (tx *Tx) nativeBalance(address solana.PublicKey) uint64 {
	if amt, ok := tx.lamports[address]; ok {
		return amt
	}
	return tx.bank.NativeBalance(address)
}

// OpenTokenAccount stages a new empty token account.
func (tx *Tx) OpenTokenAccount(address, mint, owner solana.PublicKey) error {
	if tx.closed {
		return ErrTxClosed
	}
	if _, err := tx.tokenAccount(address); err == nil {
		return fmt.Errorf("%w: %s", ErrAccountExists, address)
	}
	tx.stageToken(TokenAccount{Address: address, Mint: mint, Owner: owner})
	return nil
}

// MintTo stages a credit of raw units to an existing token account.
func (tx *Tx) MintTo(address solana.PublicKey, amount uint64) error {
	if tx.closed {
		return ErrTxClosed
	}
	acc, err := tx.tokenAccount(address)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acc.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	acc.Amount = sum
	tx.stageToken(acc)
	return nil
}

// Deposit stages a native currency credit to address.
func (tx *Tx) Deposit(address solana.PublicKey, lamports uint64) error {
	if tx.closed {
		return ErrTxClosed
	}
	sum, carry := bits.Add64(tx.nativeBalance(address), lamports, 0)
	if carry != 0 {
		return ErrOverflow
	}
	tx.lamports[address] = sum
	return nil
}

// TransferTokens moves raw units between token accounts of the same mint.
// grant must be authority over from.
func (tx *Tx) TransferTokens(from, to solana.PublicKey, grant authority.Grant, amount uint64) error {
	if tx.closed {
		return ErrTxClosed
	}
	src, err := tx.tokenAccount(from)
	if err != nil {
		return err
	}
	dst, err := tx.tokenAccount(to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, src.Mint, dst.Mint)
	}
	if err := grant.Authorizes(tx.bank.program, src.Owner); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount = sum
	tx.stageToken(src)
	tx.stageToken(dst)
	return nil
}

// TransferNative moves native currency from one party to another.
func (tx *Tx) TransferNative(from, to solana.PublicKey, amount uint64) error {
	if tx.closed {
		return ErrTxClosed
	}
	have := tx.nativeBalance(from)
	if have < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, have, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(tx.nativeBalance(to), amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	tx.lamports[from] = have - amount
	tx.lamports[to] = sum
	return nil
}

// Changes returns the staged account states.
func (tx *Tx) Changes() Changes {
	c := Changes{Lamports: make(map[solana.PublicKey]uint64, len(tx.lamports))}
	for _, addr := range tx.order {
		c.Tokens = append(c.Tokens, tx.tokens[addr])
	}
	for addr, amt := range tx.lamports {
		c.Lamports[addr] = amt
	}
	return c
}

// Commit records the staged balances in the bank's journal, if any, then
// applies them and closes the transaction.
func (tx *Tx) Commit() error {
	var persist func(Changes) error
	if j := tx.bank.journal; j != nil {
		persist = j.SaveBalances
	}
	return tx.CommitWith(persist)
}

// CommitWith is Commit with the journal replaced by persist. If persist
// fails the transaction is rolled back and nothing is applied.
func (tx *Tx) CommitWith(persist func(Changes) error) error {
	if tx.closed {
		return ErrTxClosed
	}
	defer tx.close()
	c := tx.Changes()
	if persist != nil && !c.Empty() {
		if err := persist(c); err != nil {
			return fmt.Errorf("bank: persist: %w", err)
		}
	}
	tx.bank.apply(c)
	return nil
}

// Rollback discards the staged balances. It is a no-op on a closed
// transaction.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.bank.txMu.Unlock()
}

// Tokens adapts the transaction to a token transfer port.
func (tx *Tx) Tokens() TokenRail { return TokenRail{tx: tx} }

// Payments adapts the transaction to a native payment port.
func (tx *Tx) Payments() NativeRail { return NativeRail{tx: tx} }

// TokenRail moves token units inside a Tx.
type TokenRail struct{ tx *Tx }

func (r TokenRail) Transfer(_ context.Context, from, to solana.PublicKey, grant authority.Grant, amount uint64) error {
	return r.tx.TransferTokens(from, to, grant, amount)
}

// NativeRail moves native currency inside a Tx.
type NativeRail struct{ tx *Tx }

func (r NativeRail) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	return r.tx.TransferNative(from, to, amount)
}
