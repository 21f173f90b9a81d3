package levelstore

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"icosale/internal/bank"
)

var (
	tokenPrefix    = []byte("token/")
	lamportsPrefix = []byte("lamports/")
)

type tokenLayout struct {
	Mint   [32]byte
	Owner  [32]byte
	Amount uint64
}

func prefixed(prefix []byte, addr solana.PublicKey) []byte {
	return append(append([]byte(nil), prefix...), addr[:]...)
}

func encodeBorsh(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func putBalances(batch *leveldb.Batch, c bank.Changes) error {
	for _, acc := range c.Tokens {
		data, err := encodeBorsh(tokenLayout{Mint: acc.Mint, Owner: acc.Owner, Amount: acc.Amount})
		if err != nil {
			return fmt.Errorf("leveldb: encode token account: %w", err)
		}
		batch.Put(prefixed(tokenPrefix, acc.Address), data)
	}
	for addr, amt := range c.Lamports {
		data, err := encodeBorsh(amt)
		if err != nil {
			return fmt.Errorf("leveldb: encode balance: %w", err)
		}
		batch.Put(prefixed(lamportsPrefix, addr), data)
	}
	return nil
}

// SaveBalances writes balance changes made outside a sale invocation.
func (s *Store) SaveBalances(c bank.Changes) error {
	batch := new(leveldb.Batch)
	if err := putBalances(batch, c); err != nil {
		return err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb: write balances: %w", err)
	}
	return nil
}

// LoadBalances reads every stored token account and native balance.
func (s *Store) LoadBalances() (bank.Changes, error) {
	state := bank.Changes{Lamports: make(map[solana.PublicKey]uint64)}

	it := s.db.NewIterator(util.BytesPrefix(tokenPrefix), nil)
	for it.Next() {
		addr, err := addressFrom(it.Key(), tokenPrefix)
		if err != nil {
			it.Release()
			return bank.Changes{}, err
		}
		var layout tokenLayout
		if err := bin.NewBorshDecoder(it.Value()).Decode(&layout); err != nil {
			it.Release()
			return bank.Changes{}, fmt.Errorf("leveldb: decode token account %s: %w", addr, err)
		}
		state.Tokens = append(state.Tokens, bank.TokenAccount{
			Address: addr,
			Mint:    solana.PublicKey(layout.Mint),
			Owner:   solana.PublicKey(layout.Owner),
			Amount:  layout.Amount,
		})
	}
	it.Release()
	if err := it.Error(); err != nil {
		return bank.Changes{}, fmt.Errorf("leveldb: iterate token accounts: %w", err)
	}

	it = s.db.NewIterator(util.BytesPrefix(lamportsPrefix), nil)
	defer it.Release()
	for it.Next() {
		addr, err := addressFrom(it.Key(), lamportsPrefix)
		if err != nil {
			return bank.Changes{}, err
		}
		var amt uint64
		if err := bin.NewBorshDecoder(it.Value()).Decode(&amt); err != nil {
			return bank.Changes{}, fmt.Errorf("leveldb: decode balance %s: %w", addr, err)
		}
		state.Lamports[addr] = amt
	}
	if err := it.Error(); err != nil {
		return bank.Changes{}, fmt.Errorf("leveldb: iterate balances: %w", err)
	}
	return state, nil
}

func addressFrom(key, prefix []byte) (solana.PublicKey, error) {
	raw := key[len(prefix):]
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("leveldb: malformed key %x", key)
	}
	return solana.PublicKeyFromBytes(raw), nil
}
