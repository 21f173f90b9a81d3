// Package authority derives program addresses and the non-keyed proofs
// that let the sale program act as a transfer authority.
package authority

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// RecordSeedPrefix prefixes the admin key when deriving a sale record address.
var RecordSeedPrefix = []byte("data")

// ErrInvalidProof is returned when a proof does not reproduce the expected address.
var ErrInvalidProof = errors.New("authority: proof does not match address")

// Proof is the seed material plus the canonical bump that reproduce a
// program-derived address. It stands in for a signature.
type Proof struct {
	Seeds [][]byte `json:"seeds"`
	Bump  uint8    `json:"bump"`
}

// Derive finds the program-derived address for seeds under programID and
// returns it together with the proof that reproduces it.
func Derive(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, Proof, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, Proof{}, fmt.Errorf("authority: derive: %w", err)
	}
	return addr, Proof{Seeds: cloneSeeds(seeds), Bump: bump}, nil
}

// Address recomputes the address described by the proof.
func (p Proof) Address(programID solana.PublicKey) (solana.PublicKey, error) {
	seeds := append(cloneSeeds(p.Seeds), []byte{p.Bump})
	addr, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("authority: recompute: %w", err)
	}
	return addr, nil
}

// Verify reports whether the proof recomputes to expected.
func (p Proof) Verify(programID, expected solana.PublicKey) bool {
	addr, err := p.Address(programID)
	if err != nil {
		return false
	}
	return addr.Equals(expected)
}

// RecordAddress returns the address keying the sale record owned by admin.
func RecordAddress(programID, admin solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := Derive(programID, RecordSeedPrefix, admin.Bytes())
	return addr, err
}

// HoldingAccount returns the token account that custodies unsold units of
// mint, along with the proof the program uses to sign for it.
func HoldingAccount(programID, mint solana.PublicKey) (solana.PublicKey, Proof, error) {
	return Derive(programID, mint.Bytes())
}

// Grant is the authority presented for a token transfer. A grant without a
// proof is a signer key; a grant with a proof is a program-derived key.
type Grant struct {
	Key   solana.PublicKey
	Proof *Proof
}

// Signer returns a grant for a key that signed the invocation.
func Signer(key solana.PublicKey) Grant {
	return Grant{Key: key}
}

// Derived returns a grant backed by a derivation proof.
func Derived(key solana.PublicKey, proof Proof) Grant {
	return Grant{Key: key, Proof: &proof}
}

// Authorizes reports whether the grant is valid authority over an account
// owned by owner.
func (g Grant) Authorizes(programID, owner solana.PublicKey) error {
	if !g.Key.Equals(owner) {
		return fmt.Errorf("authority: %s is not the owner", g.Key)
	}
	if g.Proof == nil {
		// Derived addresses are off the curve and can never sign.
		if !g.Key.IsOnCurve() {
			return fmt.Errorf("authority: %s cannot sign", g.Key)
		}
		return nil
	}
	if !g.Proof.Verify(programID, g.Key) {
		return ErrInvalidProof
	}
	return nil
}

func cloneSeeds(seeds [][]byte) [][]byte {
	out := make([][]byte, len(seeds))
	for i, s := range seeds {
		out[i] = append([]byte(nil), s...)
	}
	return out
}
