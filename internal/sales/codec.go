package sales

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// RecordSize is the encoded length of a record: discriminator, admin key
// and two u64 counters.
const RecordSize = 8 + 32 + 8 + 8

var recordDiscriminator = accountDiscriminator("Data")

// accountDiscriminator returns the 8-byte account header used by Anchor
// programs for the account type name.
func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

type recordLayout struct {
	Admin       [32]byte
	TotalTokens uint64
	TokensSold  uint64
}

// EncodeRecord serializes rec in the on-chain account layout. The seed is
// the storage key and is not part of the encoding.
func EncodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RecordSize)
	buf.Write(recordDiscriminator[:])
	layout := recordLayout{
		Admin:       rec.Admin,
		TotalTokens: rec.TotalUnits,
		TokensSold:  rec.UnitsSold,
	}
	if err := bin.NewBorshEncoder(&buf).Encode(layout); err != nil {
		return nil, fmt.Errorf("sale: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses bytes produced by EncodeRecord.
func DecodeRecord(seed solana.PublicKey, data []byte) (*Record, error) {
	if len(data) < RecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(data))
	}
	if !bytes.Equal(data[:8], recordDiscriminator[:]) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrCorruptRecord)
	}
	var layout recordLayout
	if err := bin.NewBorshDecoder(data[8:]).Decode(&layout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &Record{
		Seed:       seed,
		Admin:      solana.PublicKey(layout.Admin),
		TotalUnits: layout.TotalTokens,
		UnitsSold:  layout.TokensSold,
	}, nil
}
