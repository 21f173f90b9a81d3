package sales

import "github.com/gagliardetto/solana-go"

// Record is the persistent state of one sale campaign.
type Record struct {
	Seed       solana.PublicKey `json:"seed"`
	Admin      solana.PublicKey `json:"admin"`
	TotalUnits uint64           `json:"total_units"`
	UnitsSold  uint64           `json:"units_sold"`
}

// Remaining returns the whole units still available for purchase.
func (r *Record) Remaining() uint64 {
	if r.UnitsSold >= r.TotalUnits {
		return 0
	}
	return r.TotalUnits - r.UnitsSold
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// InitializeRequest creates a campaign and deposits its first units.
type InitializeRequest struct {
	Admin   solana.PublicKey
	Units   uint64
	Holding solana.PublicKey // zero selects the derived holding account
	Source  solana.PublicKey
}

// TopUpRequest deposits additional units into an existing campaign.
type TopUpRequest struct {
	Seed    solana.PublicKey
	Admin   solana.PublicKey
	Units   uint64
	Holding solana.PublicKey
	Source  solana.PublicKey
}

// PurchaseRequest buys units from a campaign.
type PurchaseRequest struct {
	Seed    solana.PublicKey
	Buyer   solana.PublicKey
	Payee   solana.PublicKey
	Units   uint64
	Holding solana.PublicKey
	// BuyerTokenAccount receives the units. Zero selects the buyer's
	// associated token account for the sale mint.
	BuyerTokenAccount solana.PublicKey
}
