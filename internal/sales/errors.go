package sales

import "errors"

var (
	// ErrOverflow is returned when an amount does not fit in 64 bits.
	ErrOverflow = errors.New("sale: arithmetic overflow")
	// ErrInvalidAdmin is returned when the caller or payee is not the campaign admin.
	ErrInvalidAdmin = errors.New("sale: invalid admin")
	// ErrAlreadyInitialized is returned when a record already exists for the seed.
	ErrAlreadyInitialized = errors.New("sale: already initialized")
	// ErrTransferRejected wraps any failure reported by a transfer port.
	ErrTransferRejected = errors.New("sale: transfer rejected")
	// ErrInsufficientSupply is returned when a purchase exceeds the unsold units.
	ErrInsufficientSupply = errors.New("sale: insufficient supply")
	// ErrInvalidAmount is returned for zero unit amounts.
	ErrInvalidAmount = errors.New("sale: unit amount must be greater than zero")
	// ErrInvalidAccount is returned when the holding account is not the derived one.
	ErrInvalidAccount = errors.New("sale: invalid holding account")
	// ErrStaleRecord is returned when an update does not supply the current record.
	ErrStaleRecord = errors.New("sale: stale record")
	// ErrCorruptRecord is returned when stored bytes cannot be decoded.
	ErrCorruptRecord = errors.New("sale: corrupt record")
)

// ErrorKind classifies errors for callers that do not inspect them directly.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindOverflow           ErrorKind = "overflow"
	KindInvalidAdmin       ErrorKind = "invalid_admin"
	KindAlreadyInitialized ErrorKind = "already_initialized"
	KindTransferRejected   ErrorKind = "transfer_rejected"
	KindInsufficientSupply ErrorKind = "insufficient_supply"
	KindInvalidAmount      ErrorKind = "invalid_amount"
	KindInvalidAccount     ErrorKind = "invalid_account"
	KindNotFound           ErrorKind = "not_found"
	KindInternal           ErrorKind = "internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrOverflow, KindOverflow},
	{ErrInvalidAdmin, KindInvalidAdmin},
	{ErrAlreadyInitialized, KindAlreadyInitialized},
	{ErrTransferRejected, KindTransferRejected},
	{ErrInsufficientSupply, KindInsufficientSupply},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidAccount, KindInvalidAccount},
	{ErrNotFound, KindNotFound},
}

// Kind returns the kind of err. Unknown errors are KindInternal.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
