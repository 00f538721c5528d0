package escrow

import (
	"errors"
	"fmt"

	"trustescrow/native/access"
	"trustescrow/native/reputation"
)

var (
	// ErrUnauthorized is returned when the caller is not the party the
	// operation requires.
	ErrUnauthorized = access.ErrUnauthorized
	// ErrInvalidState is returned when the transaction's status does not
	// permit the requested operation.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrTransactionNotFound marks operations on an unknown identifier. It
	// matches ErrInvalidState under errors.Is.
	ErrTransactionNotFound = fmt.Errorf("%w: transaction not found", ErrInvalidState)
	// ErrTransactionExists is returned when a record with the same identifier
	// is already stored.
	ErrTransactionExists = fmt.Errorf("%w: transaction already exists", ErrInvalidState)
	// ErrEscrowNotElapsed is returned by withdrawals attempted before the
	// escrow period ended.
	ErrEscrowNotElapsed = errors.New("escrow: escrow period not elapsed")
	// ErrEscrowElapsed is returned by disputes raised after the escrow period
	// ended.
	ErrEscrowElapsed = errors.New("escrow: escrow period elapsed")
	// ErrTransferFailed wraps a failure reported by the custodian.
	ErrTransferFailed = errors.New("escrow: value transfer failed")
	// ErrArithmeticFault is returned when scoring overflows or divides by
	// zero.
	ErrArithmeticFault = reputation.ErrArithmeticFault
	// ErrInvalidAmount marks nil, negative or zero deposit amounts.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidAddress marks zero buyer or merchant accounts.
	ErrInvalidAddress = errors.New("escrow: address required")
	// ErrInvalidSource marks malformed value source identifiers.
	ErrInvalidSource = errors.New("escrow: invalid value source")

	errNilState     = errors.New("escrow engine: state not configured")
	errNilCustodian = errors.New("escrow engine: custodian not configured")
	errNilPolicy    = errors.New("escrow engine: access policy not configured")
)

// Error codes exposed to API clients.
const (
	CodeNotYours      = "not_yours"
	CodeTooEarly      = "too_early"
	CodeWindowClosed  = "window_closed"
	CodeInvalidState  = "invalid_state"
	CodeNotFound      = "not_found"
	CodePaymentFailed = "payment_failed"
	CodeInvalidParams = "invalid_params"
	CodeInternal      = "internal"
)

// ErrorCode maps an engine error to the stable reason code reported to
// callers. A nil error maps to "ok".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return CodeNotYours
	case errors.Is(err, ErrEscrowNotElapsed):
		return CodeTooEarly
	case errors.Is(err, ErrEscrowElapsed):
		return CodeWindowClosed
	case errors.Is(err, ErrTransactionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrTransferFailed):
		return CodePaymentFailed
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidSource):
		return CodeInvalidParams
	default:
		return CodeInternal
	}
}
