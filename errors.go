package agentchat

import (
	"errors"
	"fmt"
)

// Sentinel errors. Operations wrap them with context; match with errors.Is.
var (
	// Contract rejections. Every one leaves state and balances unchanged.
	ErrUnauthorized          = errors.New("agentchat: unauthorized caller")
	ErrInvalidTarget         = errors.New("agentchat: target is the zero address")
	ErrTimelockNotElapsed    = errors.New("agentchat: timelock period not elapsed")
	ErrIncorrectPayment      = errors.New("agentchat: payment does not equal buy limit price")
	ErrLengthMismatch        = errors.New("agentchat: users and values lengths differ")
	ErrPaymentForwardFailed  = errors.New("agentchat: payment forwarding to agent failed")
	ErrPaymentReversalFailed = errors.New("agentchat: payment reversal failed")
	ErrLimitOverflow         = errors.New("agentchat: chat limit overflows 256 bits")

	// Lookup errors
	ErrNotFound          = errors.New("agentchat: not found")
	ErrContractNotFound  = errors.New("agentchat: contract not found")
	ErrPurchaseNotFound  = errors.New("agentchat: purchase not found")
	ErrTransferNotFound  = errors.New("agentchat: ownership transfer not found")
	ErrAlreadyExists     = errors.New("agentchat: already exists")
	ErrInvalidInput      = errors.New("agentchat: invalid input")
	ErrStoreClosed       = errors.New("agentchat: store is closed")
	ErrStoreNotReady     = errors.New("agentchat: store not ready")
	ErrTransactionFailed = errors.New("agentchat: transaction failed")
	ErrMigrationFailed   = errors.New("agentchat: migration failed")
)

// ValidationError represents malformed input at a system boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("agentchat: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// revert maps a rejection to the reason string callers of the deployed
// contract have always seen, and to a stable machine-readable code.
type revert struct {
	err    error
	code   string
	reason string
}

var reverts = []revert{
	{ErrUnauthorized, "unauthorized", "You aren't the owner"},
	{ErrInvalidTarget, "invalid_target", "New owner is the zero address"},
	{ErrTimelockNotElapsed, "timelock_not_elapsed", "Timelock period not elapsed"},
	{ErrIncorrectPayment, "incorrect_payment", "Balance is not enough"},
	{ErrLengthMismatch, "length_mismatch", "Array lengths must match"},
	{ErrPaymentForwardFailed, "payment_forward_failed", "Payment forwarding failed"},
	{ErrLimitOverflow, "limit_overflow", "Chat limit overflow"},
}

var codes = []struct {
	err  error
	code string
}{
	{ErrPaymentReversalFailed, "payment_reversal_failed"},
	{ErrContractNotFound, "contract_not_found"},
	{ErrPurchaseNotFound, "purchase_not_found"},
	{ErrTransferNotFound, "transfer_not_found"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrInvalidInput, "invalid_input"},
	{ErrStoreClosed, "store_closed"},
	{ErrStoreNotReady, "store_not_ready"},
	{ErrTransactionFailed, "transaction_failed"},
	{ErrMigrationFailed, "migration_failed"},
}

// IsRevert reports whether err is a contract rejection, as opposed to an
// infrastructure failure.
func IsRevert(err error) bool {
	for _, r := range reverts {
		if errors.Is(err, r.err) {
			return true
		}
	}
	return false
}

// RevertReason returns the human-readable rejection reason for err, or ""
// when err is not a rejection.
func RevertReason(err error) string {
	for _, r := range reverts {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// Code returns a stable snake_case code for err. Unknown errors map to
// "internal" and nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reverts {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrTransferNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
