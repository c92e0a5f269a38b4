// Package stakeerr defines the error taxonomy shared by the ledger packages.
//
// Every rejection carries a Kind and a stable Code. Callers branch with
// errors.Is against the exported sentinels or with KindOf when only the
// class of failure matters.
package stakeerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: bad input, unknown lock duration, caller not allowed,
	// position missing or not owned. Retry with corrected input.
	KindValidation
	// KindSolvency: the pool cannot cover the reservation or payout.
	KindSolvency
	// KindState: the position or coordinator is in the wrong state.
	KindState
	// KindTransfer: the value transfer failed and state was rolled back.
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSolvency:
		return "solvency"
	case KindState:
		return "state"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches on Code so that copies and sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidAmount         = newErr(KindValidation, "INVALID_AMOUNT", "invalid amount")
	ErrInvalidLockDuration   = newErr(KindValidation, "INVALID_LOCK_DURATION", "invalid lock duration")
	ErrUnknownLockDuration   = newErr(KindValidation, "UNKNOWN_LOCK_DURATION", "unknown lock duration")
	ErrInvalidRate           = newErr(KindValidation, "INVALID_RATE", "invalid annual rate")
	ErrDuplicateLockDuration = newErr(KindValidation, "DUPLICATE_LOCK_DURATION", "lock duration already active")
	ErrUnauthorized          = newErr(KindValidation, "UNAUTHORIZED", "caller not authorized")
	ErrBlacklisted           = newErr(KindValidation, "BLACKLISTED", "account is blacklisted")
	ErrNotWhitelisted        = newErr(KindValidation, "NOT_WHITELISTED", "account is not whitelisted")
	ErrPaused                = newErr(KindValidation, "PAUSED", "staking is paused")
	ErrStakingWindowClosed   = newErr(KindValidation, "STAKING_WINDOW_CLOSED", "staking window is closed")
	ErrCapacityExceeded      = newErr(KindValidation, "CAPACITY_EXCEEDED", "staking capacity exceeded")
	ErrPositionNotFound      = newErr(KindValidation, "POSITION_NOT_FOUND", "position not found")
	ErrNotOwner              = newErr(KindValidation, "NOT_OWNER", "position not owned by caller")
	ErrEmergencyMode         = newErr(KindValidation, "EMERGENCY_MODE", "operation disabled in emergency mode")
	ErrNotEmergencyMode      = newErr(KindValidation, "NOT_EMERGENCY_MODE", "emergency mode is not active")

	ErrInsufficientPool   = newErr(KindSolvency, "INSUFFICIENT_POOL", "insufficient reward pool")
	ErrInsufficientExcess = newErr(KindSolvency, "INSUFFICIENT_EXCESS", "amount exceeds unreserved pool balance")

	ErrAlreadyClosed      = newErr(KindState, "ALREADY_CLOSED", "position already closed")
	ErrStillLocked        = newErr(KindState, "STILL_LOCKED", "position still locked")
	ErrReentrantCall      = newErr(KindState, "REENTRANT_CALL", "reentrant call")
	ErrNoReward           = newErr(KindState, "NO_REWARD", "no reward to claim")
	ErrReserveUnderflow   = newErr(KindState, "RESERVE_UNDERFLOW", "reserve underflow")
	ErrArithmeticOverflow = newErr(KindState, "ARITHMETIC_OVERFLOW", "arithmetic overflow")

	ErrTransferFailed = newErr(KindTransfer, "TRANSFER_FAILED", "transfer failed")
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Wrap annotates a sentinel with detail while keeping errors.Is working.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
