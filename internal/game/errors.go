package game

import "errors"

// Validation errors: reported synchronously, nothing mutated.
var (
	ErrInvalidAmount     = errors.New("bet amount must be positive")
	ErrInvalidMultiplier = errors.New("multiplier must be at least 1.00")
	ErrUnknownLedger     = errors.New("unknown ledger pool")
	ErrMissingUser       = errors.New("user id is required")
)

// Not-found errors.
var (
	ErrRoundNotFound = errors.New("round not found")
	ErrBetNotFound   = errors.New("bet not found")
)

// State-conflict errors: nothing mutated, safe to retry after
// re-reading state.
var (
	ErrRoundNotOpen      = errors.New("round is not accepting bets")
	ErrRoundNotActive    = errors.New("round is not active")
	ErrRoundFinished     = errors.New("round already finished")
	ErrBetSettled        = errors.New("bet already settled")
	ErrNotBetOwner       = errors.New("bet belongs to another user")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCashoutTooLate    = errors.New("round crashed below requested multiplier")
)

// IsValidation reports whether err is a caller mistake rather than a
// state conflict or an internal failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidMultiplier) ||
		errors.Is(err, ErrUnknownLedger) ||
		errors.Is(err, ErrMissingUser)
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoundNotOpen) ||
		errors.Is(err, ErrRoundNotActive) ||
		errors.Is(err, ErrRoundFinished) ||
		errors.Is(err, ErrBetSettled) ||
		errors.Is(err, ErrNotBetOwner) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCashoutTooLate)
}

// IsNotFound reports whether err is a missing round or bet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoundNotFound) || errors.Is(err, ErrBetNotFound)
}
