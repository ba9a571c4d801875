package exchange

import "errors"

// Error taxonomy. Validation, liquidity and authorization failures abort the
// whole operation with zero side effects. Funding degradation is never an
// error: it is recovered inside the matching loop and surfaced as a
// BorrowFailed event. ErrInvariant marks a bug, not a user mistake; it halts
// the current operation without corrupting book state.
var (
	ErrValidation            = errors.New("invalid order parameters")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrWouldCross            = errors.New("post-only order would cross")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketPaused          = errors.New("market paused")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvariant             = errors.New("internal invariant violation")
)
