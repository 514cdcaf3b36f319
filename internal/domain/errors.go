package domain

import "errors"

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
)

// Recoverable venue errors: the caller retries with different parameters or
// waits for the precondition to become true.
var (
	ErrInsufficientLiquidity   = errors.New("insufficient liquidity")
	ErrSlippageExceeded        = errors.New("slippage limit exceeded")
	ErrInvalidBucketTransition = errors.New("invalid bucket transition")
	ErrProposalStillActive     = errors.New("proposal still active")
	ErrNotInWithdrawMode       = errors.New("position not in withdraw mode")
	ErrNoOpenProposal          = errors.New("no open proposal")
	ErrProposalNotResolved     = errors.New("proposal not resolved")
	ErrInvalidOutcome          = errors.New("invalid outcome index")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInsufficientBalance     = errors.New("insufficient conditional balance")
	ErrIncompleteSet           = errors.New("incomplete set")
	ErrMarketHalted            = errors.New("market halted")
)

// ErrNoProfitableCycle is benign: arbitrage found nothing to do.
var ErrNoProfitableCycle = errors.New("no profitable arbitrage cycle")

// Fatal errors: a reserve or supply invariant has been breached. The whole
// operation must abort with no partial state; these are never clamped away.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrBucketConservation = errors.New("bucket conservation violated")
)
