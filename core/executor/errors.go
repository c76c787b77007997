package executor

import (
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/pkg/errors"
)

// Errors rejecting a step request. The host storage is left untouched when
// one of them is returned.
var (
	// ErrSnapshotExists is returned when a fresh step is requested for a
	// transaction that already yielded once.
	ErrSnapshotExists = errors.New("transaction already has a snapshot")

	// ErrNoSnapshot is returned when a continuation is requested for a
	// transaction that never yielded, or whose snapshot was consumed.
	ErrNoSnapshot = errors.New("no snapshot for transaction")

	// ErrMarkerMismatch is returned when the continuation marker of a request
	// does not match the stored snapshot.
	ErrMarkerMismatch = errors.New("snapshot marker mismatch")

	// ErrConcurrentStep is returned when the transaction is already being
	// stepped by this process.
	ErrConcurrentStep = errors.New("transaction is already being stepped")

	// ErrStateChanged is reported when an account read before a yield changed
	// before the continuation. It fails the transaction as a whole.
	ErrStateChanged = state.ErrStateChanged
)

// Transaction validation errors, as in go-ethereum's core/error.go.
var (
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrNonceMax          = errors.New("nonce has max value")
	ErrGasLimitReached   = errors.New("gas limit reached")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrGasUintOverflow   = errors.New("gas uint64 overflow")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrMissingTx         = errors.New("missing transaction")
)

// ErrInvalidChainID is returned for replay protected transactions signed for
// another chain.
var ErrInvalidChainID = errors.New("invalid chain id for signer")
