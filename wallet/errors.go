package wallet

import (
	"fmt"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidIdentity is returned when the anonymous
	// identity asks for a wallet.
	ErrInvalidIdentity = errors.New("anonymous identity is not allowed")

	// ErrWalletNotFound is returned when no wallet is
	// registered for an identity.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance is matched by every
	// InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOracleFailure wraps failures of the chain oracle
	// or the broadcaster.
	ErrOracleFailure = errors.New("chain oracle failure")

	// ErrSigningFailure wraps failures of a signing oracle
	// or the remote partner.
	ErrSigningFailure = errors.New("signing failure")

	// ErrDecodeFailure is returned when a raw bundle
	// cannot be decoded.
	ErrDecodeFailure = errors.New("cannot decode transaction bundle")

	// ErrFeeConvergence is returned when the fee estimate
	// does not settle within the iteration limit.
	ErrFeeConvergence = errors.New("fee estimate did not converge")

	// ErrBundleStage is returned when a signature is applied
	// to a bundle in the wrong stage.
	ErrBundleStage = errors.New("transaction bundle is in the wrong stage")

	// ErrInvalidDestination is returned for a destination
	// address which cannot be decoded for the network.
	ErrInvalidDestination = errors.New("invalid destination address")

	// ErrInvalidAmount is returned for a non-positive
	// send amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNetworkMismatch is returned when a request names a
	// network other than the one the service runs on.
	ErrNetworkMismatch = errors.New("network does not match")
)

// InsufficientBalanceError reports how far the available
// UTXOs fall short of covering amount and fee.
type InsufficientBalanceError struct {
	Available btcutil.Amount
	Amount    btcutil.Amount
	Fee       btcutil.Amount
}

// Shortfall returns the missing value.
func (e *InsufficientBalanceError) Shortfall() btcutil.Amount {
	return e.Amount + e.Fee - e.Available
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d sat, need %d sat, short %d sat (amount %d, fee %d)",
		int64(e.Available), int64(e.Amount+e.Fee), int64(e.Shortfall()), int64(e.Amount), int64(e.Fee))
}

// Is lets errors.Is match ErrInsufficientBalance.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
