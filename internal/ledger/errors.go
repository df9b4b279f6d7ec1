package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateOrder is returned when a conversion already exists for an
	// order id. Callers treat it as success: the existing conversion is
	// returned alongside it, so webhook redelivery is safe.
	ErrDuplicateOrder = errors.New("conversion already recorded for order")

	// ErrNotEligible is returned when an affiliate cannot receive a payout
	// (inactive, flagged, or unresolved fraud flags).
	ErrNotEligible = errors.New("affiliate is not eligible for payout")

	// ErrNoEligibleCommissions is returned when a payout run finds no
	// cleared, unpaid conversions for the affiliate.
	ErrNoEligibleCommissions = errors.New("no eligible commissions to pay out")

	// ErrBelowMinimumPayout is returned when the eligible total is under the
	// configured payout threshold.
	ErrBelowMinimumPayout = errors.New("eligible commissions below minimum payout amount")

	// ErrDisbursementTimeout marks an unknown disbursement outcome. The
	// payout stays in processing until reconciliation resolves it; retrying
	// immediately risks a double payment.
	ErrDisbursementTimeout = errors.New("disbursement request timed out with unknown outcome")

	// ErrFlagAlreadyResolved is returned when resolving a fraud flag twice.
	// Resolution is terminal per flag; a new violation gets a new flag.
	ErrFlagAlreadyResolved = errors.New("fraud flag is already resolved")
)

// InvalidTransitionError reports an attempted ledger transition that is not
// in the transition table. It usually indicates a lost race; admin tooling
// surfaces it as a conflict.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid ledger transition from %s to %s", e.From, e.To)
}

// ValidationError reports malformed payout-method details. It blocks payout
// only and is surfaced to the affiliate/admin UI.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}
