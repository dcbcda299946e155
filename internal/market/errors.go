package market

import (
	"errors"
	"fmt"
)

// ErrOperationPending guards against duplicate submissions: a second buy or
// transfer issued while one is submitting or reconciling is rejected before
// any network call.
var ErrOperationPending = errors.New("another transaction is still in progress")

// ValidationError is an advisory client-side check that failed before
// submission. The server remains authoritative; these exist for immediate
// feedback only.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StaleViewError means the ledger accepted the mutation but the follow-up
// cache refresh failed. It is kept distinct from a mutation failure so the
// user is never told a purchase failed when it may have succeeded.
type StaleViewError struct {
	Err error
}

func (e *StaleViewError) Error() string {
	return fmt.Sprintf("transaction applied, but the local view may be stale: %v", e.Err)
}

func (e *StaleViewError) Unwrap() error { return e.Err }
