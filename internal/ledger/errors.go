package ledger

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated means a call that requires a bound session was made with
// none. It is raised client-side before any request is sent.
var ErrUnauthenticated = errors.New("not authenticated")

// RejectionError is an explicit refusal by the remote ledger: oversubscribed
// tokens, insufficient balance, malformed recipient. The reason is surfaced
// verbatim and is never retried automatically.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

// TransportError is a connectivity failure reaching the remote service, kept
// distinct from a ledger rejection: nothing is known about server-side state.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
