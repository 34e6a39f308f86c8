package relay

import (
	"errors"
	"fmt"

	"github.com/h1v3-io/relay/internal/ticket"
)

// Kind classifies a relay failure so callers can pick the user-visible outcome.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNotFound
	KindDuplicateKey
	KindTransport
	KindValidation
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindTransport:
		return "transport"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

var (
	// ErrTicketClosed is returned when a relay targets a closed ticket.
	ErrTicketClosed = errors.New("ticket is closed")
	// ErrPartialDelivery marks a responder reply whose header reached the
	// requester channel but whose attached content did not.
	ErrPartialDelivery = errors.New("partial delivery")
)

// Error is a classified failure from a store or transport call.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of err, looking through wrapping.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ticket.ErrDuplicateKey):
		return KindDuplicateKey
	}
	return KindUnknown
}

// IsNotFound is shorthand for KindOf(err) == KindNotFound.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func storeError(op string, err error) error {
	kind := KindStorage
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, ticket.ErrDuplicateKey):
		kind = KindDuplicateKey
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func transportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func validationError(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}
