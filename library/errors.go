package library

import (
	"errors"
	"strings"
)

// Kind classifies why a command was rejected. None of them is fatal.
type Kind int

const (
	KindParameter Kind = iota + 1
	KindStateConflict
	KindResourceExhausted
	KindNotFound
	KindHistoryEmpty
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindParameter:
		return "parameter"
	case KindStateConflict:
		return "state-conflict"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindNotFound:
		return "not-found"
	case KindHistoryEmpty:
		return "history-empty"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Error is a business rejection carrying the code reported on the wire.
type Error struct {
	Kind    Kind
	Code    string
	Details []string

	base *Error
}

func newError(kind Kind, code string) *Error { return &Error{Kind: kind, Code: code} }

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Code
	}
	return e.Code + ": " + strings.Join(e.Details, ",")
}

// Is matches the sentinel an error was derived from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.base != nil && e.base == t)
}

// With returns a copy of the sentinel carrying details.
func (e *Error) With(details ...string) *Error {
	base := e
	if e.base != nil {
		base = e.base
	}
	return &Error{Kind: e.Kind, Code: e.Code, Details: details, base: base}
}

// wireFields renders the error as response fields.
func (e *Error) wireFields() []string { return append([]string{e.Code}, e.Details...) }

var (
	ErrMissingParameters = newError(KindParameter, "missing-parameters")
	ErrIllegalCommand    = newError(KindParameter, "illegal-command")
	ErrInvalidAmount     = newError(KindParameter, "invalid-amount")
	ErrInvalidSortOrder  = newError(KindParameter, "invalid-sort-order")
	ErrInvalidDays       = newError(KindParameter, "invalid-number-of-days")
	ErrInvalidHours      = newError(KindParameter, "invalid-number-of-hours")
	ErrInvalidQuantity   = newError(KindParameter, "invalid-quantity")
	ErrInvalidRole       = newError(KindParameter, "invalid-role")

	ErrDuplicateVisitor  = newError(KindStateConflict, "duplicate")
	ErrAlreadyVisiting   = newError(KindStateConflict, "already-visiting")
	ErrNotVisiting       = newError(KindStateConflict, "not-visiting")
	ErrClosedLibrary     = newError(KindStateConflict, "closed-library")
	ErrDuplicateLoan     = newError(KindStateConflict, "duplicate")
	ErrDuplicateUsername = newError(KindStateConflict, "duplicate-username")
	ErrDuplicateAccount  = newError(KindStateConflict, "duplicate-visitor")
	ErrVisitorInUse      = newError(KindStateConflict, "visitor-in-use")
	ErrStaleHistory      = newError(KindStateConflict, "stale-history")

	ErrBookLimitExceeded = newError(KindResourceExhausted, "book-limit-exceeded")
	ErrOutstandingFine   = newError(KindResourceExhausted, "outstanding-fine")
	ErrNoCopies          = newError(KindResourceExhausted, "book-no-longer-available")

	ErrInvalidVisitorID = newError(KindNotFound, "invalid-visitor-id")
	ErrInvalidBookID    = newError(KindNotFound, "invalid-book-id")
	ErrInvalidClientID  = newError(KindNotFound, "invalid-client-id")

	ErrCannotUndo = newError(KindHistoryEmpty, "cannot-undo")
	ErrCannotRedo = newError(KindHistoryEmpty, "cannot-redo")

	ErrNotAuthorized  = newError(KindUnauthorized, "not-authorized")
	ErrBadCredentials = newError(KindUnauthorized, "bad-username-or-password")
)

// KindOf returns the kind of a business error, or 0 for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
