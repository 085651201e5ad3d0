// Package errs carries the failure taxonomy across component boundaries.
// Raw storage errors never leave a component: they are translated here first.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	InvalidInput     Kind = "invalid_input"
	NotFound         Kind = "not_found"
	Unauthorized     Kind = "unauthorized"
	Conflict         Kind = "conflict"
	StoreUnavailable Kind = "store_unavailable"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the taxonomy kind of err. Errors that crossed a weaver RPC
// boundary arrive flattened to their message string, so the kind prefix in
// Error() is parsed back as a fallback.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	msg := err.Error()
	for _, kind := range []Kind{InvalidInput, NotFound, Unauthorized, Conflict, StoreUnavailable} {
		if strings.Contains(msg, string(kind)+": ") {
			return kind
		}
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
