package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the pipeline can surface.
type Kind string

const (
	KindCredential         Kind = "CredentialError"
	KindConfigNotFound     Kind = "ConfigNotFound"
	KindSourceNotFound     Kind = "SourceNotFound"
	KindStorageUnreachable Kind = "StorageUnreachable"
	KindUnsupportedFormat  Kind = "UnsupportedFormat"
	KindCountMismatch      Kind = "CountMismatch"
	KindInvalidSchema      Kind = "InvalidSchema"
)

// Sentinels for errors.Is matching. Two *Error values match when their kinds are equal.
var (
	ErrCredential         = &Error{Kind: KindCredential}
	ErrConfigNotFound     = &Error{Kind: KindConfigNotFound}
	ErrSourceNotFound     = &Error{Kind: KindSourceNotFound}
	ErrStorageUnreachable = &Error{Kind: KindStorageUnreachable}
	ErrUnsupportedFormat  = &Error{Kind: KindUnsupportedFormat}
	ErrCountMismatch      = &Error{Kind: KindCountMismatch}
	ErrInvalidSchema      = &Error{Kind: KindInvalidSchema}
)

// Error is the typed failure returned by every pipeline component.
type Error struct {
	Kind    Kind
	Message string
	// Delta is |produced - expected| for CountMismatch, zero otherwise.
	Delta int64
	Cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a typed error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed error around a lower-level cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CountMismatchError reports a row count disagreement.
func CountMismatchError(produced, expected int64) *Error {
	delta := produced - expected
	if delta < 0 {
		delta = -delta
	}
	return &Error{
		Kind:    KindCountMismatch,
		Message: fmt.Sprintf("produced %d rows, expected %d (delta %d)", produced, expected, delta),
		Delta:   delta,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
