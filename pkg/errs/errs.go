// Package errs defines the single domain error returned across package
// boundaries. Each error carries a Kind, the operation that failed and the
// underlying cause.
package errs

import (
	"errors"
	"strings"
)

// Kind classifies a failure so callers can decide how to present it.
type Kind uint8

const (
	KindOther Kind = iota
	KindValidation
	KindUnsupportedDocument
	KindNotFound
	KindInvalidState
	KindIOFailure
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindUnsupportedDocument:
		return "unsupported document"
	case KindNotFound:
		return "not found"
	case KindInvalidState:
		return "invalid state"
	case KindIOFailure:
		return "io failure"
	case KindConfiguration:
		return "configuration error"
	default:
		return "error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrUnsupportedDocument = &Error{Kind: KindUnsupportedDocument}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrIOFailure           = &Error{Kind: KindIOFailure}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds a domain error for op. A nil cause is allowed.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is E for errors crossing a package boundary. A cause that already
// carries a kind keeps it; anything else gets kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if k := KindOf(err); k != KindOther {
		kind = k
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a plain message as the cause.
func Errorf(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}
