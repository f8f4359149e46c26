// Package failure defines the error kinds shared by the prediction pipeline.
//
// Every error that leaves the pipeline carries exactly one Kind. Callers test
// for a kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, failure.ErrSchema) { ... }
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindIO            Kind = "io"
	KindEmptyInput    Kind = "empty_input"
	KindEncoding      Kind = "encoding"
	KindSchema        Kind = "schema"
	KindValue         Kind = "value"
	KindConfiguration Kind = "configuration"
)

var (
	ErrIO            = &Error{Kind: KindIO}
	ErrEmptyInput    = &Error{Kind: KindEmptyInput}
	ErrEncoding      = &Error{Kind: KindEncoding}
	ErrSchema        = &Error{Kind: KindSchema}
	ErrValue         = &Error{Kind: KindValue}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

type Error struct {
	Kind    Kind
	Op      string
	Missing []string
	Err     error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// MissingColumns builds a schema error naming every absent column.
func MissingColumns(op string, missing []string) *Error {
	return &Error{
		Kind:    KindSchema,
		Op:      op,
		Missing: missing,
		Err:     fmt.Errorf("missing required columns: %s", strings.Join(missing, ", ")),
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind. A sentinel has no
// Op and no cause, so two concrete errors never match each other by kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
