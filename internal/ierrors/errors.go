// Package ierrors defines the error kinds used across the IBFS engine and
// the wrapping helpers that keep a single immutable root cause under a
// chain of context, per spec §7.
package ierrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a class of failure. Kinds are compared with errors.Is,
// never by string matching.
type Kind struct {
	name string
}

func (k *Kind) Error() string { return k.name }

// Is lets errors.Is(err, SomeKind) work without SomeKind ever being the
// concrete wrapped error.
func (k *Kind) Is(target error) bool {
	o, ok := target.(*Kind)
	return ok && o == k
}

var (
	KeyRequired          = &Kind{"key required"}
	KeyDerivationFailed  = &Kind{"key derivation failed"}
	RootSerializeFailed  = &Kind{"root block serialize failed"}
	RootDeserializeFailed = &Kind{"root block deserialize failed"}
	MetaSerializeFailed  = &Kind{"meta cluster serialize failed"}
	MetaDeserializeFailed = &Kind{"meta cluster deserialize failed"}
	HeadSerializeFailed  = &Kind{"head block serialize failed"}
	HeadDeserializeFailed = &Kind{"head block deserialize failed"}
	LinkSerializeFailed  = &Kind{"link block serialize failed"}
	LinkDeserializeFailed = &Kind{"link block deserialize failed"}
	DataSerializeFailed  = &Kind{"data block serialize failed"}
	DataDeserializeFailed = &Kind{"data block deserialize failed"}
	IntegrityMismatch    = &Kind{"integrity mismatch"}
	WrongKey             = &Kind{"wrong key"}
	ReadIOFailed         = &Kind{"read io failed"}
	WriteIOFailed        = &Kind{"write io failed"}
	LeaseTimedOut        = &Kind{"lease timed out"}
	ModeIncompatible     = &Kind{"volume mode incompatible"}
	SizeMismatch         = &Kind{"volume size mismatch"}
	FbmOpenFailed        = &Kind{"fbm open failed"}
	FbmCircularReference = &Kind{"fbm circular reference"}
	FbmAppendFailed      = &Kind{"fbm append failed"}
	FbmGrowFailed        = &Kind{"fbm grow failed"}
	FbmTruncOutOfRange   = &Kind{"fbm trunc out of range"}
	FbmShrinkFailed      = &Kind{"fbm shrink failed"}
	AddressExhausted     = &Kind{"address space exhausted"}
)

// New builds a fresh error of the given kind with a formatted message and
// a stack trace. It has no cause: RootCause returns the new error's own
// kind-tagged value, which matches kind under Is. Use Wrap to layer a kind
// over an existing error.
func New(kind *Kind, format string, args ...interface{}) error {
	msg := kind.name
	if format != "" {
		msg = fmt.Sprintf("%s: %s", kind.name, fmt.Sprintf(format, args...))
	}
	return errors.WithStack(&kindError{kind: kind, msg: msg})
}

// Wrap attaches kind and a message to an existing error without discarding
// its cause chain.
func Wrap(cause error, kind *Kind, format string, args ...interface{}) error {
	if cause == nil {
		return New(kind, format, args...)
	}
	msg := kind.name
	if format != "" {
		msg = fmt.Sprintf("%s: %s", kind.name, fmt.Sprintf(format, args...))
	}
	return errors.Wrap(&wrappedKind{kind: kind, cause: cause}, msg)
}

type kindError struct {
	kind *Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.kind
}

type wrappedKind struct {
	kind  *Kind
	cause error
}

func (e *wrappedKind) Error() string { return e.cause.Error() }
func (e *wrappedKind) Unwrap() error { return e.cause }
func (e *wrappedKind) Cause() error  { return e.cause }
func (e *wrappedKind) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.kind
}

// RootCause returns the single immutable innermost cause of err, unwrapping
// both *errors.withStack/withMessage frames and our own wrappedKind frames.
func RootCause(err error) error {
	return errors.Cause(err)
}

// Is reports whether err (or any error it wraps) is of the given kind.
func Is(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}
