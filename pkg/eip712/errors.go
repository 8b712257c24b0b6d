package eip712

import (
	"errors"
	"fmt"
)

// Errors returned by the registry, encoder and hasher. Every error produced by
// this package wraps exactly one of them, so callers classify with errors.Is.
var (
	// ErrMalformedInput is returned for bad lengths, out-of-range integers and
	// missing fields.
	ErrMalformedInput = errors.New("malformed input")
	// ErrMissingField is returned when a registered field has no value.
	ErrMissingField = fmt.Errorf("%w: missing field", ErrMalformedInput)
	// ErrMalformedType is returned when a type definition is not canonical.
	ErrMalformedType = fmt.Errorf("%w: malformed type", ErrMalformedInput)

	// ErrTypeConflict is returned when a name is re-registered with different fields.
	ErrTypeConflict = errors.New("type conflict")
	// ErrUnknownType is returned when a referenced struct type is not registered.
	ErrUnknownType = errors.New("unknown type")
	// ErrTypeMismatch is returned when a value tag does not match the declared type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrRegistryCorrupt means a cached type string or hash no longer matches
	// its definition. It is not recoverable.
	ErrRegistryCorrupt = errors.New("registry corrupt")
)
