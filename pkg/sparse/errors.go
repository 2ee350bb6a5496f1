package sparse

import (
	"errors"
	"fmt"
)

// Common errors returned by collections and items.
var (
	// ErrConfiguration is returned when a collection is built without a usable
	// page callback or with invalid settings.
	ErrConfiguration = errors.New("invalid collection configuration")

	// ErrInvalidArgument is returned for arguments the collection cannot use,
	// such as a filter that cannot be serialized.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedOperation is returned by Filter. Only FilterBy is supported.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrOutOfRange is returned by Load for negative indices or indices past
	// a known length.
	ErrOutOfRange = errors.New("index out of range")

	// ErrFetchDisabled is returned by Load for an item without content while
	// fetching is disabled.
	ErrFetchDisabled = errors.New("fetching disabled")

	// ErrExpired settles a pending item fetch whose page bookkeeping was
	// dropped by Expire or FilterBy.
	ErrExpired = errors.New("fetch expired")

	// ErrMissingRecord settles items of a successful page that received no
	// record at their position.
	ErrMissingRecord = errors.New("page returned no record for index")

	// ErrMalformedTotal describes a page total that is negative. The
	// previous length is kept.
	ErrMalformedTotal = errors.New("malformed page total")
)

// FetchError wraps a page callback failure with the range it was fetching.
// Every item armed by that page is rejected with it.
type FetchError struct {
	Range Range
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d (start %d, length %d): %v",
		e.Range.Page, e.Range.Start, e.Range.Length, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
