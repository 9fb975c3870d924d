package registry

import "errors"

var (
	// ErrNotFound signals the remote lookup came back empty. It drives
	// the UNMATCHED transition and is never fatal by itself.
	ErrNotFound = errors.New("resource not found on registry")

	// ErrMalformed signals a remote payload missing an expected field,
	// i.e. a protocol-version mismatch. Fatal.
	ErrMalformed = errors.New("malformed registry payload")

	// ErrKeyAbsent and ErrWrongType qualify ErrMalformed so callers can
	// tell a missing key from a key present with the wrong type.
	ErrKeyAbsent = errors.New("key absent")
	ErrWrongType = errors.New("wrong type")

	// ErrPending signals an asynchronous registration the registry has
	// accepted but not yet approved.
	ErrPending = errors.New("registration request pending approval")

	// ErrTransient signals a network or server failure after the
	// transport-level retries were exhausted. The entity stays unresolved
	// for a later run.
	ErrTransient = errors.New("transient registry failure")
)
