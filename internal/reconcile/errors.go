package reconcile

import "errors"

var (
	// ErrMismatch signals that the remote record a previously bound id
	// points at no longer matches the local definition. This is operator
	// actionable configuration drift and is never silently repaired by
	// re-registering.
	ErrMismatch = errors.New("remote record does not match local definition")

	// ErrUnmatched signals that no remote record matches and
	// auto-registration is disabled; the entity must be reconciled
	// manually.
	ErrUnmatched = errors.New("no matching remote record found")
)
