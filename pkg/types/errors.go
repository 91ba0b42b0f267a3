// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Error kinds shared across the extraction path. Each is terminal for an
// extraction batch; callers classify with errors.Is.
var (
	// ErrInvalidInput rejects a request before the model is called.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelUnavailable means the model server could not be reached,
	// timed out, or answered with a server-side failure status.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrMalformedExtraction means the model answered but its output does
	// not fit the extraction schema.
	ErrMalformedExtraction = errors.New("malformed extraction")

	// ErrPersistence means the store failed mid-batch.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound marks lookups of rows that do not exist.
	ErrNotFound = errors.New("not found")
)
