package market

import "errors"

var (
	// ErrSourceUnavailable means the sold-items source could not be reached,
	// timed out, or answered with something that could not be parsed.
	ErrSourceUnavailable = errors.New("comparable sales source unavailable")
	// ErrInvalidQuery is returned for blank queries before any source call.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrWriteConflict means the catalog rejected a snapshot update.
	ErrWriteConflict = errors.New("catalog write conflict")
	// ErrItemNotFound means the catalog has no item with the requested id.
	ErrItemNotFound = errors.New("catalog item not found")
)
