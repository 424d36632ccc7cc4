// Package errors holds the sentinel errors shared by the index, the query
// engine and the services, and maps them to HTTP statuses.
package errors

import (
	"errors"
	"net/http"
)

// Index errors. Corruption and I/O failures are fatal for the operation that
// hit them and are never reported as "no results".
var (
	ErrCorruptPostings  = errors.New("corrupt posting list")
	ErrPostingsTooLarge = errors.New("posting file exceeds 32-bit offsets")
	ErrIndexIO          = errors.New("index i/o failure")
)

// Request errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("operation timed out")
	ErrInternal         = errors.New("internal error")
)

var statuses = []struct {
	err    error
	status int
}{
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrDocumentNotFound, http.StatusNotFound},
	{ErrTimeout, http.StatusServiceUnavailable},
}

// HTTPStatusCode maps err to the status the search API responds with.
// Anything unrecognised, corruption included, is a 500.
func HTTPStatusCode(err error) int {
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
