package domain

import (
	"errors"
	"fmt"

	"github.com/pendergraft/matchstore/internal/storage"
)

// Common errors returned by the verification service.
var (
	ErrNotFound = errors.New("contract not found")
	// ErrUnavailable is returned for reads the read backend cannot serve.
	ErrUnavailable = errors.New("operation not available on the read backend")
)

// PersistenceError reports a failed backend write.
type PersistenceError = storage.PersistenceError

// ValidationError rejects a verification before any backend is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a stored match outranks the candidate.
type ConflictError struct {
	ChainID   string
	Address   string
	Existing  MatchPair
	Candidate MatchPair
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"contract %s on chain %s is already verified with a better match (runtime: %s, creation: %s) than the submitted one (runtime: %s, creation: %s)",
		e.Address, e.ChainID,
		e.Existing.RuntimeMatch, e.Existing.CreationMatch,
		e.Candidate.RuntimeMatch, e.Candidate.CreationMatch,
	)
}
