package storage

import (
	"errors"
	"fmt"
)

// Common storage errors
var (
	ErrNotFound            = errors.New("not found")
	ErrUnsupported         = errors.New("operation not supported by backend")
	ErrInvalidVerification = errors.New("invalid verification")
	// ErrPromotionRefused is returned when the conditional match upsert
	// finds a better match already stored.
	ErrPromotionRefused = errors.New("stored match outranks candidate")
)

// PersistenceError reports a failed write on one backend.
type PersistenceError struct {
	Backend BackendID
	ChainID int64
	Address string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: storing verification of %s on chain %d: %v", e.Backend, e.Address, e.ChainID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(backend BackendID, v *Verification, err error) error {
	return &PersistenceError{
		Backend: backend,
		ChainID: v.ChainID,
		Address: v.Address.Hex(),
		Err:     err,
	}
}
