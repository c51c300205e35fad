package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrIdempotencyConflict     = errors.New("a top-up with this idempotency key is already in progress")
	ErrIdempotencyMismatch     = errors.New("idempotency key was already used for a different top-up")
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrPollTimeout             = errors.New("payment window expired")
	ErrNotTerminal             = errors.New("invoice status is not terminal")
	ErrDuplicateReconciliation = errors.New("invoice already reconciled")
)

// StorageError means the authoritative balance or ledger could not be read or written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
