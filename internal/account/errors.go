package account

import (
	"fmt"

	"amber-im/engine/internal/keychain"
)

// StoreError wraps a secure-storage status code. Credential-persistence
// failures are always surfaced, never swallowed or retried implicitly.
type StoreError struct {
	Status  keychain.Status
	Message string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("account store: %s (status %d: %s)", e.Message, e.Status, e.Status)
}

func newStoreError(op string, status keychain.Status) *StoreError {
	return &StoreError{Status: status, Message: op}
}

// ValidationError rejects malformed input to a public operation before
// any side effect takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
