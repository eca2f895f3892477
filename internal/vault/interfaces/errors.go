package interfaces

import (
	"errors"
	"fmt"
)

// Sentinel errors for the vault subsystem. Callers match with errors.Is; the
// HTTP boundary translates these to stable, non-leaking responses.
var (
	ErrUnsupportedProofType = errors.New("unsupported proof type")
	ErrInvalidKeyFormat     = errors.New("invalid private key format")
	ErrAddressDerivation    = errors.New("address derivation failed")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrUnknownKeyVersion    = errors.New("unknown encryption key version")
	ErrInvalidAccessKey     = errors.New("invalid access key")
	ErrAccessExpired        = errors.New("access key expired")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrRecordNotFound       = errors.New("vault record not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotSessionOwner      = errors.New("session belongs to another user")
	ErrProofPathReserved    = errors.New("proof path not implemented")
)

// ValidationError reports a malformed or missing submission field. It is
// raised before any side effect occurs and is always recoverable client-side.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a field-level validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
