package store

import "errors"

// Engine error kinds. Every validation failure is detected before any
// mutation, so a caller that receives one of these can trust nothing changed.
// Only ErrUnavailable (storage failure) is safe to blindly retry.
var (
	ErrInvalidTransition     = errors.New("invalid transaction state transition")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrAssetUnavailable      = errors.New("asset not available")
	ErrAssetTagCountMismatch = errors.New("asset tag count does not match requested quantity")
	ErrAssetAlreadyResolved  = errors.New("asset already returned or written off")
	ErrOverReturn            = errors.New("returned plus damaged exceeds issued quantity")
	ErrNonReturnable         = errors.New("transaction is not returnable")
	ErrItemInactive          = errors.New("item is inactive")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidAssetState     = errors.New("invalid asset state")
	ErrInvariantViolation    = errors.New("inventory invariant violation")
	ErrInvalidAction         = errors.New("invalid action")
	ErrNotFound              = errors.New("record not found")
	ErrDuplicateSKU          = errors.New("sku already exists")
	ErrUnavailable           = errors.New("storage unavailable")
)
