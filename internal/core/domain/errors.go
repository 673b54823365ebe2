package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConflict signals that the transaction's isolation mechanism detected a
	// concurrent decrement race. Safe to retry with the same inputs.
	ErrConflict = errors.New("transaction conflict")
)

// InsufficientStockError names the product and the quantity actually
// available, so the client message can carry both.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
