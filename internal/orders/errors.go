package orders

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInventoryNotFound = errors.New("inventory record not found")
	ErrPersistence       = errors.New("order persistence failed")
	ErrReservation       = errors.New("stock reservation failed")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderHasItems     = errors.New("order has line items")

	ErrDuplicateOrderNumber = errors.New("order number already used in this store")
)

// ValidationError is a caller input problem. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type InsufficientStockError struct {
	ProductID string
	Product   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available=%d, requested=%d", e.Product, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// LineFailure is one line that could not be mutated.
type LineFailure struct {
	ItemID    string
	ProductID string
	VariantID *string
	Quantity  int
	Err       error
}

func (f LineFailure) Error() string {
	if f.VariantID != nil {
		return fmt.Sprintf("product %s variant %s (qty %d): %v", f.ProductID, *f.VariantID, f.Quantity, f.Err)
	}
	return fmt.Sprintf("product %s (qty %d): %v", f.ProductID, f.Quantity, f.Err)
}

// ReservationError aggregates the failed lines of a reserve or release batch.
type ReservationError struct {
	Action   Action
	Failures []LineFailure
}

func (e *ReservationError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%s failed for %d line(s): %s", e.Action, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *ReservationError) Is(target error) bool { return target == ErrReservation }

// PersistenceError wraps a failed order header or item write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
