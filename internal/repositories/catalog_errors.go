package repositories

import (
	"errors"
	"fmt"

	domain "github.com/storefront/api/internal/domain"
)

// ErrInvalidQuantity is returned by stock primitives for a line with fewer than one unit.
var ErrInvalidQuantity = errors.New("order line quantity must be positive")

// CheckLineQuantities rejects lines that would move stock the wrong way.
func CheckLineQuantities(op string, lines []domain.OrderLine) error {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%s: product %s: %w (got %d)", op, line.ProductID, ErrInvalidQuantity, line.Quantity)
		}
	}
	return nil
}

// StockError reports the first order line that failed a stock primitive.
type StockError struct {
	Op        string
	ProductID string
	Requested int
	Available int
	// Missing is set when the product does not exist at all.
	Missing bool
}

var _ RepositoryError = (*StockError)(nil)

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	var msg string
	if e.Missing {
		msg = fmt.Sprintf("product %s not found", e.ProductID)
	} else {
		msg = fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// IsNotFound reports whether the referenced product is missing.
func (e *StockError) IsNotFound() bool { return e != nil && e.Missing }

// IsConflict reports whether stock was insufficient for the line.
func (e *StockError) IsConflict() bool { return e != nil && !e.Missing }

// IsUnavailable always returns false; stock errors are never transient.
func (e *StockError) IsUnavailable() bool { return false }

// TransitionError reports that a conditional order transition found the order outside pending.
type TransitionError struct {
	Op      string
	OrderID string
	Current domain.OrderStatus
	Target  domain.OrderStatus
}

var _ RepositoryError = (*TransitionError)(nil)

// Error implements the error interface.
func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("order %s is %s, cannot transition to %s", e.OrderID, e.Current, e.Target)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// IsNotFound always returns false.
func (e *TransitionError) IsNotFound() bool { return false }

// IsConflict always returns true.
func (e *TransitionError) IsConflict() bool { return e != nil }

// IsUnavailable always returns false.
func (e *TransitionError) IsUnavailable() bool { return false }
