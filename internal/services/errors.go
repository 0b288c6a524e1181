package services

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a transition on a non-pending order or a duplicate write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInconsistent indicates a conditional write that should have applied found no document.
	ErrOrderInconsistent = errors.New("order: inconsistent state")

	// ErrCatalogInvalidInput signals invalid product data or filters.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogProductNotFound indicates the product could not be located.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogInsufficientStock indicates a line requested more than the product has.
	ErrCatalogInsufficientStock = errors.New("catalog: insufficient stock")
	// ErrCatalogConflict indicates a duplicate product write.
	ErrCatalogConflict = errors.New("catalog: conflict")

	// ErrPricingProductMissing indicates an order line references a product the catalog no longer has.
	ErrPricingProductMissing = errors.New("pricing: product missing")

	// ErrUnauthenticated indicates no principal accompanied the request.
	ErrUnauthenticated = errors.New("access: unauthenticated")
	// ErrForbidden indicates the principal lacks the role or ownership required.
	ErrForbidden = errors.New("access: forbidden")

	// ErrUnavailable indicates a backing store could not be reached.
	ErrUnavailable = errors.New("storage unavailable")
)

// OrderStateError reports a transition attempted on an order that already left pending.
type OrderStateError struct {
	OrderID string
	Current OrderStatus
	Target  OrderStatus
}

func (e *OrderStateError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: order %s is %s, cannot move to %s", ErrOrderConflict, e.OrderID, e.Current, e.Target)
}

func (e *OrderStateError) Unwrap() error { return ErrOrderConflict }

// InsufficientStockError names the first line whose product could not cover the requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: product %s has %d, requested %d", ErrCatalogInsufficientStock, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrCatalogInsufficientStock }

// ProductReferenceError names an order line whose product does not exist.
type ProductReferenceError struct {
	ProductID string
}

func (e *ProductReferenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", ErrCatalogProductNotFound, e.ProductID)
}

func (e *ProductReferenceError) Unwrap() error { return ErrCatalogProductNotFound }
