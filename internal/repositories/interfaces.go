package repositories

import (
	"context"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository owns product records and the stock primitives used by the order lifecycle.
type CatalogRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	// Update applies patch atomically to an existing product and returns the result. Fields absent from
	// the patch, stock and sales counters in particular, keep their concurrently written values.
	Update(ctx context.Context, productID string, patch ProductPatch, now time.Time) (domain.Product, error)
	Delete(ctx context.Context, productID string) error
	Get(ctx context.Context, productID string) (domain.Product, error)
	// GetMany resolves the supplied ids. Unknown ids are omitted from the result.
	GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	ListByStaff(ctx context.Context, staffID string) ([]domain.Product, error)

	// CheckStock validates every line against current stock without mutating anything. The first
	// offending line is reported as a *StockError.
	CheckStock(ctx context.Context, lines []domain.OrderLine) error
	// CheckAndDecrementStock re-verifies and decrements each line with an atomic per-product
	// read-modify-write and returns the post-update products in line order. A failure on a later line
	// does not restore earlier lines.
	CheckAndDecrementStock(ctx context.Context, lines []domain.OrderLine, now time.Time) ([]domain.Product, error)
}

// OrderRepository persists orders and applies their single terminal transition.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]domain.Order, error)
	FindByProduct(ctx context.Context, productID string) ([]domain.Order, error)
	// FindByStaff returns orders containing lines for products owned by staffID, with every other line removed.
	FindByStaff(ctx context.Context, staffID string) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Transition applies change only when the stored order is still pending. A non-pending order
	// yields a *TransitionError carrying the current status.
	Transition(ctx context.Context, orderID string, change OrderTransition) (domain.Order, error)
}

// ProductOwnership resolves the products a staff member owns. Order stores use it for staff projections.
type ProductOwnership interface {
	ListByStaff(ctx context.Context, staffID string) ([]domain.Product, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Category   *string
	Tag        *string
	StaffID    *string
	Price      domain.RangeQuery[int64]
	SortBy     domain.ProductSort
	SortOrder  domain.SortOrder
	Pagination domain.Pagination
}

// ProductPatch lists editable catalog fields. Nil pointers leave the stored value untouched.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *int64
	Stock       *int
	SKU         *string
	Image       *string
	Category    *string
	Tags        *[]string
}

// Empty reports whether the patch changes nothing.
func (p ProductPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil && p.Stock == nil &&
		p.SKU == nil && p.Image == nil && p.Category == nil && p.Tags == nil
}

// Apply copies the set fields onto product and stamps ModifiedAt.
func (p ProductPatch) Apply(product *domain.Product, now time.Time) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.Stock != nil {
		product.Stock = *p.Stock
	}
	if p.SKU != nil {
		product.SKU = *p.SKU
	}
	if p.Image != nil {
		product.Image = *p.Image
	}
	if p.Category != nil {
		product.Category = *p.Category
	}
	if p.Tags != nil {
		product.Tags = append([]string(nil), (*p.Tags)...)
	}
	modified := now.UTC()
	product.ModifiedAt = &modified
}

// OrderListFilter narrows the administrative order listing.
type OrderListFilter struct {
	Status     []string
	Pagination domain.Pagination
}

// OrderTransition carries the only fields an order may change when leaving pending.
type OrderTransition struct {
	Status     domain.OrderStatus
	Frozen     []domain.FrozenLine
	TotalPrice *int64
	At         time.Time
}

// Apply copies the transition onto order. Callers must have verified the order is pending.
func (t OrderTransition) Apply(order *domain.Order) {
	order.Status = t.Status
	if t.Status == domain.OrderStatusCompleted {
		order.Frozen = append([]domain.FrozenLine(nil), t.Frozen...)
		if t.TotalPrice != nil {
			total := *t.TotalPrice
			order.TotalPrice = &total
		}
	}
	at := t.At.UTC()
	order.ModifiedAt = &at
}
