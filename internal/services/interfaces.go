package services

import (
	"context"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	ProductSort        = domain.ProductSort
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	FrozenLine         = domain.FrozenLine
	OrderStatus        = domain.OrderStatus
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService drives the order lifecycle: creation, the terminal transitions and the read projections.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Complete(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Get(ctx context.Context, principal *auth.Identity, orderID string) (Order, error)
	Quote(ctx context.Context, principal *auth.Identity, orderID string) (OrderQuote, error)
	FindByCustomer(ctx context.Context, principal *auth.Identity, customerID string) ([]Order, error)
	FindByProduct(ctx context.Context, principal *auth.Identity, productID string) ([]Order, error)
	FindByStaff(ctx context.Context, principal *auth.Identity, staffID string) ([]Order, error)
	List(ctx context.Context, principal *auth.Identity, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// CatalogService exposes product CRUD to the routing layer.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
}

// PricingEngine derives totals and line snapshots by joining order lines to the catalog.
type PricingEngine interface {
	ComputeTotal(ctx context.Context, orderID string) (int64, error)
	SnapshotLineDetails(ctx context.Context, orderID string) ([]FrozenLine, error)
	Quote(ctx context.Context, order Order) (OrderQuote, error)
}

// OrderNotifier delivers completion notices. Calls are best effort and never gate a transition.
type OrderNotifier interface {
	NotifyOrderCompleted(ctx context.Context, notification OrderCompletedNotification) error
}

// SystemService exposes health metadata for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateOrderCommand places a pending order. CustomerID defaults to the principal; only admins may
// place orders for someone else.
type CreateOrderCommand struct {
	Principal  *auth.Identity
	CustomerID string
	Lines      []OrderLine
}

// OrderTransitionCommand identifies the order to complete or cancel.
type OrderTransitionCommand struct {
	Principal *auth.Identity
	OrderID   string
}

// OrderListFilter narrows the administrative order listing.
type OrderListFilter struct {
	Status     []string
	Pagination Pagination
}

// OrderQuote is the priced view of an order. Completed orders report their frozen snapshot.
type OrderQuote struct {
	OrderID string
	Status  OrderStatus
	Lines   []FrozenLine
	Total   int64
	Frozen  bool
}

// OrderCompletedNotification is the payload handed to notifiers once an order completes.
type OrderCompletedNotification struct {
	OrderID     string
	CustomerID  string
	TotalPrice  int64
	Lines       []FrozenLine
	CompletedAt time.Time
}

// ProductFilter narrows public catalog listings.
type ProductFilter struct {
	Category   *string
	Tag        *string
	StaffID    *string
	MinPrice   *int64
	MaxPrice   *int64
	SortBy     ProductSort
	SortOrder  SortOrder
	Pagination Pagination
}

// ProductInput carries editable product fields. Nil pointers are left untouched on update.
type ProductInput struct {
	Name        *string
	Description *string
	Price       *int64
	Stock       *int
	SKU         *string
	Image       *string
	Category    *string
	Tags        *[]string
}

// CreateProductCommand adds a product owned by the principal, or by StaffID when an admin acts.
type CreateProductCommand struct {
	Principal *auth.Identity
	StaffID   string
	Input     ProductInput
}

// UpdateProductCommand patches a product; the owning staff member or an admin may edit.
type UpdateProductCommand struct {
	Principal *auth.Identity
	ProductID string
	Input     ProductInput
}

// DeleteProductCommand removes a product. Admin only.
type DeleteProductCommand struct {
	Principal *auth.Identity
	ProductID string
}
