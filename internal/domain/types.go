package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductSort indicates the field used to order catalog listings.
type ProductSort string

const (
	ProductSortCreatedAt  ProductSort = "created_at"
	ProductSortPrice      ProductSort = "price"
	ProductSortName       ProductSort = "name"
	ProductSortSalesCount ProductSort = "sales_count"
)

// Product is a catalog record owned by a staff member. Price is expressed in minor currency units.
type Product struct {
	ID          string
	StaffID     string
	Name        string
	Description string
	Price       int64
	Stock       int
	SKU         string
	Image       string
	Category    string
	Tags        []string
	SalesCount  int
	CreatedAt   time.Time
	ModifiedAt  *time.Time
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state; stock has been checked but not decremented.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted is terminal; stock was decremented and lines were frozen.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal and carries no stock side effects.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// MaxOrderLineQuantity caps a single line, including lines merged from repeated products.
const MaxOrderLineQuantity = 1_000_000

// OrderLine references a catalog product and the requested quantity while an order is pending.
type OrderLine struct {
	ProductID string
	Quantity  int
}

// FrozenLine is the snapshot of a line taken when the order completed. It is immune to later catalog edits.
type FrozenLine struct {
	ProductID string
	Quantity  int
	Name      string
	Price     int64
	Image     string
}

// Order captures a customer order. Frozen and TotalPrice are only populated once the order is completed.
type Order struct {
	ID         string
	CustomerID string
	Status     OrderStatus
	Lines      []OrderLine
	Frozen     []FrozenLine
	TotalPrice *int64
	CreatedAt  time.Time
	ModifiedAt *time.Time
}

// ProductIDs returns the distinct product references of the order in line order.
func (o Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Lines)+len(o.Frozen))
	ids := make([]string, 0, len(o.Lines)+len(o.Frozen))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, line := range o.Lines {
		add(line.ProductID)
	}
	for _, line := range o.Frozen {
		add(line.ProductID)
	}
	return ids
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
