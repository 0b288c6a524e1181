package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// PricingEngineDeps bundles the stores the engine joins across.
type PricingEngineDeps struct {
	Orders  repositories.OrderRepository
	Catalog repositories.CatalogRepository
}

type pricingEngine struct {
	orders  repositories.OrderRepository
	catalog repositories.CatalogRepository
}

var _ PricingEngine = (*pricingEngine)(nil)

// NewPricingEngine constructs the catalog join used for totals and line snapshots.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Orders == nil {
		return nil, errors.New("pricing engine: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog repository is required")
	}
	return &pricingEngine{orders: deps.Orders, catalog: deps.Catalog}, nil
}

// ComputeTotal prices the order against the current catalog.
func (e *pricingEngine) ComputeTotal(ctx context.Context, orderID string) (int64, error) {
	quote, err := e.quoteByID(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return quote.Total, nil
}

// SnapshotLineDetails projects the order's lines with current name, price and image.
func (e *pricingEngine) SnapshotLineDetails(ctx context.Context, orderID string) ([]FrozenLine, error) {
	quote, err := e.quoteByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return quote.Lines, nil
}

// Quote prices pending orders live from one catalog read. Completed orders return their frozen
// snapshot and total; later catalog edits never reach them.
func (e *pricingEngine) Quote(ctx context.Context, order Order) (OrderQuote, error) {
	quote := OrderQuote{OrderID: order.ID, Status: order.Status}
	if order.Status == domain.OrderStatusCompleted && order.TotalPrice != nil {
		quote.Lines = append([]FrozenLine(nil), order.Frozen...)
		quote.Total = *order.TotalPrice
		quote.Frozen = true
		return quote, nil
	}

	ids := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := e.catalog.GetMany(ctx, ids)
	if err != nil {
		return OrderQuote{}, fmt.Errorf("pricing: load products: %w", mapPricingRepositoryError(err))
	}
	join := repositories.JoinProducts(products)

	lines, err := projectLines(join, order.Lines)
	if err != nil {
		return OrderQuote{}, err
	}
	total, err := totalLines(join, order.Lines)
	if err != nil {
		return OrderQuote{}, err
	}
	quote.Lines = lines
	quote.Total = total
	return quote, nil
}

func (e *pricingEngine) quoteByID(ctx context.Context, orderID string) (OrderQuote, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderQuote{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := e.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return OrderQuote{}, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		}
		return OrderQuote{}, mapPricingRepositoryError(err)
	}
	return e.Quote(ctx, order)
}

// TotalFromCatalog sums quantity times price over products, typically the snapshot returned by the
// stock decrement so that pricing and stock agree on one read.
func TotalFromCatalog(lines []OrderLine, products []Product) (int64, error) {
	return totalLines(repositories.NewLineJoin(products), lines)
}

// SnapshotFromCatalog freezes lines against products, copying name, price and image.
func SnapshotFromCatalog(lines []OrderLine, products []Product) ([]FrozenLine, error) {
	return projectLines(repositories.NewLineJoin(products), lines)
}

func totalLines(join repositories.LineJoin, lines []OrderLine) (int64, error) {
	total, err := join.Total(lines)
	if err != nil {
		return 0, mapJoinError(err)
	}
	return total, nil
}

func projectLines(join repositories.LineJoin, lines []OrderLine) ([]FrozenLine, error) {
	projected, err := join.Project(lines)
	if err != nil {
		return nil, mapJoinError(err)
	}
	return projected, nil
}

func mapJoinError(err error) error {
	var missing *repositories.MissingProductError
	switch {
	case errors.As(err, &missing):
		return fmt.Errorf("%w: %s", ErrPricingProductMissing, missing.ProductID)
	case errors.Is(err, repositories.ErrJoinOverflow):
		return fmt.Errorf("%w: order total exceeds the supported range", ErrOrderInvalidInput)
	default:
		return fmt.Errorf("pricing: %w", err)
	}
}

func mapPricingRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
