package memory

import (
	"context"

	"github.com/storefront/api/internal/repositories"
)

// Registry bundles the in-memory stores for local development and tests.
type Registry struct {
	catalog *CatalogRepository
	orders  *OrderRepository
	health  repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires an empty catalog and order store. extraChecks join the readiness report.
func NewRegistry(extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	catalog := NewCatalogRepository()
	orders, err := NewOrderRepository(catalog)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{
		{Name: "memory", Check: func(ctx context.Context) error { return ctx.Err() }},
	}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{catalog: catalog, orders: orders, health: health}, nil
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn directly. The memory stores have no rollback.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *Registry) Close(context.Context) error { return nil }
