package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const firestoreHealthTimeout = 1500 * time.Millisecond

// Registry wires the Firestore catalog and order stores behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	catalog  *ProductRepository
	orders   *OrderRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the Firestore stores. extraChecks are probed next to the Firestore ping on
// readiness requests.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	catalog, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider, catalog)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: firestoreHealthTimeout,
		Check:   provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, catalog: catalog, orders: orders, health: health}, nil
}

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn without a surrounding Firestore transaction. Stock and order mutations commit
// their own per-document transactions, and a Firestore transaction cannot span them since it
// requires every read before the first write.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
