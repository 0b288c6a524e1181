package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

// CatalogRepository keeps products in a mutex guarded map. Each stock mutation holds the lock for
// exactly one product, matching the per-document atomicity of the Firestore store.
type CatalogRepository struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs an empty catalog, optionally seeded.
func NewCatalogRepository(seed ...domain.Product) *CatalogRepository {
	repo := &CatalogRepository{products: make(map[string]domain.Product, len(seed))}
	for _, product := range seed {
		repo.products[product.ID] = cloneProduct(product)
	}
	return repo
}

func (r *CatalogRepository) Insert(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errConflict("catalog.insert", "product id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.products[product.ID]; exists {
		return errConflict("catalog.insert", "product %s already exists", product.ID)
	}
	r.products[product.ID] = cloneProduct(product)
	return nil
}

func (r *CatalogRepository) Update(_ context.Context, productID string, patch repositories.ProductPatch, now time.Time) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, exists := r.products[productID]
	if !exists {
		return domain.Product{}, errNotFound("catalog.update", "product %s not found", productID)
	}
	patch.Apply(&product, now)
	r.products[productID] = product
	return cloneProduct(product), nil
}

func (r *CatalogRepository) Delete(_ context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.products[productID]; !exists {
		return errNotFound("catalog.delete", "product %s not found", productID)
	}
	delete(r.products, productID)
	return nil
}

func (r *CatalogRepository) Get(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, errNotFound("catalog.get", "product %s not found", productID)
	}
	return cloneProduct(product), nil
}

func (r *CatalogRepository) GetMany(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.products[id]; ok {
			result[id] = cloneProduct(product)
		}
	}
	return result, nil
}

func (r *CatalogRepository) ListByStaff(_ context.Context, staffID string) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.Product
	for _, product := range r.products {
		if product.StaffID == staffID {
			result = append(result, cloneProduct(product))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *CatalogRepository) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	r.mu.RLock()
	matched := make([]domain.Product, 0, len(r.products))
	for _, product := range r.products {
		if matchesProductFilter(product, filter) {
			matched = append(matched, cloneProduct(product))
		}
	}
	r.mu.RUnlock()

	sortProducts(matched, filter.SortBy, filter.SortOrder)

	items, next, err := pagination.Window(matched, func(p domain.Product) string { return p.ID }, filter.Pagination.PageSize, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: next}, nil
}

func (r *CatalogRepository) CheckStock(_ context.Context, lines []domain.OrderLine) error {
	if err := repositories.CheckLineQuantities("catalog.check_stock", lines); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, line := range lines {
		product, ok := r.products[line.ProductID]
		if !ok {
			return &repositories.StockError{Op: "catalog.check_stock", ProductID: line.ProductID, Requested: line.Quantity, Missing: true}
		}
		if product.Stock < line.Quantity {
			return &repositories.StockError{Op: "catalog.check_stock", ProductID: line.ProductID, Requested: line.Quantity, Available: product.Stock}
		}
	}
	return nil
}

func (r *CatalogRepository) CheckAndDecrementStock(_ context.Context, lines []domain.OrderLine, now time.Time) ([]domain.Product, error) {
	if err := repositories.CheckLineQuantities("catalog.decrement_stock", lines); err != nil {
		return nil, err
	}
	updated := make([]domain.Product, 0, len(lines))
	for _, line := range lines {
		product, err := r.decrementOne(line, now)
		if err != nil {
			return nil, err
		}
		updated = append(updated, product)
	}
	return updated, nil
}

func (r *CatalogRepository) decrementOne(line domain.OrderLine, now time.Time) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[line.ProductID]
	if !ok {
		return domain.Product{}, &repositories.StockError{Op: "catalog.decrement_stock", ProductID: line.ProductID, Requested: line.Quantity, Missing: true}
	}
	if product.Stock < line.Quantity {
		return domain.Product{}, &repositories.StockError{Op: "catalog.decrement_stock", ProductID: line.ProductID, Requested: line.Quantity, Available: product.Stock}
	}
	product.Stock -= line.Quantity
	product.SalesCount += line.Quantity
	modified := now.UTC()
	product.ModifiedAt = &modified
	r.products[line.ProductID] = product
	return cloneProduct(product), nil
}

func matchesProductFilter(product domain.Product, filter repositories.ProductListFilter) bool {
	if filter.Category != nil && product.Category != *filter.Category {
		return false
	}
	if filter.StaffID != nil && product.StaffID != *filter.StaffID {
		return false
	}
	if filter.Tag != nil {
		found := false
		for _, tag := range product.Tags {
			if tag == *filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Price.From != nil && product.Price < *filter.Price.From {
		return false
	}
	if filter.Price.To != nil && product.Price > *filter.Price.To {
		return false
	}
	return true
}

func sortProducts(products []domain.Product, by domain.ProductSort, order domain.SortOrder) {
	desc := order != domain.SortAsc
	less := func(a, b domain.Product) (bool, bool) {
		switch by {
		case domain.ProductSortPrice:
			return a.Price < b.Price, a.Price == b.Price
		case domain.ProductSortName:
			return a.Name < b.Name, a.Name == b.Name
		case domain.ProductSortSalesCount:
			return a.SalesCount < b.SalesCount, a.SalesCount == b.SalesCount
		default:
			return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		lt, eq := less(products[i], products[j])
		if eq {
			return products[i].ID < products[j].ID
		}
		if desc {
			return !lt
		}
		return lt
	})
}

func cloneProduct(product domain.Product) domain.Product {
	if product.Tags != nil {
		product.Tags = append([]string(nil), product.Tags...)
	}
	if product.ModifiedAt != nil {
		modified := *product.ModifiedAt
		product.ModifiedAt = &modified
	}
	return product
}
