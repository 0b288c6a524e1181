package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository stores catalog products in Firestore. Stock mutations run one transaction per
// product document.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

var _ repositories.CatalogRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed catalog.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.products.Create(ctx, product.ID, encodeProduct(product))
}

func (r *ProductRepository) Update(ctx context.Context, productID string, patch repositories.ProductPatch, now time.Time) (domain.Product, error) {
	ref, err := r.products.Ref(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	var updated domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound("products.update", err)
			}
			return err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		product := doc.Data.toDomain(doc.ID)
		patch.Apply(&product, now)
		if err := tx.Set(ref, encodeProduct(product)); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.update", err)
	}
	return updated, nil
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	return r.products.Delete(ctx, productID)
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.products.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		result[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return result, nil
}

func (r *ProductRepository) ListByStaff(ctx context.Context, staffID string) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("staffId", "==", staffID).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

// List applies equality filters and the price range server side. A price range forces ordering by
// price since Firestore requires the inequality field to lead the ordering.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	after, err := cursorSnapshot(ctx, r.products, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	size := pageSize(filter.Pagination.PageSize)
	field := productSortField(filter.SortBy)
	if filter.Price.From != nil || filter.Price.To != nil {
		field = "price"
	}
	dir := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		dir = firestore.Asc
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Category != nil {
			q = q.Where("category", "==", *filter.Category)
		}
		if filter.StaffID != nil {
			q = q.Where("staffId", "==", *filter.StaffID)
		}
		if filter.Tag != nil {
			q = q.Where("tags", "array-contains", *filter.Tag)
		}
		if filter.Price.From != nil {
			q = q.Where("price", ">=", *filter.Price.From)
		}
		if filter.Price.To != nil {
			q = q.Where("price", "<=", *filter.Price.To)
		}
		q = q.OrderBy(field, dir).OrderBy(firestore.DocumentID, dir)
		if after != nil {
			q = q.StartAfter(after)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, next := trimPage(docs, size)
	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: next}, nil
}

func (r *ProductRepository) CheckStock(ctx context.Context, lines []domain.OrderLine) error {
	if err := repositories.CheckLineQuantities("products.check_stock", lines); err != nil {
		return err
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := r.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return &repositories.StockError{Op: "products.check_stock", ProductID: line.ProductID, Requested: line.Quantity, Missing: true}
		}
		if product.Stock < line.Quantity {
			return &repositories.StockError{Op: "products.check_stock", ProductID: line.ProductID, Requested: line.Quantity, Available: product.Stock}
		}
	}
	return nil
}

// CheckAndDecrementStock commits each line in its own transaction. Earlier lines stay decremented
// when a later line fails.
func (r *ProductRepository) CheckAndDecrementStock(ctx context.Context, lines []domain.OrderLine, now time.Time) ([]domain.Product, error) {
	if err := repositories.CheckLineQuantities("products.decrement_stock", lines); err != nil {
		return nil, err
	}
	updated := make([]domain.Product, 0, len(lines))
	for _, line := range lines {
		product, err := r.decrementOne(ctx, line, now)
		if err != nil {
			return nil, err
		}
		updated = append(updated, product)
	}
	return updated, nil
}

func (r *ProductRepository) decrementOne(ctx context.Context, line domain.OrderLine, now time.Time) (domain.Product, error) {
	const op = "products.decrement_stock"
	ref, err := r.products.Ref(ctx, line.ProductID)
	if err != nil {
		return domain.Product{}, &repositories.StockError{Op: op, ProductID: line.ProductID, Requested: line.Quantity, Missing: true}
	}

	var updated domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return &repositories.StockError{Op: op, ProductID: line.ProductID, Requested: line.Quantity, Missing: true}
			}
			return err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		if doc.Data.Stock < line.Quantity {
			return &repositories.StockError{Op: op, ProductID: line.ProductID, Requested: line.Quantity, Available: doc.Data.Stock}
		}

		modified := now.UTC()
		doc.Data.Stock -= line.Quantity
		doc.Data.SalesCount += line.Quantity
		doc.Data.ModifiedAt = &modified
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: doc.Data.Stock},
			{Path: "salesCount", Value: doc.Data.SalesCount},
			{Path: "modifiedAt", Value: modified},
		}); err != nil {
			return err
		}
		updated = doc.Data.toDomain(doc.ID)
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

func productSortField(sort domain.ProductSort) string {
	switch sort {
	case domain.ProductSortPrice:
		return "price"
	case domain.ProductSortName:
		return "name"
	case domain.ProductSortSalesCount:
		return "salesCount"
	default:
		return "createdAt"
	}
}

type productDocument struct {
	StaffID     string     `firestore:"staffId"`
	Name        string     `firestore:"name"`
	Description string     `firestore:"description,omitempty"`
	Price       int64      `firestore:"price"`
	Stock       int        `firestore:"stock"`
	SKU         string     `firestore:"sku,omitempty"`
	Image       string     `firestore:"image,omitempty"`
	Category    string     `firestore:"category,omitempty"`
	Tags        []string   `firestore:"tags,omitempty"`
	SalesCount  int        `firestore:"salesCount"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	ModifiedAt  *time.Time `firestore:"modifiedAt,omitempty"`
}

func encodeProduct(product domain.Product) productDocument {
	return productDocument{
		StaffID:     product.StaffID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Stock:       product.Stock,
		SKU:         product.SKU,
		Image:       product.Image,
		Category:    product.Category,
		Tags:        append([]string(nil), product.Tags...),
		SalesCount:  product.SalesCount,
		CreatedAt:   product.CreatedAt.UTC(),
		ModifiedAt:  product.ModifiedAt,
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		StaffID:     d.StaffID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		SKU:         d.SKU,
		Image:       d.Image,
		Category:    d.Category,
		Tags:        append([]string(nil), d.Tags...),
		SalesCount:  d.SalesCount,
		CreatedAt:   d.CreatedAt.UTC(),
	}
	if d.ModifiedAt != nil {
		modified := d.ModifiedAt.UTC()
		product.ModifiedAt = &modified
	}
	return product
}
