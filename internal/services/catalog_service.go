package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	maxProductNameLength        = 200
	maxProductDescriptionLength = 5000
	maxProductTags              = 20

	catalogEventCreated = "catalog.product.created"
	catalogEventUpdated = "catalog.product.updated"
	catalogEventDeleted = "catalog.product.deleted"
)

// CatalogServiceDeps bundles collaborators required to construct a catalog service.
type CatalogServiceDeps struct {
	Catalog         repositories.CatalogRepository
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
	DefaultPageSize int
	MaxPageSize     int
}

type catalogService struct {
	catalog  repositories.CatalogRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	pageSize int
	maxPage  int
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	pageSize := deps.DefaultPageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	maxPage := deps.MaxPageSize
	if maxPage <= 0 {
		maxPage = pagination.DefaultMaxPageSize
	}
	if pageSize > maxPage {
		pageSize = maxPage
	}
	return &catalogService{
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		pageSize: pageSize,
		maxPage:  maxPage,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	policy := NewAccessPolicy(cmd.Principal)
	if err := policy.RequireStaff(); err != nil {
		return Product{}, err
	}
	staffID := policy.SubjectID()
	if requested := strings.TrimSpace(cmd.StaffID); requested != "" && requested != staffID {
		if !policy.IsAdmin() {
			return Product{}, fmt.Errorf("%w: only admins may create products for other staff", ErrForbidden)
		}
		staffID = requested
	}

	input := normalizeProductInput(cmd.Input)
	if input.Name == nil || *input.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if input.Price == nil {
		return Product{}, fmt.Errorf("%w: price is required", ErrCatalogInvalidInput)
	}
	if err := validateProductInput(input); err != nil {
		return Product{}, err
	}

	now := s.clock()
	product := Product{
		ID:        productIDPrefix + s.newID(),
		StaffID:   staffID,
		CreatedAt: now,
	}
	patchFromInput(input).Apply(&product, now)
	product.ModifiedAt = nil

	if err := s.catalog.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, catalogEventCreated, map[string]any{
		"productID": product.ID,
		"staffID":   product.StaffID,
		"price":     product.Price,
		"stock":     product.Stock,
	})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	policy := NewAccessPolicy(cmd.Principal)
	if err := policy.RequireStaff(); err != nil {
		return Product{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	input := normalizeProductInput(cmd.Input)
	if input.Name != nil && *input.Name == "" {
		return Product{}, fmt.Errorf("%w: name cannot be empty", ErrCatalogInvalidInput)
	}
	if err := validateProductInput(input); err != nil {
		return Product{}, err
	}
	patch := patchFromInput(input)
	if patch.Empty() {
		return Product{}, fmt.Errorf("%w: no fields to update", ErrCatalogInvalidInput)
	}

	existing, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if err := policy.RequireOwnerOrAdmin(existing.StaffID); err != nil {
		return Product{}, err
	}

	updated, err := s.catalog.Update(ctx, productID, patch, s.clock())
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, catalogEventUpdated, map[string]any{
		"productID": updated.ID,
		"actorID":   policy.SubjectID(),
	})
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	policy := NewAccessPolicy(cmd.Principal)
	if err := policy.RequireAdmin(); err != nil {
		return err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.catalog.Delete(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, catalogEventDeleted, map[string]any{
		"productID": productID,
		"actorID":   policy.SubjectID(),
	})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	if filter.MinPrice != nil && *filter.MinPrice < 0 {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: min price must be non-negative", ErrCatalogInvalidInput)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: min price exceeds max price", ErrCatalogInvalidInput)
	}

	repoFilter := repositories.ProductListFilter{
		Category:  normalizeKeywordPointer(filter.Category),
		Tag:       normalizeKeywordPointer(filter.Tag),
		StaffID:   normalizeFilterPointer(filter.StaffID),
		Price:     domain.RangeQuery[int64]{From: filter.MinPrice, To: filter.MaxPrice},
		SortBy:    normalizeProductSort(filter.SortBy),
		SortOrder: normalizeSortOrder(filter.SortOrder),
		Pagination: Pagination{
			PageSize:  s.clampPageSize(filter.Pagination.PageSize),
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	}
	page, err := s.catalog.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) clampPageSize(size int) int {
	switch {
	case size <= 0:
		return s.pageSize
	case size > s.maxPage:
		return s.maxPage
	default:
		return size
	}
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("catalog: %w", err)
}

func normalizeProductInput(input ProductInput) ProductInput {
	if input.Name != nil {
		name := textutil.PlainText(*input.Name)
		input.Name = &name
	}
	if input.Description != nil {
		description := textutil.RichText(*input.Description)
		input.Description = &description
	}
	if input.SKU != nil {
		sku := strings.ToUpper(textutil.PlainText(*input.SKU))
		input.SKU = &sku
	}
	if input.Image != nil {
		image := strings.TrimSpace(*input.Image)
		input.Image = &image
	}
	if input.Category != nil {
		category := textutil.Keyword(*input.Category)
		input.Category = &category
	}
	if input.Tags != nil {
		tags := textutil.Keywords(*input.Tags)
		input.Tags = &tags
	}
	return input
}

func validateProductInput(input ProductInput) error {
	if input.Name != nil && len([]rune(*input.Name)) > maxProductNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	}
	if input.Description != nil && len([]rune(*input.Description)) > maxProductDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescriptionLength)
	}
	if input.Price != nil && *input.Price < 0 {
		return fmt.Errorf("%w: price must be non-negative", ErrCatalogInvalidInput)
	}
	if input.Stock != nil && *input.Stock < 0 {
		return fmt.Errorf("%w: stock must be non-negative", ErrCatalogInvalidInput)
	}
	if input.Tags != nil && len(*input.Tags) > maxProductTags {
		return fmt.Errorf("%w: at most %d tags are allowed", ErrCatalogInvalidInput, maxProductTags)
	}
	return nil
}

func patchFromInput(input ProductInput) repositories.ProductPatch {
	return repositories.ProductPatch{
		Name:        input.Name,
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		SKU:         input.SKU,
		Image:       input.Image,
		Category:    input.Category,
		Tags:        input.Tags,
	}
}

func normalizeFilterPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeKeywordPointer(value *string) *string {
	if value == nil {
		return nil
	}
	keyword := textutil.Keyword(*value)
	if keyword == "" {
		return nil
	}
	return &keyword
}

func normalizeProductSort(sort ProductSort) ProductSort {
	switch ProductSort(strings.ToLower(strings.TrimSpace(string(sort)))) {
	case domain.ProductSortPrice:
		return domain.ProductSortPrice
	case domain.ProductSortName:
		return domain.ProductSortName
	case domain.ProductSortSalesCount:
		return domain.ProductSortSalesCount
	default:
		return domain.ProductSortCreatedAt
	}
}

func normalizeSortOrder(order SortOrder) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(string(order)))) {
	case domain.SortAsc:
		return domain.SortAsc
	default:
		return domain.SortDesc
	}
}
