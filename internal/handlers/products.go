package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

var productOrderFields = []string{
	string(domain.ProductSortCreatedAt),
	string(domain.ProductSortPrice),
	string(domain.ProductSortName),
	string(domain.ProductSortSalesCount),
}

// ProductHandlers serves the public catalog and the staff product editor.
type ProductHandlers struct {
	authn       *auth.Authenticator
	catalog     services.CatalogService
	pageSize    int
	maxPageSize int
}

// ProductHandlersOption customises ProductHandlers.
type ProductHandlersOption func(*ProductHandlers)

// WithProductPaging overrides the default and maximum listing page sizes.
func WithProductPaging(defaultSize, maxSize int) ProductHandlersOption {
	return func(h *ProductHandlers) {
		if defaultSize > 0 {
			h.pageSize = defaultSize
		}
		if maxSize > 0 {
			h.maxPageSize = maxSize
		}
	}
}

// NewProductHandlers constructs catalog handlers.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, opts ...ProductHandlersOption) *ProductHandlers {
	h := &ProductHandlers{
		authn:       authn,
		catalog:     catalog,
		pageSize:    pagination.DefaultPageSize,
		maxPageSize: pagination.DefaultMaxPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /products endpoints. Reads are public; writes need a staff or admin token.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
	r.Group(func(protected chi.Router) {
		if h.authn != nil {
			protected.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		protected.Post("/", h.createProduct)
		protected.Patch("/{productID}", h.updateProduct)
		protected.Delete("/{productID}", h.deleteProduct)
	})
}

type createProductRequest struct {
	StaffID     string   `json:"staff_id" validate:"omitempty,max=128"`
	Name        *string  `json:"name" validate:"required,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=5000"`
	Price       *int64   `json:"price" validate:"required,gte=0"`
	Stock       *int     `json:"stock" validate:"omitempty,gte=0"`
	SKU         *string  `json:"sku" validate:"omitempty,max=64"`
	Image       *string  `json:"image" validate:"omitempty,max=2048"`
	Category    *string  `json:"category" validate:"omitempty,max=64"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,max=64"`
}

type updateProductRequest struct {
	Name        *string  `json:"name" validate:"omitempty,max=200"`
	Description *string  `json:"description" validate:"omitempty,max=5000"`
	Price       *int64   `json:"price" validate:"omitempty,gte=0"`
	Stock       *int     `json:"stock" validate:"omitempty,gte=0"`
	SKU         *string  `json:"sku" validate:"omitempty,max=64"`
	Image       *string  `json:"image" validate:"omitempty,max=2048"`
	Category    *string  `json:"category" validate:"omitempty,max=64"`
	Tags        []string `json:"tags" validate:"omitempty,max=20,dive,max=64"`
}

func (req updateProductRequest) input() services.ProductInput {
	input := services.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		SKU:         req.SKU,
		Image:       req.Image,
		Category:    req.Category,
	}
	if req.Tags != nil {
		tags := append([]string(nil), req.Tags...)
		input.Tags = &tags
	}
	return input
}

type productPayload struct {
	ID          string   `json:"id"`
	StaffID     string   `json:"staff_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       int64    `json:"price"`
	Stock       int      `json:"stock"`
	SKU         string   `json:"sku,omitempty"`
	Image       string   `json:"image,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SalesCount  int      `json:"sales_count"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize:    h.pageSize,
		MaxPageSize:        h.maxPageSize,
		AllowedOrderFields: productOrderFields,
		DefaultOrderBy:     string(domain.ProductSortCreatedAt),
		DefaultDesc:        true,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductFilter{
		SortBy:    services.ProductSort(params.OrderBy),
		SortOrder: domain.SortAsc,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if params.Desc {
		filter.SortOrder = domain.SortDesc
	}
	if value := strings.TrimSpace(query.Get("category")); value != "" {
		filter.Category = &value
	}
	if value := strings.TrimSpace(query.Get("tag")); value != "" {
		filter.Tag = &value
	}
	if value := strings.TrimSpace(query.Get("staff_id")); value != "" {
		filter.StaffID = &value
	}
	for _, bound := range []struct {
		name string
		dst  **int64
	}{
		{name: "min_price", dst: &filter.MinPrice},
		{name: "max_price", dst: &filter.MaxPrice},
	} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", bound.name+" must be an integer", http.StatusBadRequest))
			return
		}
		*bound.dst = &value
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createProductRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	input := updateProductRequest{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		SKU:         req.SKU,
		Image:       req.Image,
		Category:    req.Category,
		Tags:        req.Tags,
	}.input()

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Principal: identity,
		StaffID:   strings.TrimSpace(req.StaffID),
		Input:     input,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	ctx = requestctx.With(ctx, zap.String("product_id", productID))

	var req updateProductRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		Principal: identity,
		ProductID: productID,
		Input:     req.input(),
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	ctx = requestctx.With(ctx, zap.String("product_id", productID))

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{
		Principal: identity,
		ProductID: productID,
	}); err != nil {
		writeProductError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          product.ID,
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
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTimePointer(product.ModifiedAt),
	}
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeAccessError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", err.Error(), http.StatusConflict))
	default:
		requestctx.Logger(ctx).Error("catalog request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
