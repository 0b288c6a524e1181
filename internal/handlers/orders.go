package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

// OrderHandlers exposes the order lifecycle and the order projections to authenticated callers.
type OrderHandlers struct {
	authn            *auth.Authenticator
	orders           services.OrderService
	writeMiddlewares []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderWriteMiddlewares wraps the mutating order routes, after authentication has run.
func WithOrderWriteMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		for _, m := range mw {
			if m != nil {
				h.writeMiddlewares = append(h.writeMiddlewares, m)
			}
		}
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	writes := r.With(h.writeMiddlewares...)

	writes.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/by-customer/{customerID}", h.listByCustomer)
	r.Get("/by-staff/{staffID}", h.listByStaff)
	r.Get("/by-product/{productID}", h.listByProduct)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/quote", h.quoteOrder)
	writes.Post("/{orderID}:complete", h.completeOrder)
	writes.Post("/{orderID}:cancel", h.cancelOrder)
}

type createOrderRequest struct {
	CustomerID string             `json:"customer_id" validate:"omitempty,max=128"`
	Lines      []orderLineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"gt=0,max=1000000"`
}

type orderLinePayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name,omitempty"`
	Price     *int64 `json:"price,omitempty"`
	Image     string `json:"image,omitempty"`
}

type orderPayload struct {
	ID         string             `json:"id"`
	CustomerID string             `json:"customer_id"`
	Status     string             `json:"status"`
	Lines      []orderLinePayload `json:"lines"`
	TotalPrice *int64             `json:"total_price,omitempty"`
	CreatedAt  string             `json:"created_at"`
	UpdatedAt  string             `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderQuoteResponse struct {
	OrderID string             `json:"order_id"`
	Status  string             `json:"status"`
	Lines   []orderLinePayload `json:"lines"`
	Total   int64              `json:"total"`
	Frozen  bool               `json:"frozen"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	lines := make([]services.OrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.OrderLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		Principal:  identity,
		CustomerID: strings.TrimSpace(req.CustomerID),
		Lines:      lines,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, identity, services.OrderListFilter{
		Status: parseFilterValues(query["status"]),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) listByCustomer(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	h.listProjection(w, r, "customerID", h.orders.FindByCustomer)
}

func (h *OrderHandlers) listByStaff(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	h.listProjection(w, r, "staffID", h.orders.FindByStaff)
}

func (h *OrderHandlers) listByProduct(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	h.listProjection(w, r, "productID", h.orders.FindByProduct)
}

func (h *OrderHandlers) unavailable(w http.ResponseWriter, r *http.Request) bool {
	if h.orders != nil {
		return false
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	return true
}

type orderProjection func(ctx context.Context, principal *auth.Identity, id string) ([]services.Order, error)

func (h *OrderHandlers) listProjection(w http.ResponseWriter, r *http.Request, param string, find orderProjection) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "id is required", http.StatusBadRequest))
		return
	}

	orders, err := find(ctx, identity, id)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, identity, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) quoteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	quote, err := h.orders.Quote(ctx, identity, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderQuoteResponse{
		OrderID: quote.OrderID,
		Status:  string(quote.Status),
		Lines:   buildFrozenLinePayloads(quote.Lines),
		Total:   quote.Total,
		Frozen:  quote.Frozen,
	})
}

func (h *OrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	h.transition(w, r, h.orders.Complete)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if h.unavailable(w, r) {
		return
	}
	h.transition(w, r, h.orders.Cancel)
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.OrderTransitionCommand) (services.Order, error)) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	ctx = requestctx.With(ctx, zap.String("order_id", orderID))

	order, err := apply(ctx, services.OrderTransitionCommand{
		Principal: identity,
		OrderID:   orderID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// buildOrderPayload reports frozen lines for completed orders and plain references otherwise.
func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTimePointer(order.ModifiedAt),
	}
	if order.TotalPrice != nil {
		total := *order.TotalPrice
		payload.TotalPrice = &total
	}
	if len(order.Frozen) > 0 {
		payload.Lines = buildFrozenLinePayloads(order.Frozen)
		return payload
	}
	payload.Lines = make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}
	return payload
}

func buildFrozenLinePayloads(lines []services.FrozenLine) []orderLinePayload {
	payloads := make([]orderLinePayload, 0, len(lines))
	for _, line := range lines {
		price := line.Price
		payloads = append(payloads, orderLinePayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     &price,
			Image:     line.Image,
		})
	}
	return payloads
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	var refErr *services.ProductReferenceError
	var stateErr *services.OrderStateError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"product_id": stockErr.ProductID,
				"requested":  stockErr.Requested,
				"available":  stockErr.Available,
			}))
		return
	case errors.As(err, &refErr):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound).
			WithDetails(map[string]any{"product_id": refErr.ProductID}))
		return
	case errors.As(err, &stateErr):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{"current_status": string(stateErr.Current)}))
		return
	}

	if writeAccessError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPricingProductMissing):
		httpx.WriteError(ctx, w, httpx.NewError("order_product_missing", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInconsistent):
		requestctx.Logger(ctx).Error("order state inconsistent", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_inconsistent", "order state is inconsistent", http.StatusInternalServerError))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
